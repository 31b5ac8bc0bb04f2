// Package domain defines the core persistent entities, typed errors, and
// rule evaluation primitives of the provenance metadata store.
package domain

// EntityType identifies the type of record stored in the core schema.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityAnnotationKey identifies a node in the hierarchical annotation-key namespace.
	EntityAnnotationKey EntityType = "annotation_key"
	// EntityLocation identifies an opaque storage location anchor.
	EntityLocation EntityType = "location"
	// EntityLocationAnnotation identifies a key/value annotation attached to a location.
	EntityLocationAnnotation EntityType = "location_annotation"
	// EntityAnalysis identifies a named, documented analysis run.
	EntityAnalysis EntityType = "analysis"
	// EntityStorageType identifies an entry of the fixed data-representation catalog.
	EntityStorageType EntityType = "storage_type"
	// EntityDataRecord identifies a data artifact bound to a location and storage type.
	EntityDataRecord EntityType = "data"
	// EntityDataAnnotation identifies a key/value annotation attached to a data record.
	EntityDataAnnotation EntityType = "data_annotation"
)

// AnnotationKey is a node in the hierarchical naming taxonomy used to tag
// locations and data records. The parent relation forms a forest; deleting a
// key deletes its descendants and every annotation referencing the closure.
type AnnotationKey struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// Location is an opaque anchor identifying where data physically resides.
// It carries no attributes beyond its identity.
type Location struct {
	ID int64 `json:"id"`
}

// LocationAnnotation attaches a key/value pair to a location. At most one
// annotation exists per (location, key); SetLocationAnnotation replaces.
type LocationAnnotation struct {
	ID         int64  `json:"id"`
	LocationID int64  `json:"location_id"`
	KeyID      int64  `json:"key_id"`
	Value      string `json:"value"`
}

// Analysis describes one processing run and the document recording its
// parameters and results.
type Analysis struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	DocURI string `json:"doc_uri"`
}

// StorageType is one entry of the fixed data-representation catalog seeded at
// store construction (Array, Table, Value, Label). The catalog is immutable
// after boot.
type StorageType struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Format string `json:"format"`
}

// Storage type names of the seeded catalog.
const (
	StorageArray = "Array"
	StorageTable = "Table"
	StorageValue = "Value"
	StorageLabel = "Label"
)

// DataRecord is a data artifact produced at a location, optionally attributed
// to an analysis. The URI locates the actual content; the core never reads it.
type DataRecord struct {
	ID          int64  `json:"id"`
	LocationID  int64  `json:"location_id"`
	TypeID      int64  `json:"type_id"`
	AnalysisID  *int64 `json:"analysis_id,omitempty"`
	MetadataURI string `json:"metadata_uri,omitempty"`
	URI         string `json:"uri"`
}

// DataAnnotation attaches a key/value pair to a data record. Multiple values
// per (data, key) are permitted.
type DataAnnotation struct {
	ID     int64  `json:"id"`
	DataID int64  `json:"data_id"`
	KeyID  int64  `json:"key_id"`
	Value  string `json:"value"`
}

// Change describes a mutation applied to an entity during a transaction,
// including entries produced by cascade deletion.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was replaced in place.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn reports a warning but allows commit.
	SeverityWarn Severity = "warn"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID int64
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by integrity rules"
}
