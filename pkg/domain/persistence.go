package domain

import "context"

// DataRecordSpec carries the caller-supplied fields for creating a data
// record. TypeName is resolved against the storage-type catalog at creation
// time; the stored type reference is immutable afterwards.
type DataRecordSpec struct {
	LocationID  int64
	TypeName    string
	AnalysisID  *int64
	MetadataURI string
	URI         string
}

// Transaction exposes the domain mutations that a persistence implementation
// must support within an atomic scope. Every delete cascades over the full
// dependency closure or fails without effect.
type Transaction interface {
	Snapshot() TransactionView
	CreateAnnotationKey(name string, parentID *int64) (AnnotationKey, error)
	DeleteAnnotationKey(id int64) error
	CreateLocation() (Location, error)
	DeleteLocation(id int64) error
	CreateAnalysis(name, docURI string) (Analysis, error)
	DeleteAnalysis(id int64) error
	SetLocationAnnotation(locationID, keyID int64, value string) (LocationAnnotation, error)
	CreateDataRecord(spec DataRecordSpec) (DataRecord, error)
	DeleteDataRecord(id int64) error
	AddDataAnnotation(dataID, keyID int64, value string) (DataAnnotation, error)
}

// TransactionView provides read-only access to a consistent snapshot. List
// methods return entities in creation order and an empty slice when nothing
// matches.
type TransactionView interface {
	ListAnnotationKeys() []AnnotationKey
	FindAnnotationKey(id int64) (AnnotationKey, bool)
	ResolveAnnotationKeyPath(id int64) ([]string, error)
	ListLocations() []Location
	FindLocation(id int64) (Location, bool)
	ListLocationAnnotations() []LocationAnnotation
	GetLocationAnnotation(locationID, keyID int64) (string, bool)
	ListAnalyses() []Analysis
	FindAnalysis(id int64) (Analysis, bool)
	StorageTypes() []StorageType
	LookupStorageType(name string) (StorageType, bool)
	FindStorageType(id int64) (StorageType, bool)
	ListDataRecords() []DataRecord
	FindDataRecord(id int64) (DataRecord, bool)
	ListDataByLocation(locationID int64) []DataRecord
	ListDataByAnalysis(analysisID int64) []DataRecord
	ListDataAnnotations() []DataAnnotation
	ListDataAnnotationsForData(dataID int64) []DataAnnotation
}

// PersistentStore is a minimal abstraction over durable backends. Mutations
// run serialized through RunInTransaction; View observes only committed
// state, never a partially applied cascade.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
