package core

import "tracecore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	AnnotationKey      = domain.AnnotationKey
	Location           = domain.Location
	LocationAnnotation = domain.LocationAnnotation
	Analysis           = domain.Analysis
	StorageType        = domain.StorageType
	DataRecord         = domain.DataRecord
	DataRecordSpec     = domain.DataRecordSpec
	DataAnnotation     = domain.DataAnnotation
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
)

const (
	EntityAnnotationKey      = domain.EntityAnnotationKey
	EntityLocation           = domain.EntityLocation
	EntityLocationAnnotation = domain.EntityLocationAnnotation
	EntityAnalysis           = domain.EntityAnalysis
	EntityStorageType        = domain.EntityStorageType
	EntityDataRecord         = domain.EntityDataRecord
	EntityDataAnnotation     = domain.EntityDataAnnotation
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
