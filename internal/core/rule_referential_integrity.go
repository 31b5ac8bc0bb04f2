package core

import (
	"context"
	"fmt"

	"tracecore/pkg/domain"
)

// NewReferentialIntegrityRule returns the default in-transaction rule that
// rejects commits leaving dangling references behind. Cascade deletion keeps
// the store consistent; this rule is the backstop that makes a faulty cascade
// fail the transaction instead of corrupting the index.
func NewReferentialIntegrityRule() domain.Rule {
	return referentialIntegrityRule{}
}

type referentialIntegrityRule struct{}

func (referentialIntegrityRule) Name() string { return "referential_integrity" }

func (referentialIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	blocked := func(entity domain.EntityType, id int64, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "referential_integrity",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   entity,
			EntityID: id,
		})
	}

	for _, ann := range view.ListLocationAnnotations() {
		if _, ok := view.FindLocation(ann.LocationID); !ok {
			blocked(domain.EntityLocationAnnotation, ann.ID, "location annotation %d references missing location %d", ann.ID, ann.LocationID)
		}
		if _, ok := view.FindAnnotationKey(ann.KeyID); !ok {
			blocked(domain.EntityLocationAnnotation, ann.ID, "location annotation %d references missing key %d", ann.ID, ann.KeyID)
		}
	}
	for _, record := range view.ListDataRecords() {
		if _, ok := view.FindLocation(record.LocationID); !ok {
			blocked(domain.EntityDataRecord, record.ID, "data record %d references missing location %d", record.ID, record.LocationID)
		}
		if _, ok := view.FindStorageType(record.TypeID); !ok {
			blocked(domain.EntityDataRecord, record.ID, "data record %d references missing storage type %d", record.ID, record.TypeID)
		}
		if record.AnalysisID != nil {
			if _, ok := view.FindAnalysis(*record.AnalysisID); !ok {
				blocked(domain.EntityDataRecord, record.ID, "data record %d references missing analysis %d", record.ID, *record.AnalysisID)
			}
		}
	}
	for _, ann := range view.ListDataAnnotations() {
		if _, ok := view.FindDataRecord(ann.DataID); !ok {
			blocked(domain.EntityDataAnnotation, ann.ID, "data annotation %d references missing data record %d", ann.ID, ann.DataID)
		}
		if _, ok := view.FindAnnotationKey(ann.KeyID); !ok {
			blocked(domain.EntityDataAnnotation, ann.ID, "data annotation %d references missing key %d", ann.ID, ann.KeyID)
		}
	}
	return res, nil
}
