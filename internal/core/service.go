// Package core exposes the transactional service facade over the provenance
// metadata store, wiring observability around every operation.
package core

import (
	"context"

	"tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"
)

// Service exposes higher-level transactional operations for the core schema.
type Service struct {
	store   domain.PersistentStore
	clock   Clock
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		store:   store,
		clock:   options.clock,
		logger:  options.logger,
		audit:   options.audit,
		metrics: options.metrics,
		tracer:  options.tracer,
	}
}

// NewInMemoryService creates a service and in-memory store with the given
// rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// outcome captures the primary entity touched by a mutating operation so the
// audit entry can reference it.
type outcome struct {
	entity   EntityType
	action   Action
	entityID int64
}

func (s *Service) run(ctx context.Context, op string, result *outcome, fn func(tx Transaction) error) (Result, error) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	res, err := s.store.RunInTransaction(ctx, fn)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	entry := AuditEntry{
		Operation: op,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now().UTC(),
	}
	if result != nil {
		entry.Entity = result.entity
		entry.Action = result.action
		entry.EntityID = result.entityID
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op, "error", err)
	} else {
		s.logger.Debug("operation committed", "operation", op, "duration", duration)
	}
	s.audit.Record(ctx, entry)
	return res, err
}

func (s *Service) view(ctx context.Context, op string, fn func(view TransactionView) error) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := s.store.View(ctx, fn)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, s.clock.Now().Sub(start))
	if err != nil {
		s.logger.Error("read failed", "operation", op, "error", err)
	}
	return err
}

// CreateAnnotationKey registers a key under the optional parent.
func (s *Service) CreateAnnotationKey(ctx context.Context, name string, parentID *int64) (AnnotationKey, Result, error) {
	var created AnnotationKey
	result := &outcome{entity: EntityAnnotationKey, action: ActionCreate}
	res, err := s.run(ctx, "create_annotation_key", result, func(tx Transaction) error {
		var err error
		created, err = tx.CreateAnnotationKey(name, parentID)
		result.entityID = created.ID
		return err
	})
	return created, res, err
}

// DeleteAnnotationKey removes a key, its descendants, and every annotation
// referencing the closure.
func (s *Service) DeleteAnnotationKey(ctx context.Context, id int64) (Result, error) {
	return s.run(ctx, "delete_annotation_key", &outcome{entity: EntityAnnotationKey, action: ActionDelete, entityID: id}, func(tx Transaction) error {
		return tx.DeleteAnnotationKey(id)
	})
}

// ListAnnotationKeys returns the full key namespace.
func (s *Service) ListAnnotationKeys(ctx context.Context) ([]AnnotationKey, error) {
	var keys []AnnotationKey
	err := s.view(ctx, "list_annotation_keys", func(view TransactionView) error {
		keys = view.ListAnnotationKeys()
		return nil
	})
	return keys, err
}

// GetAnnotationKey retrieves a key by id.
func (s *Service) GetAnnotationKey(ctx context.Context, id int64) (AnnotationKey, error) {
	var key AnnotationKey
	err := s.view(ctx, "get_annotation_key", func(view TransactionView) error {
		found, ok := view.FindAnnotationKey(id)
		if !ok {
			return domain.ErrNotFound{Entity: EntityAnnotationKey, ID: id}
		}
		key = found
		return nil
	})
	return key, err
}

// ResolveAnnotationKeyPath returns the names along the parent chain of a key,
// root first.
func (s *Service) ResolveAnnotationKeyPath(ctx context.Context, id int64) ([]string, error) {
	var path []string
	err := s.view(ctx, "resolve_annotation_key_path", func(view TransactionView) error {
		var err error
		path, err = view.ResolveAnnotationKeyPath(id)
		return err
	})
	return path, err
}

// CreateLocation registers a new storage location anchor.
func (s *Service) CreateLocation(ctx context.Context) (Location, Result, error) {
	var created Location
	result := &outcome{entity: EntityLocation, action: ActionCreate}
	res, err := s.run(ctx, "create_location", result, func(tx Transaction) error {
		var err error
		created, err = tx.CreateLocation()
		result.entityID = created.ID
		return err
	})
	return created, res, err
}

// CreateLocationWithAnnotations registers a location and applies the provided
// annotations in the same transaction.
func (s *Service) CreateLocationWithAnnotations(ctx context.Context, annotations map[int64]string) (Location, Result, error) {
	var created Location
	result := &outcome{entity: EntityLocation, action: ActionCreate}
	res, err := s.run(ctx, "create_location_with_annotations", result, func(tx Transaction) error {
		var err error
		if created, err = tx.CreateLocation(); err != nil {
			return err
		}
		result.entityID = created.ID
		for _, keyID := range sortedKeys(annotations) {
			if _, err := tx.SetLocationAnnotation(created.ID, keyID, annotations[keyID]); err != nil {
				return err
			}
		}
		return nil
	})
	return created, res, err
}

// DeleteLocation removes a location together with its annotations, data
// records, and their annotations.
func (s *Service) DeleteLocation(ctx context.Context, id int64) (Result, error) {
	return s.run(ctx, "delete_location", &outcome{entity: EntityLocation, action: ActionDelete, entityID: id}, func(tx Transaction) error {
		return tx.DeleteLocation(id)
	})
}

// ListLocations returns all registered locations.
func (s *Service) ListLocations(ctx context.Context) ([]Location, error) {
	var locations []Location
	err := s.view(ctx, "list_locations", func(view TransactionView) error {
		locations = view.ListLocations()
		return nil
	})
	return locations, err
}

// SetLocationAnnotation stores the value for (location, key), replacing any
// previous value for the pair.
func (s *Service) SetLocationAnnotation(ctx context.Context, locationID, keyID int64, value string) (LocationAnnotation, Result, error) {
	var stored LocationAnnotation
	result := &outcome{entity: EntityLocationAnnotation, action: ActionUpdate}
	res, err := s.run(ctx, "set_location_annotation", result, func(tx Transaction) error {
		var err error
		stored, err = tx.SetLocationAnnotation(locationID, keyID, value)
		result.entityID = stored.ID
		return err
	})
	return stored, res, err
}

// GetLocationAnnotation returns the value stored for (location, key), or
// ErrNotFound when the pair has no annotation.
func (s *Service) GetLocationAnnotation(ctx context.Context, locationID, keyID int64) (string, error) {
	var value string
	err := s.view(ctx, "get_location_annotation", func(view TransactionView) error {
		found, ok := view.GetLocationAnnotation(locationID, keyID)
		if !ok {
			return domain.ErrNotFound{Entity: EntityLocationAnnotation, ID: locationID}
		}
		value = found
		return nil
	})
	return value, err
}

// CreateAnalysis registers an analysis run and its parameter document.
func (s *Service) CreateAnalysis(ctx context.Context, name, docURI string) (Analysis, Result, error) {
	var created Analysis
	result := &outcome{entity: EntityAnalysis, action: ActionCreate}
	res, err := s.run(ctx, "create_analysis", result, func(tx Transaction) error {
		var err error
		created, err = tx.CreateAnalysis(name, docURI)
		result.entityID = created.ID
		return err
	})
	return created, res, err
}

// DeleteAnalysis removes an analysis and every data record attributed to it,
// together with the records' annotations.
func (s *Service) DeleteAnalysis(ctx context.Context, id int64) (Result, error) {
	return s.run(ctx, "delete_analysis", &outcome{entity: EntityAnalysis, action: ActionDelete, entityID: id}, func(tx Transaction) error {
		return tx.DeleteAnalysis(id)
	})
}

// ListAnalyses returns all registered analyses.
func (s *Service) ListAnalyses(ctx context.Context) ([]Analysis, error) {
	var analyses []Analysis
	err := s.view(ctx, "list_analyses", func(view TransactionView) error {
		analyses = view.ListAnalyses()
		return nil
	})
	return analyses, err
}

// StorageTypes returns the fixed catalog seeded at store construction.
func (s *Service) StorageTypes(ctx context.Context) ([]StorageType, error) {
	var types []StorageType
	err := s.view(ctx, "list_storage_types", func(view TransactionView) error {
		types = view.StorageTypes()
		return nil
	})
	return types, err
}

// LookupStorageType resolves a catalog entry by name, or returns ErrNotFound
// for a name outside the catalog.
func (s *Service) LookupStorageType(ctx context.Context, name string) (StorageType, error) {
	var st StorageType
	err := s.view(ctx, "lookup_storage_type", func(view TransactionView) error {
		found, ok := view.LookupStorageType(name)
		if !ok {
			return domain.ErrNotFound{Entity: EntityStorageType}
		}
		st = found
		return nil
	})
	return st, err
}

// CreateDataRecord registers a data artifact at a location.
func (s *Service) CreateDataRecord(ctx context.Context, spec DataRecordSpec) (DataRecord, Result, error) {
	var created DataRecord
	result := &outcome{entity: EntityDataRecord, action: ActionCreate}
	res, err := s.run(ctx, "create_data_record", result, func(tx Transaction) error {
		var err error
		created, err = tx.CreateDataRecord(spec)
		result.entityID = created.ID
		return err
	})
	return created, res, err
}

// CreateDataRecordWithAnnotations registers a data artifact and attaches the
// provided annotations in the same transaction.
func (s *Service) CreateDataRecordWithAnnotations(ctx context.Context, spec DataRecordSpec, annotations map[int64]string) (DataRecord, Result, error) {
	var created DataRecord
	result := &outcome{entity: EntityDataRecord, action: ActionCreate}
	res, err := s.run(ctx, "create_data_record_with_annotations", result, func(tx Transaction) error {
		var err error
		if created, err = tx.CreateDataRecord(spec); err != nil {
			return err
		}
		result.entityID = created.ID
		for _, keyID := range sortedKeys(annotations) {
			if _, err := tx.AddDataAnnotation(created.ID, keyID, annotations[keyID]); err != nil {
				return err
			}
		}
		return nil
	})
	return created, res, err
}

// DeleteDataRecord removes a data record and its annotations.
func (s *Service) DeleteDataRecord(ctx context.Context, id int64) (Result, error) {
	return s.run(ctx, "delete_data_record", &outcome{entity: EntityDataRecord, action: ActionDelete, entityID: id}, func(tx Transaction) error {
		return tx.DeleteDataRecord(id)
	})
}

// GetDataRecord retrieves a data record by id.
func (s *Service) GetDataRecord(ctx context.Context, id int64) (DataRecord, error) {
	var record DataRecord
	err := s.view(ctx, "get_data_record", func(view TransactionView) error {
		found, ok := view.FindDataRecord(id)
		if !ok {
			return domain.ErrNotFound{Entity: EntityDataRecord, ID: id}
		}
		record = found
		return nil
	})
	return record, err
}

// ListDataRecords returns all data records.
func (s *Service) ListDataRecords(ctx context.Context) ([]DataRecord, error) {
	var records []DataRecord
	err := s.view(ctx, "list_data_records", func(view TransactionView) error {
		records = view.ListDataRecords()
		return nil
	})
	return records, err
}

// ListDataByLocation returns the data records bound to a location.
func (s *Service) ListDataByLocation(ctx context.Context, locationID int64) ([]DataRecord, error) {
	var records []DataRecord
	err := s.view(ctx, "list_data_by_location", func(view TransactionView) error {
		records = view.ListDataByLocation(locationID)
		return nil
	})
	return records, err
}

// ListDataByAnalysis returns the data records attributed to an analysis.
func (s *Service) ListDataByAnalysis(ctx context.Context, analysisID int64) ([]DataRecord, error) {
	var records []DataRecord
	err := s.view(ctx, "list_data_by_analysis", func(view TransactionView) error {
		records = view.ListDataByAnalysis(analysisID)
		return nil
	})
	return records, err
}

// AddDataAnnotation appends an annotation to a data record. Repeated values
// for the same (data, key) pair are permitted.
func (s *Service) AddDataAnnotation(ctx context.Context, dataID, keyID int64, value string) (DataAnnotation, Result, error) {
	var added DataAnnotation
	result := &outcome{entity: EntityDataAnnotation, action: ActionCreate}
	res, err := s.run(ctx, "add_data_annotation", result, func(tx Transaction) error {
		var err error
		added, err = tx.AddDataAnnotation(dataID, keyID, value)
		result.entityID = added.ID
		return err
	})
	return added, res, err
}

// ListDataAnnotations returns the annotations of one data record in insertion
// order.
func (s *Service) ListDataAnnotations(ctx context.Context, dataID int64) ([]DataAnnotation, error) {
	var annotations []DataAnnotation
	err := s.view(ctx, "list_data_annotations", func(view TransactionView) error {
		annotations = view.ListDataAnnotationsForData(dataID)
		return nil
	})
	return annotations, err
}
