package memory

import (
	"tracecore/pkg/domain"
)

// transaction applies mutations to a private clone of the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
}

var _ domain.Transaction = (*transaction)(nil)

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateAnnotationKey adds a key to the namespace, optionally under a parent.
func (tx *transaction) CreateAnnotationKey(name string, parentID *int64) (AnnotationKey, error) {
	if name == "" {
		return AnnotationKey{}, domain.ErrInvalidInput{Field: "name", Reason: "must not be empty"}
	}
	if parentID != nil {
		if _, ok := tx.state.keys[*parentID]; !ok {
			return AnnotationKey{}, domain.ErrNotFound{Entity: domain.EntityAnnotationKey, ID: *parentID}
		}
	}
	tx.state.seq.AnnotationKeys++
	key := AnnotationKey{ID: tx.state.seq.AnnotationKeys, Name: name}
	if parentID != nil {
		parent := *parentID
		key.ParentID = &parent
		tx.state.keyChildren[parent] = append(tx.state.keyChildren[parent], key.ID)
	}
	tx.state.keys[key.ID] = cloneAnnotationKey(key)
	tx.recordChange(Change{Entity: domain.EntityAnnotationKey, Action: domain.ActionCreate, After: cloneAnnotationKey(key)})
	return cloneAnnotationKey(key), nil
}

// DeleteAnnotationKey removes a key, its descendants, and every annotation
// referencing any key in the closure. The closure is computed in full before
// any row is touched.
func (tx *transaction) DeleteAnnotationKey(id int64) error {
	if _, ok := tx.state.keys[id]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityAnnotationKey, ID: id}
	}
	closure, err := tx.state.descendantClosure(id)
	if err != nil {
		return err
	}
	inClosure := make(map[int64]struct{}, len(closure))
	for _, keyID := range closure {
		inClosure[keyID] = struct{}{}
	}
	for _, annID := range sortedIDs(tx.state.locationAnnotations) {
		ann := tx.state.locationAnnotations[annID]
		if _, hit := inClosure[ann.KeyID]; hit {
			tx.deleteLocationAnnotation(annID)
		}
	}
	for _, annID := range sortedIDs(tx.state.dataAnnotations) {
		ann := tx.state.dataAnnotations[annID]
		if _, hit := inClosure[ann.KeyID]; hit {
			tx.deleteDataAnnotation(annID)
		}
	}
	for _, keyID := range closure {
		key := tx.state.keys[keyID]
		if key.ParentID != nil {
			tx.state.keyChildren[*key.ParentID] = removeID(tx.state.keyChildren[*key.ParentID], keyID)
		}
		delete(tx.state.keyChildren, keyID)
		delete(tx.state.keys, keyID)
		tx.recordChange(Change{Entity: domain.EntityAnnotationKey, Action: domain.ActionDelete, Before: cloneAnnotationKey(key)})
	}
	return nil
}

// descendantClosure returns id plus all transitive children. The visited set
// guards against a corrupted parent cycle; creation-time validation makes
// that unreachable, but a loop here must fail instead of spinning.
func (s *memoryState) descendantClosure(id int64) ([]int64, error) {
	closure := []int64{id}
	visited := map[int64]struct{}{id: {}}
	for cursor := 0; cursor < len(closure); cursor++ {
		for _, child := range s.keyChildren[closure[cursor]] {
			if _, seen := visited[child]; seen {
				return nil, domain.ErrCycleDetected{Key: child}
			}
			visited[child] = struct{}{}
			closure = append(closure, child)
		}
	}
	return closure, nil
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

// CreateLocation assigns a fresh opaque location id.
func (tx *transaction) CreateLocation() (Location, error) {
	tx.state.seq.Locations++
	location := Location{ID: tx.state.seq.Locations}
	tx.state.locations[location.ID] = location
	tx.recordChange(Change{Entity: domain.EntityLocation, Action: domain.ActionCreate, After: location})
	return location, nil
}

// DeleteLocation removes a location together with its annotations and every
// data record bound to it (which in turn drops their data annotations).
func (tx *transaction) DeleteLocation(id int64) error {
	location, ok := tx.state.locations[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityLocation, ID: id}
	}
	for _, annID := range sortedIDs(tx.state.locationAnnotations) {
		if tx.state.locationAnnotations[annID].LocationID == id {
			tx.deleteLocationAnnotation(annID)
		}
	}
	for _, dataID := range sortedIDs(tx.state.data) {
		if tx.state.data[dataID].LocationID == id {
			tx.deleteDataRecordCascade(dataID)
		}
	}
	delete(tx.state.locations, id)
	tx.recordChange(Change{Entity: domain.EntityLocation, Action: domain.ActionDelete, Before: location})
	return nil
}

// CreateAnalysis registers a named analysis run with its describing document.
func (tx *transaction) CreateAnalysis(name, docURI string) (Analysis, error) {
	if docURI == "" {
		return Analysis{}, domain.ErrInvalidInput{Field: "doc_uri", Reason: "must not be empty"}
	}
	tx.state.seq.Analyses++
	analysis := Analysis{ID: tx.state.seq.Analyses, Name: name, DocURI: docURI}
	tx.state.analyses[analysis.ID] = analysis
	tx.recordChange(Change{Entity: domain.EntityAnalysis, Action: domain.ActionCreate, After: analysis})
	return analysis, nil
}

// DeleteAnalysis removes an analysis and every data record attributed to it.
// The analysis link is optional on a record, but once set it is a strong
// dependency, so attributed records cascade.
func (tx *transaction) DeleteAnalysis(id int64) error {
	analysis, ok := tx.state.analyses[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityAnalysis, ID: id}
	}
	for _, dataID := range sortedIDs(tx.state.data) {
		record := tx.state.data[dataID]
		if record.AnalysisID != nil && *record.AnalysisID == id {
			tx.deleteDataRecordCascade(dataID)
		}
	}
	delete(tx.state.analyses, id)
	tx.recordChange(Change{Entity: domain.EntityAnalysis, Action: domain.ActionDelete, Before: analysis})
	return nil
}

// SetLocationAnnotation stores the value for (location, key), replacing any
// existing value. The unique constraint never yields a second row.
func (tx *transaction) SetLocationAnnotation(locationID, keyID int64, value string) (LocationAnnotation, error) {
	if _, ok := tx.state.locations[locationID]; !ok {
		return LocationAnnotation{}, domain.ErrNotFound{Entity: domain.EntityLocation, ID: locationID}
	}
	if _, ok := tx.state.keys[keyID]; !ok {
		return LocationAnnotation{}, domain.ErrNotFound{Entity: domain.EntityAnnotationKey, ID: keyID}
	}
	pair := annPair{owner: locationID, key: keyID}
	if existingID, ok := tx.state.locationAnnByPair[pair]; ok {
		before := tx.state.locationAnnotations[existingID]
		updated := before
		updated.Value = value
		tx.state.locationAnnotations[existingID] = updated
		tx.recordChange(Change{Entity: domain.EntityLocationAnnotation, Action: domain.ActionUpdate, Before: before, After: updated})
		return updated, nil
	}
	tx.state.seq.LocationAnnotations++
	ann := LocationAnnotation{ID: tx.state.seq.LocationAnnotations, LocationID: locationID, KeyID: keyID, Value: value}
	tx.state.locationAnnotations[ann.ID] = ann
	tx.state.locationAnnByPair[pair] = ann.ID
	tx.recordChange(Change{Entity: domain.EntityLocationAnnotation, Action: domain.ActionCreate, After: ann})
	return ann, nil
}

// CreateDataRecord registers a data artifact, resolving the storage type by
// name against the fixed catalog.
func (tx *transaction) CreateDataRecord(spec domain.DataRecordSpec) (DataRecord, error) {
	if _, ok := tx.state.locations[spec.LocationID]; !ok {
		return DataRecord{}, domain.ErrNotFound{Entity: domain.EntityLocation, ID: spec.LocationID}
	}
	typeID, ok := tx.state.storageTypeIDs[spec.TypeName]
	if !ok {
		return DataRecord{}, domain.ErrInvalidInput{Field: "type_name", Reason: "unknown storage type " + spec.TypeName}
	}
	if spec.URI == "" {
		return DataRecord{}, domain.ErrInvalidInput{Field: "uri", Reason: "must not be empty"}
	}
	if spec.AnalysisID != nil {
		if _, ok := tx.state.analyses[*spec.AnalysisID]; !ok {
			return DataRecord{}, domain.ErrNotFound{Entity: domain.EntityAnalysis, ID: *spec.AnalysisID}
		}
	}
	tx.state.seq.DataRecords++
	record := DataRecord{
		ID:          tx.state.seq.DataRecords,
		LocationID:  spec.LocationID,
		TypeID:      typeID,
		MetadataURI: spec.MetadataURI,
		URI:         spec.URI,
	}
	if spec.AnalysisID != nil {
		analysis := *spec.AnalysisID
		record.AnalysisID = &analysis
	}
	tx.state.data[record.ID] = cloneDataRecord(record)
	tx.recordChange(Change{Entity: domain.EntityDataRecord, Action: domain.ActionCreate, After: cloneDataRecord(record)})
	return cloneDataRecord(record), nil
}

// DeleteDataRecord removes a data record and its annotations.
func (tx *transaction) DeleteDataRecord(id int64) error {
	if _, ok := tx.state.data[id]; !ok {
		return domain.ErrNotFound{Entity: domain.EntityDataRecord, ID: id}
	}
	tx.deleteDataRecordCascade(id)
	return nil
}

// AddDataAnnotation appends a key/value annotation to a data record.
// Duplicate (data, key) pairs are permitted.
func (tx *transaction) AddDataAnnotation(dataID, keyID int64, value string) (DataAnnotation, error) {
	if _, ok := tx.state.data[dataID]; !ok {
		return DataAnnotation{}, domain.ErrNotFound{Entity: domain.EntityDataRecord, ID: dataID}
	}
	if _, ok := tx.state.keys[keyID]; !ok {
		return DataAnnotation{}, domain.ErrNotFound{Entity: domain.EntityAnnotationKey, ID: keyID}
	}
	tx.state.seq.DataAnnotations++
	ann := DataAnnotation{ID: tx.state.seq.DataAnnotations, DataID: dataID, KeyID: keyID, Value: value}
	tx.state.dataAnnotations[ann.ID] = ann
	tx.recordChange(Change{Entity: domain.EntityDataAnnotation, Action: domain.ActionCreate, After: ann})
	return ann, nil
}

func (tx *transaction) deleteLocationAnnotation(id int64) {
	ann := tx.state.locationAnnotations[id]
	delete(tx.state.locationAnnotations, id)
	delete(tx.state.locationAnnByPair, annPair{owner: ann.LocationID, key: ann.KeyID})
	tx.recordChange(Change{Entity: domain.EntityLocationAnnotation, Action: domain.ActionDelete, Before: ann})
}

func (tx *transaction) deleteDataAnnotation(id int64) {
	ann := tx.state.dataAnnotations[id]
	delete(tx.state.dataAnnotations, id)
	tx.recordChange(Change{Entity: domain.EntityDataAnnotation, Action: domain.ActionDelete, Before: ann})
}

func (tx *transaction) deleteDataRecordCascade(id int64) {
	for _, annID := range sortedIDs(tx.state.dataAnnotations) {
		if tx.state.dataAnnotations[annID].DataID == id {
			tx.deleteDataAnnotation(annID)
		}
	}
	record := tx.state.data[id]
	delete(tx.state.data, id)
	tx.recordChange(Change{Entity: domain.EntityDataRecord, Action: domain.ActionDelete, Before: cloneDataRecord(record)})
}
