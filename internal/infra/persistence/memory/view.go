package memory

import (
	"tracecore/pkg/domain"
)

// transactionView exposes a read-only snapshot of a state to rules and
// callers. All list methods return entities in creation order.
type transactionView struct {
	state *memoryState
}

var _ domain.TransactionView = transactionView{}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

// ListAnnotationKeys returns all keys of the namespace.
func (v transactionView) ListAnnotationKeys() []AnnotationKey {
	out := make([]AnnotationKey, 0, len(v.state.keys))
	for _, id := range sortedIDs(v.state.keys) {
		out = append(out, cloneAnnotationKey(v.state.keys[id]))
	}
	return out
}

// FindAnnotationKey retrieves a key by id.
func (v transactionView) FindAnnotationKey(id int64) (AnnotationKey, bool) {
	k, ok := v.state.keys[id]
	if !ok {
		return AnnotationKey{}, false
	}
	return cloneAnnotationKey(k), true
}

// ResolveAnnotationKeyPath walks parent links from id to the root and returns
// the names root-first, so joining with "." yields the dotted ancestry.
func (v transactionView) ResolveAnnotationKeyPath(id int64) ([]string, error) {
	key, ok := v.state.keys[id]
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityAnnotationKey, ID: id}
	}
	path := []string{key.Name}
	visited := map[int64]struct{}{key.ID: {}}
	for key.ParentID != nil {
		parentID := *key.ParentID
		if _, seen := visited[parentID]; seen {
			return nil, domain.ErrCycleDetected{Key: parentID}
		}
		parent, ok := v.state.keys[parentID]
		if !ok {
			return nil, domain.ErrNotFound{Entity: domain.EntityAnnotationKey, ID: parentID}
		}
		visited[parentID] = struct{}{}
		path = append([]string{parent.Name}, path...)
		key = parent
	}
	return path, nil
}

// ListLocations returns all locations.
func (v transactionView) ListLocations() []Location {
	out := make([]Location, 0, len(v.state.locations))
	for _, id := range sortedIDs(v.state.locations) {
		out = append(out, v.state.locations[id])
	}
	return out
}

// FindLocation retrieves a location by id.
func (v transactionView) FindLocation(id int64) (Location, bool) {
	l, ok := v.state.locations[id]
	return l, ok
}

// ListLocationAnnotations returns every location annotation.
func (v transactionView) ListLocationAnnotations() []LocationAnnotation {
	out := make([]LocationAnnotation, 0, len(v.state.locationAnnotations))
	for _, id := range sortedIDs(v.state.locationAnnotations) {
		out = append(out, v.state.locationAnnotations[id])
	}
	return out
}

// GetLocationAnnotation returns the value stored for (location, key).
func (v transactionView) GetLocationAnnotation(locationID, keyID int64) (string, bool) {
	id, ok := v.state.locationAnnByPair[annPair{owner: locationID, key: keyID}]
	if !ok {
		return "", false
	}
	return v.state.locationAnnotations[id].Value, true
}

// ListAnalyses returns all registered analyses.
func (v transactionView) ListAnalyses() []Analysis {
	out := make([]Analysis, 0, len(v.state.analyses))
	for _, id := range sortedIDs(v.state.analyses) {
		out = append(out, v.state.analyses[id])
	}
	return out
}

// FindAnalysis retrieves an analysis by id.
func (v transactionView) FindAnalysis(id int64) (Analysis, bool) {
	a, ok := v.state.analyses[id]
	return a, ok
}

// StorageTypes returns the fixed catalog.
func (v transactionView) StorageTypes() []StorageType {
	out := make([]StorageType, 0, len(v.state.storageTypes))
	for _, id := range sortedIDs(v.state.storageTypes) {
		out = append(out, v.state.storageTypes[id])
	}
	return out
}

// LookupStorageType resolves a catalog entry by name.
func (v transactionView) LookupStorageType(name string) (StorageType, bool) {
	id, ok := v.state.storageTypeIDs[name]
	if !ok {
		return StorageType{}, false
	}
	return v.state.storageTypes[id], true
}

// FindStorageType retrieves a catalog entry by id.
func (v transactionView) FindStorageType(id int64) (StorageType, bool) {
	st, ok := v.state.storageTypes[id]
	return st, ok
}

// ListDataRecords returns all data records.
func (v transactionView) ListDataRecords() []DataRecord {
	out := make([]DataRecord, 0, len(v.state.data))
	for _, id := range sortedIDs(v.state.data) {
		out = append(out, cloneDataRecord(v.state.data[id]))
	}
	return out
}

// FindDataRecord retrieves a data record by id.
func (v transactionView) FindDataRecord(id int64) (DataRecord, bool) {
	d, ok := v.state.data[id]
	if !ok {
		return DataRecord{}, false
	}
	return cloneDataRecord(d), true
}

// ListDataByLocation returns the data records bound to a location.
func (v transactionView) ListDataByLocation(locationID int64) []DataRecord {
	out := []DataRecord{}
	for _, id := range sortedIDs(v.state.data) {
		if record := v.state.data[id]; record.LocationID == locationID {
			out = append(out, cloneDataRecord(record))
		}
	}
	return out
}

// ListDataByAnalysis returns the data records attributed to an analysis.
func (v transactionView) ListDataByAnalysis(analysisID int64) []DataRecord {
	out := []DataRecord{}
	for _, id := range sortedIDs(v.state.data) {
		record := v.state.data[id]
		if record.AnalysisID != nil && *record.AnalysisID == analysisID {
			out = append(out, cloneDataRecord(record))
		}
	}
	return out
}

// ListDataAnnotations returns every data annotation.
func (v transactionView) ListDataAnnotations() []DataAnnotation {
	out := make([]DataAnnotation, 0, len(v.state.dataAnnotations))
	for _, id := range sortedIDs(v.state.dataAnnotations) {
		out = append(out, v.state.dataAnnotations[id])
	}
	return out
}

// ListDataAnnotationsForData returns the annotations of one data record.
func (v transactionView) ListDataAnnotationsForData(dataID int64) []DataAnnotation {
	out := []DataAnnotation{}
	for _, id := range sortedIDs(v.state.dataAnnotations) {
		if ann := v.state.dataAnnotations[id]; ann.DataID == dataID {
			out = append(out, ann)
		}
	}
	return out
}
