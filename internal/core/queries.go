package core

import (
	"context"
	"sort"
)

// annotationIndex resolves key names once per query. Key names are not
// required to be unique across the namespace, so a name maps to every id
// carrying it.
type annotationIndex struct {
	idsByName map[string][]int64
}

func newAnnotationIndex(view TransactionView) annotationIndex {
	idx := annotationIndex{idsByName: map[string][]int64{}}
	for _, key := range view.ListAnnotationKeys() {
		idx.idsByName[key.Name] = append(idx.idsByName[key.Name], key.ID)
	}
	return idx
}

// locationMatches reports whether the location holds an annotation under any
// key named name with the given value. An empty value matches any value.
func (idx annotationIndex) locationMatches(view TransactionView, locationID int64, name, value string) bool {
	for _, keyID := range idx.idsByName[name] {
		got, ok := view.GetLocationAnnotation(locationID, keyID)
		if ok && (value == "" || got == value) {
			return true
		}
	}
	return false
}

// dataMatches reports whether the record itself, or its owning location,
// carries the (name, value) annotation.
func (idx annotationIndex) dataMatches(view TransactionView, record DataRecord, name, value string) bool {
	keyIDs := idx.idsByName[name]
	for _, ann := range view.ListDataAnnotationsForData(record.ID) {
		for _, keyID := range keyIDs {
			if ann.KeyID == keyID && (value == "" || ann.Value == value) {
				return true
			}
		}
	}
	return idx.locationMatches(view, record.LocationID, name, value)
}

// FindLocations returns the locations whose annotations hold every
// (key name, value) pair in criteria. With empty criteria it returns all
// locations.
func (s *Service) FindLocations(ctx context.Context, criteria map[string]string) ([]Location, error) {
	out := []Location{}
	err := s.view(ctx, "find_locations", func(view TransactionView) error {
		idx := newAnnotationIndex(view)
		for _, location := range view.ListLocations() {
			matched := true
			for name, value := range criteria {
				if !idx.locationMatches(view, location.ID, name, value) {
					matched = false
					break
				}
			}
			if matched {
				out = append(out, location)
			}
		}
		return nil
	})
	return out, err
}

// FindData returns the data records covered by every (key name, value) pair
// in criteria, considering both the record's own annotations and those of its
// owning location. With empty criteria it returns all records.
func (s *Service) FindData(ctx context.Context, criteria map[string]string) ([]DataRecord, error) {
	out := []DataRecord{}
	err := s.view(ctx, "find_data", func(view TransactionView) error {
		idx := newAnnotationIndex(view)
		for _, record := range view.ListDataRecords() {
			matched := true
			for name, value := range criteria {
				if !idx.dataMatches(view, record, name, value) {
					matched = false
					break
				}
			}
			if matched {
				out = append(out, record)
			}
		}
		return nil
	})
	return out, err
}

// LocationAnnotationInventory reports, per key name, the sorted distinct
// values currently used on locations.
func (s *Service) LocationAnnotationInventory(ctx context.Context) (map[string][]string, error) {
	inventory := map[string][]string{}
	err := s.view(ctx, "location_annotation_inventory", func(view TransactionView) error {
		distinct := map[string]map[string]struct{}{}
		for _, ann := range view.ListLocationAnnotations() {
			key, ok := view.FindAnnotationKey(ann.KeyID)
			if !ok {
				continue
			}
			if distinct[key.Name] == nil {
				distinct[key.Name] = map[string]struct{}{}
			}
			distinct[key.Name][ann.Value] = struct{}{}
		}
		for name, values := range distinct {
			inventory[name] = sortedValues(values)
		}
		return nil
	})
	return inventory, err
}

// DataAnnotationInventory reports, per key name, the sorted distinct values
// currently used on data records.
func (s *Service) DataAnnotationInventory(ctx context.Context) (map[string][]string, error) {
	inventory := map[string][]string{}
	err := s.view(ctx, "data_annotation_inventory", func(view TransactionView) error {
		distinct := map[string]map[string]struct{}{}
		for _, ann := range view.ListDataAnnotations() {
			key, ok := view.FindAnnotationKey(ann.KeyID)
			if !ok {
				continue
			}
			if distinct[key.Name] == nil {
				distinct[key.Name] = map[string]struct{}{}
			}
			distinct[key.Name][ann.Value] = struct{}{}
		}
		for name, values := range distinct {
			inventory[name] = sortedValues(values)
		}
		return nil
	})
	return inventory, err
}

func sortedValues(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[int64]string) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
