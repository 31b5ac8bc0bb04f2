package core

import (
	"context"
	"errors"
	"testing"

	"tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"
)

func int64Ptr(v int64) *int64 { return &v }

// corruptSnapshot returns a state containing a dangling location annotation
// and a parent cycle, as a restore from a damaged index would produce.
func corruptSnapshot() memory.Snapshot {
	return memory.Snapshot{
		AnnotationKeys: map[int64]domain.AnnotationKey{
			1: {ID: 1, Name: "a", ParentID: int64Ptr(2)},
			2: {ID: 2, Name: "b", ParentID: int64Ptr(1)},
		},
		Locations: map[int64]domain.Location{},
		LocationAnnotations: map[int64]domain.LocationAnnotation{
			1: {ID: 1, LocationID: 42, KeyID: 1, Value: "x"},
		},
		Analyses:        map[int64]domain.Analysis{},
		StorageTypes:    map[int64]domain.StorageType{},
		DataRecords:     map[int64]domain.DataRecord{},
		DataAnnotations: map[int64]domain.DataAnnotation{},
	}
}

func TestReferentialIntegrityRuleFlagsDanglingReferences(t *testing.T) {
	store := memory.NewStore(nil)
	store.ImportState(corruptSnapshot())

	rule := NewReferentialIntegrityRule()
	if err := store.View(context.Background(), func(view TransactionView) error {
		res, err := rule.Evaluate(context.Background(), view, nil)
		if err != nil {
			return err
		}
		if !res.HasBlocking() {
			t.Fatalf("expected blocking violation for dangling annotation, got %+v", res)
		}
		found := false
		for _, v := range res.Violations {
			if v.Entity == EntityLocationAnnotation && v.EntityID == 1 {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected violation naming the dangling annotation, got %+v", res.Violations)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestKeyHierarchyRuleFlagsCycles(t *testing.T) {
	store := memory.NewStore(nil)
	store.ImportState(corruptSnapshot())

	rule := NewKeyHierarchyRule()
	if err := store.View(context.Background(), func(view TransactionView) error {
		res, err := rule.Evaluate(context.Background(), view, nil)
		if err != nil {
			return err
		}
		if !res.HasBlocking() {
			t.Fatalf("expected blocking violation for parent cycle, got %+v", res)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestDefaultRulesEngineBlocksCommitOnCorruptState(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	store.ImportState(corruptSnapshot())
	svc := NewService(store)

	_, _, err := svc.CreateLocation(context.Background())
	var violation RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if !violation.Result.HasBlocking() {
		t.Fatalf("expected blocking result, got %+v", violation.Result)
	}
}

func TestRulesPassOnConsistentState(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	key, _, err := svc.CreateAnnotationKey(ctx, "channel", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	location, _, err := svc.CreateLocationWithAnnotations(ctx, map[int64]string{key.ID: "DAPI"})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	if _, res, err := svc.CreateDataRecord(ctx, DataRecordSpec{
		LocationID: location.ID,
		TypeName:   domain.StorageArray,
		URI:        "s3://bucket/img.zarr",
	}); err != nil || len(res.Violations) != 0 {
		t.Fatalf("expected clean commit, got %v %+v", err, res)
	}
}
