package core

import (
	"context"
	"testing"

	"tracecore/pkg/domain"
)

func newTestService() *Service {
	return NewInMemoryService(NewDefaultRulesEngine())
}

func TestServiceAnnotationKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	root, _, err := svc.CreateAnnotationKey(ctx, "microscopy", nil)
	if err != nil {
		t.Fatalf("create root key: %v", err)
	}
	channel, _, err := svc.CreateAnnotationKey(ctx, "channel", &root.ID)
	if err != nil {
		t.Fatalf("create child key: %v", err)
	}

	path, err := svc.ResolveAnnotationKeyPath(ctx, channel.ID)
	if err != nil {
		t.Fatalf("resolve path: %v", err)
	}
	if len(path) != 2 || path[0] != "microscopy" || path[1] != "channel" {
		t.Fatalf("unexpected path %v", path)
	}

	keys, err := svc.ListAnnotationKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}

	if _, err := svc.DeleteAnnotationKey(ctx, root.ID); err != nil {
		t.Fatalf("delete root: %v", err)
	}
	if _, err := svc.GetAnnotationKey(ctx, channel.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected descendant removed with root, got %v", err)
	}
}

func TestServiceLocationAnnotationUpsert(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	location, _, err := svc.CreateLocation(ctx)
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	key, _, err := svc.CreateAnnotationKey(ctx, "channel", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	first, _, err := svc.SetLocationAnnotation(ctx, location.ID, key.ID, "DAPI")
	if err != nil {
		t.Fatalf("set annotation: %v", err)
	}
	second, _, err := svc.SetLocationAnnotation(ctx, location.ID, key.ID, "GFP")
	if err != nil {
		t.Fatalf("replace annotation: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected replacement to keep row %d, got %d", first.ID, second.ID)
	}
	value, err := svc.GetLocationAnnotation(ctx, location.ID, key.ID)
	if err != nil || value != "GFP" {
		t.Fatalf("expected replaced value, got %q %v", value, err)
	}
	if _, err := svc.GetLocationAnnotation(ctx, location.ID, key.ID+1); !domain.IsNotFound(err) {
		t.Fatalf("expected not found for unset pair, got %v", err)
	}
}

func TestServiceDataRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	location, _, err := svc.CreateLocation(ctx)
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	analysis, _, err := svc.CreateAnalysis(ctx, "segmentation", "file:///docs/seg.json")
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	st, err := svc.LookupStorageType(ctx, domain.StorageArray)
	if err != nil {
		t.Fatalf("lookup storage type: %v", err)
	}

	record, _, err := svc.CreateDataRecord(ctx, DataRecordSpec{
		LocationID: location.ID,
		TypeName:   st.Name,
		AnalysisID: &analysis.ID,
		URI:        "s3://bucket/img.zarr",
	})
	if err != nil {
		t.Fatalf("create data record: %v", err)
	}
	if record.TypeID != st.ID {
		t.Fatalf("expected resolved type id %d, got %d", st.ID, record.TypeID)
	}

	byLocation, err := svc.ListDataByLocation(ctx, location.ID)
	if err != nil || len(byLocation) != 1 {
		t.Fatalf("expected one record by location, got %d (%v)", len(byLocation), err)
	}
	byAnalysis, err := svc.ListDataByAnalysis(ctx, analysis.ID)
	if err != nil || len(byAnalysis) != 1 {
		t.Fatalf("expected one record by analysis, got %d (%v)", len(byAnalysis), err)
	}

	key, _, err := svc.CreateAnnotationKey(ctx, "channel", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if _, _, err := svc.AddDataAnnotation(ctx, record.ID, key.ID, "DAPI"); err != nil {
		t.Fatalf("add annotation: %v", err)
	}
	if _, _, err := svc.AddDataAnnotation(ctx, record.ID, key.ID, "DAPI"); err != nil {
		t.Fatalf("expected duplicate data annotation allowed: %v", err)
	}
	annotations, err := svc.ListDataAnnotations(ctx, record.ID)
	if err != nil || len(annotations) != 2 {
		t.Fatalf("expected two annotations, got %d (%v)", len(annotations), err)
	}

	if _, err := svc.DeleteDataRecord(ctx, record.ID); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	annotations, err = svc.ListDataAnnotations(ctx, record.ID)
	if err != nil || len(annotations) != 0 {
		t.Fatalf("expected annotations removed with record, got %d (%v)", len(annotations), err)
	}
}

func TestServiceDeleteLocationCascades(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	key, _, err := svc.CreateAnnotationKey(ctx, "channel", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	location, _, err := svc.CreateLocationWithAnnotations(ctx, map[int64]string{key.ID: "DAPI"})
	if err != nil {
		t.Fatalf("create location with annotations: %v", err)
	}
	record, _, err := svc.CreateDataRecordWithAnnotations(ctx, DataRecordSpec{
		LocationID: location.ID,
		TypeName:   domain.StorageArray,
		URI:        "s3://bucket/img.zarr",
	}, map[int64]string{key.ID: "DAPI"})
	if err != nil {
		t.Fatalf("create data record with annotations: %v", err)
	}

	if _, err := svc.DeleteLocation(ctx, location.ID); err != nil {
		t.Fatalf("delete location: %v", err)
	}

	if _, err := svc.GetDataRecord(ctx, record.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected record removed with location, got %v", err)
	}
	annotations, err := svc.ListDataAnnotations(ctx, record.ID)
	if err != nil || len(annotations) != 0 {
		t.Fatalf("expected data annotations removed, got %d (%v)", len(annotations), err)
	}
	if _, err := svc.GetAnnotationKey(ctx, key.ID); err != nil {
		t.Fatalf("expected key to survive location cascade: %v", err)
	}
}

func TestServiceDeleteAnalysisCascades(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	location, _, err := svc.CreateLocation(ctx)
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	analysis, _, err := svc.CreateAnalysis(ctx, "deconvolution", "file:///docs/deconv.json")
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	attributed, _, err := svc.CreateDataRecord(ctx, DataRecordSpec{
		LocationID: location.ID,
		TypeName:   domain.StorageArray,
		AnalysisID: &analysis.ID,
		URI:        "s3://bucket/deconv.zarr",
	})
	if err != nil {
		t.Fatalf("create attributed record: %v", err)
	}
	raw, _, err := svc.CreateDataRecord(ctx, DataRecordSpec{
		LocationID: location.ID,
		TypeName:   domain.StorageArray,
		URI:        "s3://bucket/raw.zarr",
	})
	if err != nil {
		t.Fatalf("create raw record: %v", err)
	}

	if _, err := svc.DeleteAnalysis(ctx, analysis.ID); err != nil {
		t.Fatalf("delete analysis: %v", err)
	}
	if _, err := svc.GetDataRecord(ctx, attributed.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected attributed record removed, got %v", err)
	}
	if _, err := svc.GetDataRecord(ctx, raw.ID); err != nil {
		t.Fatalf("expected raw record to survive: %v", err)
	}
}

func TestServiceStorageTypeCatalog(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	types, err := svc.StorageTypes(ctx)
	if err != nil {
		t.Fatalf("list storage types: %v", err)
	}
	if len(types) != 4 {
		t.Fatalf("expected 4 seeded storage types, got %d", len(types))
	}
	for i, name := range []string{domain.StorageArray, domain.StorageTable, domain.StorageValue, domain.StorageLabel} {
		if types[i].ID != int64(i+1) || types[i].Name != name {
			t.Fatalf("unexpected catalog entry %+v at %d", types[i], i)
		}
	}
	if _, err := svc.LookupStorageType(ctx, "Tensor"); !domain.IsNotFound(err) {
		t.Fatalf("expected unknown storage type lookup to miss, got %v", err)
	}
}

func TestServiceRejectsInvalidDataRecord(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	location, _, err := svc.CreateLocation(ctx)
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	if _, _, err := svc.CreateDataRecord(ctx, DataRecordSpec{
		LocationID: location.ID,
		TypeName:   "Tensor",
		URI:        "s3://bucket/x",
	}); !domain.IsInvalidInput(err) {
		t.Fatalf("expected invalid storage type error, got %v", err)
	}
	if _, _, err := svc.CreateDataRecord(ctx, DataRecordSpec{
		LocationID: location.ID + 100,
		TypeName:   domain.StorageArray,
		URI:        "s3://bucket/x",
	}); !domain.IsNotFound(err) {
		t.Fatalf("expected missing location error, got %v", err)
	}
	records, err := svc.ListDataRecords(ctx)
	if err != nil || len(records) != 0 {
		t.Fatalf("expected no records after failures, got %d (%v)", len(records), err)
	}
}
