package core

import (
	"context"
	"testing"

	"tracecore/pkg/domain"
)

func TestFindLocationsByAnnotation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	channel, _, err := svc.CreateAnnotationKey(ctx, "channel", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	sample, _, err := svc.CreateAnnotationKey(ctx, "sample", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	dapi, _, err := svc.CreateLocationWithAnnotations(ctx, map[int64]string{channel.ID: "DAPI", sample.ID: "S1"})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	gfp, _, err := svc.CreateLocationWithAnnotations(ctx, map[int64]string{channel.ID: "GFP", sample.ID: "S1"})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	if _, _, err := svc.CreateLocation(ctx); err != nil {
		t.Fatalf("create bare location: %v", err)
	}

	got, err := svc.FindLocations(ctx, map[string]string{"channel": "DAPI"})
	if err != nil {
		t.Fatalf("find by value: %v", err)
	}
	if len(got) != 1 || got[0].ID != dapi.ID {
		t.Fatalf("unexpected matches %v", got)
	}

	got, err = svc.FindLocations(ctx, map[string]string{"channel": ""})
	if err != nil {
		t.Fatalf("find by key: %v", err)
	}
	if len(got) != 2 || got[0].ID != dapi.ID || got[1].ID != gfp.ID {
		t.Fatalf("expected both annotated locations, got %v", got)
	}

	got, err = svc.FindLocations(ctx, map[string]string{"channel": "GFP", "sample": "S1"})
	if err != nil {
		t.Fatalf("find conjunction: %v", err)
	}
	if len(got) != 1 || got[0].ID != gfp.ID {
		t.Fatalf("expected conjunction match, got %v", got)
	}

	got, err = svc.FindLocations(ctx, map[string]string{"missing": "x"})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no matches for unknown key, got %v (%v)", got, err)
	}

	got, err = svc.FindLocations(ctx, nil)
	if err != nil || len(got) != 3 {
		t.Fatalf("expected all locations without criteria, got %d (%v)", len(got), err)
	}
}

func TestFindDataByAnnotation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	channel, _, err := svc.CreateAnnotationKey(ctx, "channel", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	sample, _, err := svc.CreateAnnotationKey(ctx, "sample", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	location, _, err := svc.CreateLocationWithAnnotations(ctx, map[int64]string{sample.ID: "S1"})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	tagged, _, err := svc.CreateDataRecordWithAnnotations(ctx, DataRecordSpec{
		LocationID: location.ID,
		TypeName:   domain.StorageArray,
		URI:        "s3://bucket/a.zarr",
	}, map[int64]string{channel.ID: "DAPI"})
	if err != nil {
		t.Fatalf("create tagged record: %v", err)
	}
	plain, _, err := svc.CreateDataRecord(ctx, DataRecordSpec{
		LocationID: location.ID,
		TypeName:   domain.StorageArray,
		URI:        "s3://bucket/b.zarr",
	})
	if err != nil {
		t.Fatalf("create plain record: %v", err)
	}

	got, err := svc.FindData(ctx, map[string]string{"channel": "DAPI"})
	if err != nil {
		t.Fatalf("find data: %v", err)
	}
	if len(got) != 1 || got[0].ID != tagged.ID {
		t.Fatalf("unexpected matches %v", got)
	}

	// Location annotations cover records stored there.
	got, err = svc.FindData(ctx, map[string]string{"sample": "S1"})
	if err != nil {
		t.Fatalf("find by location annotation: %v", err)
	}
	if len(got) != 2 || got[0].ID != tagged.ID || got[1].ID != plain.ID {
		t.Fatalf("expected both records via location annotation, got %v", got)
	}

	got, err = svc.FindData(ctx, map[string]string{"channel": "GFP"})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no matches, got %v (%v)", got, err)
	}
}

func TestAnnotationInventories(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	channel, _, err := svc.CreateAnnotationKey(ctx, "channel", nil)
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if _, _, err := svc.CreateLocationWithAnnotations(ctx, map[int64]string{channel.ID: "GFP"}); err != nil {
		t.Fatalf("create location: %v", err)
	}
	location, _, err := svc.CreateLocationWithAnnotations(ctx, map[int64]string{channel.ID: "DAPI"})
	if err != nil {
		t.Fatalf("create location: %v", err)
	}
	record, _, err := svc.CreateDataRecord(ctx, DataRecordSpec{
		LocationID: location.ID,
		TypeName:   domain.StorageArray,
		URI:        "s3://bucket/a.zarr",
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	for _, value := range []string{"DAPI", "DAPI", "GFP"} {
		if _, _, err := svc.AddDataAnnotation(ctx, record.ID, channel.ID, value); err != nil {
			t.Fatalf("add annotation: %v", err)
		}
	}

	locations, err := svc.LocationAnnotationInventory(ctx)
	if err != nil {
		t.Fatalf("location inventory: %v", err)
	}
	if values := locations["channel"]; len(values) != 2 || values[0] != "DAPI" || values[1] != "GFP" {
		t.Fatalf("unexpected location inventory %v", locations)
	}

	data, err := svc.DataAnnotationInventory(ctx)
	if err != nil {
		t.Fatalf("data inventory: %v", err)
	}
	if values := data["channel"]; len(values) != 2 || values[0] != "DAPI" || values[1] != "GFP" {
		t.Fatalf("expected distinct data values, got %v", data)
	}
}
