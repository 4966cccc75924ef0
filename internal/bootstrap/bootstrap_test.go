package bootstrap

import (
	"context"
	"testing"

	"refiner/internal/infra"
	"refiner/internal/storage"
)

func TestNewObjectStoreFilesystem(t *testing.T) {
	logger := infra.NopLogger()
	cfg := &infra.Config{StorageDriver: infra.StorageDriverFilesystem, StoragePath: t.TempDir()}
	store, err := NewObjectStore(cfg, logger)
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	if !store.Configured() || store.Bucket() != "local" {
		t.Fatalf("configured=%v bucket=%q", store.Configured(), store.Bucket())
	}
	obj, err := store.Put(context.Background(), "u1/1_a.jpg", "image/jpeg", []byte("x"))
	if err != nil || obj.Key != "u1/1_a.jpg" {
		t.Fatalf("Put: %v %+v", err, obj)
	}
}

func TestNewObjectStoreB2(t *testing.T) {
	logger := infra.NopLogger()
	cfg := &infra.Config{
		StorageDriver:    infra.StorageDriverB2,
		B2KeyID:          "k",
		B2ApplicationKey: "s",
		B2BucketID:       "b",
		B2BucketName:     "uploads",
	}
	store, err := NewObjectStore(cfg, logger)
	if err != nil {
		t.Fatalf("NewObjectStore: %v", err)
	}
	if _, ok := store.(*storage.B2Client); !ok {
		t.Fatalf("store = %T, want *storage.B2Client", store)
	}
	if store.Bucket() != "uploads" {
		t.Fatalf("bucket = %q", store.Bucket())
	}
}

func TestNewObjectStoreUnknownDriver(t *testing.T) {
	logger := infra.NopLogger()
	if _, err := NewObjectStore(&infra.Config{StorageDriver: "s3"}, logger); err == nil {
		t.Fatalf("expected error")
	}
}
