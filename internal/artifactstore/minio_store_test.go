package artifactstore

import "testing"

func TestOpenReturnsNilWhenEndpointEmpty(t *testing.T) {
	store, err := Open(Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store != nil {
		t.Fatalf("expected a nil store when no endpoint is configured")
	}
}

func TestOpenDefaultsBucketName(t *testing.T) {
	store, err := Open(Config{Endpoint: "127.0.0.1:9000", AccessKey: "key", SecretKey: "secret"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if store == nil {
		t.Fatalf("expected a configured store")
	}
	if store.bucket != "hydra-reports" {
		t.Fatalf("expected default bucket name, got %q", store.bucket)
	}
}
