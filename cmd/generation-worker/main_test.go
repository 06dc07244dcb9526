package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adgen/adgen-api/internal/config"
)

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	healthHandler([]string{"host-1234-1", "host-1234-2"}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "host-1234-1") || !strings.Contains(rr.Body.String(), "host-1234-2") {
		t.Fatalf("expected every worker id in body, got %s", rr.Body.String())
	}
}

func TestStorageConfig_MapsDriverFields(t *testing.T) {
	sc := storageConfig(&config.Config{
		StorageDriver:    "local",
		StorageLocalPath: "/tmp/gen",
		StorageLocalURL:  "http://localhost:8080/files",
		R2BucketName:     "bucket",
	})
	if sc.Driver != "local" || sc.LocalPath != "/tmp/gen" || sc.LocalURL != "http://localhost:8080/files" {
		t.Fatalf("unexpected local mapping: %+v", sc)
	}
	if sc.R2.BucketName != "bucket" {
		t.Fatalf("expected r2 bucket to be mapped, got %q", sc.R2.BucketName)
	}
}

func TestWorkerID_Unique(t *testing.T) {
	a, b := workerID(), workerID()
	if a == b {
		t.Fatalf("expected distinct worker ids, got %q twice", a)
	}
}

func TestWorkerIDs(t *testing.T) {
	ids := workerIDs("host-ab12", 3)
	if len(ids) != 3 || ids[0] != "host-ab12-1" || ids[2] != "host-ab12-3" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if got := workerIDs("host", 0); len(got) != 1 {
		t.Fatalf("expected at least one worker, got %v", got)
	}
}
