package release

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHTTPCatalogEmptyURLDisablesFetch(t *testing.T) {
	c := NewHTTPCatalog("", time.Second, zerolog.Nop())
	assets, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if assets != nil {
		t.Fatalf("expected a nil catalog, got %v", assets)
	}
	if _, err := c.AssetURL("v1", "p1"); err == nil {
		t.Fatal("expected AssetURL to error with no prior List")
	}
}

func TestHTTPCatalogListThenAssetURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"assets":[{"tag":"v2","platform":"esp32s3","url":"https://cdn.example/v2/esp32s3.bin","size":1024}]}`))
	}))
	defer srv.Close()

	c := NewHTTPCatalog(srv.URL, time.Second, zerolog.Nop())
	assets, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(assets) != 1 || assets[0].Tag != "v2" || assets[0].Platform != "esp32s3" {
		t.Fatalf("unexpected assets: %+v", assets)
	}

	url, err := c.AssetURL("v2", "esp32s3")
	if err != nil {
		t.Fatalf("AssetURL: %v", err)
	}
	if url != "https://cdn.example/v2/esp32s3.bin" {
		t.Errorf("unexpected url: %q", url)
	}

	if _, err := c.AssetURL("v3", "esp32s3"); err == nil {
		t.Fatal("expected error for an unknown tag/platform pair")
	}
}

func TestHTTPCatalogNon200Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPCatalog(srv.URL, time.Second, zerolog.Nop())
	if _, err := c.List(context.Background()); err == nil {
		t.Fatal("expected an error for a non-200 catalog response")
	}
}
