package release

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestFileServer(t *testing.T, body *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(*body)
	}))
}

type fakeUpstream struct {
	assetURL string
	fetched  []string
	list     []Asset
	listErr  error
}

func (f *fakeUpstream) List(ctx context.Context) ([]Asset, error) { return f.list, f.listErr }

func (f *fakeUpstream) AssetURL(tag, platform string) (string, error) {
	f.fetched = append(f.fetched, tag+"/"+platform)
	return f.assetURL, nil
}

func newTestCache(t *testing.T, up UpstreamCatalog) (*Cache, string) {
	t.Helper()
	root := t.TempDir()
	return New(root, up, "ws://sat-server.local:8502", zerolog.Nop()), root
}

func TestGetFetchesOnceThenReusesCache(t *testing.T) {
	var served []byte
	httpSrv := newTestFileServer(t, &served)
	defer httpSrv.Close()
	served = []byte("firmware-bytes")

	up := &fakeUpstream{assetURL: httpSrv.URL}
	cache, _ := newTestCache(t, up)

	data1, err := cache.Get(context.Background(), "v1", "p1", 0)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	data2, err := cache.Get(context.Background(), "v1", "p1", 0)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if string(data1) != "firmware-bytes" || string(data2) != "firmware-bytes" {
		t.Fatalf("unexpected bytes: %q / %q", data1, data2)
	}
	if len(up.fetched) != 1 {
		t.Fatalf("expected exactly one upstream fetch, got %d", len(up.fetched))
	}
}

func TestSafePathRejectsTraversal(t *testing.T) {
	up := &fakeUpstream{}
	cache, _ := newTestCache(t, up)

	_, err := cache.safePath("0.0.0-mock.0/../../..", "foo")
	if err == nil {
		t.Fatal("expected path-traversal rejection")
	}
}

func TestDeleteRejectsTraversal(t *testing.T) {
	up := &fakeUpstream{}
	cache, _ := newTestCache(t, up)

	if err := cache.Delete("../../etc/passwd"); err == nil {
		t.Fatal("expected traversal rejection on delete")
	}
}

func TestListReleasesMergesLocalCatalog(t *testing.T) {
	up := &fakeUpstream{list: []Asset{{Tag: "v2", Platform: "esp32"}}}
	cache, root := newTestCache(t, up)

	localDir := filepath.Join(root, "local")
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(localDir, "esp32s3.bin"), []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}

	assets, err := cache.ListReleases(context.Background())
	if err != nil {
		t.Fatalf("ListReleases: %v", err)
	}

	var sawUpstream, sawLocal bool
	for _, a := range assets {
		if a.Tag == "v2" {
			sawUpstream = true
		}
		if a.Platform == "esp32s3" && a.SHA256 != "" {
			sawLocal = true
		}
		if a.WASURL == "" {
			t.Errorf("expected was_url to be synthesized for %+v", a)
		}
	}
	if !sawUpstream || !sawLocal {
		t.Fatalf("expected both upstream and local assets, got %+v", assets)
	}
}

func TestSynthesizeWASURLPreservesSchemeFamily(t *testing.T) {
	up := &fakeUpstream{}
	cache, _ := newTestCache(t, up)
	cache.wasURL = "wss://sat-server.local:8502"

	got := cache.synthesizeWASURL("v1", "p1")
	if got == "" {
		t.Fatal("expected non-empty was_url")
	}
	if got[:5] != "https" {
		t.Fatalf("wss should map to https, got %s", got)
	}
}
