package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgcache/internal/core"
	"imgcache/internal/fetcher"
	"imgcache/internal/httpclient"
	"imgcache/internal/imagecache"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nclinic-logo")

// stubFetcher serves fixed images and fails with 404 for anything else.
type stubFetcher struct {
	images map[string]*fetcher.Image
	errs   map[string]error
	calls  atomic.Int32
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (*fetcher.Image, error) {
	f.calls.Add(1)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if img, ok := f.images[url]; ok {
		return img, nil
	}
	return nil, core.NewFetchError(url, http.StatusNotFound, "")
}

const (
	logoURL   = "https://cdn.example.com/clinics/smile/logo.png"
	brokenURL = "https://cdn.example.com/clinics/broken.png"
)

func newTestServer(t *testing.T, cfg *Config) (*Server, *imagecache.Cache, *stubFetcher) {
	t.Helper()
	f := &stubFetcher{
		images: map[string]*fetcher.Image{
			logoURL: {URL: logoURL, MIMEType: "image/png", Body: pngBytes},
		},
		errs: map[string]error{
			brokenURL: core.NewFetchError(brokenURL, http.StatusInternalServerError, "upstream exploded"),
		},
	}
	cache, err := imagecache.New(context.Background(), nil, f, imagecache.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return New(cache, cfg), cache, f
}

func do(srv *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := do(srv, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetImage_MissThenHit(t *testing.T) {
	srv, _, f := newTestServer(t, nil)
	target := "/v1/images?url=" + logoURL

	rec := do(srv, http.MethodGet, target, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var first ImageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, logoURL, first.URL)
	assert.Equal(t, fetcher.EncodeDataURL("image/png", pngBytes), first.DataURL)
	assert.False(t, first.Cached)

	rec = do(srv, http.MethodGet, target, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var second ImageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, first.DataURL, second.DataURL)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestGetImage_Errors(t *testing.T) {
	srv, cache, _ := newTestServer(t, nil)

	tests := []struct {
		name         string
		target       string
		wantStatus   int
		wantType     string
		wantUpstream float64
	}{
		{"missing url", "/v1/images", http.StatusBadRequest, "invalid_request_error", 0},
		{"unsupported scheme", "/v1/images?url=ftp://cdn.example.com/a.png", http.StatusBadRequest, "invalid_request_error", 0},
		{"upstream 404", "/v1/images?url=https://cdn.example.com/missing.png", http.StatusNotFound, "fetch_error", 404},
		{"upstream 500", "/v1/images?url=" + brokenURL, http.StatusBadGateway, "fetch_error", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(srv, http.MethodGet, tt.target, "", nil)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body["error"]["type"])
			if tt.wantUpstream != 0 {
				assert.Equal(t, tt.wantUpstream, body["error"]["upstream_status"])
			}
		})
	}

	assert.Equal(t, 0, cache.Stats().EntryCount, "failed fetches leave no entries")
}

func TestGetImageRaw(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	target := "/v1/images/raw?url=" + logoURL

	rec := do(srv, http.MethodGet, target, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pngBytes, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=7200", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.True(t, strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `"`))

	t.Run("matching If-None-Match returns 304", func(t *testing.T) {
		rec := do(srv, http.MethodGet, target, "", map[string]string{"If-None-Match": etag})
		assert.Equal(t, http.StatusNotModified, rec.Code)
		assert.Empty(t, rec.Body.Bytes())
		assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	})

	t.Run("weak and listed etags match", func(t *testing.T) {
		rec := do(srv, http.MethodGet, target, "", map[string]string{"If-None-Match": `"other", W/` + etag})
		assert.Equal(t, http.StatusNotModified, rec.Code)
	})

	t.Run("stale etag returns body", func(t *testing.T) {
		rec := do(srv, http.MethodGet, target, "", map[string]string{"If-None-Match": `"deadbeef"`})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, etag, rec.Header().Get("ETag"))
	})
}

func TestPreload(t *testing.T) {
	srv, cache, _ := newTestServer(t, nil)

	rec := do(srv, http.MethodPost, "/v1/images/preload",
		`{"urls":["`+logoURL+`","`+brokenURL+`"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report imagecache.PreloadReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, imagecache.PreloadReport{Requested: 2, Loaded: 1, Failed: 1}, report)

	_, ok := cache.Get(logoURL)
	assert.True(t, ok)
}

func TestPreload_InvalidRequests(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"urls":`},
		{"empty list", `{"urls":[]}`},
		{"too many urls", `{"urls":[` + strings.TrimSuffix(strings.Repeat(`"https://cdn.example.com/x.png",`, maxPreloadURLs+1), ",") + `]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(srv, http.MethodPost, "/v1/images/preload", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	srv, cache, _ := newTestServer(t, &Config{MasterKey: "operator-key"})
	auth := map[string]string{"Authorization": "Bearer operator-key"}

	rec := do(srv, http.MethodGet, "/v1/images?url="+logoURL, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, "image routes stay public")

	t.Run("stats require auth", func(t *testing.T) {
		rec := do(srv, http.MethodGet, "/admin/v1/cache/stats", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("stats", func(t *testing.T) {
		rec := do(srv, http.MethodGet, "/admin/v1/cache/stats", "", auth)
		require.Equal(t, http.StatusOK, rec.Code)

		var stats imagecache.Stats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		assert.Equal(t, 1, stats.EntryCount)
		assert.Equal(t, uint64(1), stats.Misses)
		assert.Positive(t, stats.TotalSize)
	})

	t.Run("sweep", func(t *testing.T) {
		rec := do(srv, http.MethodPost, "/admin/v1/cache/sweep", "", auth)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"removed":0}`, rec.Body.String())
	})

	t.Run("clear", func(t *testing.T) {
		rec := do(srv, http.MethodDelete, "/admin/v1/cache", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, 1, cache.Stats().EntryCount)

		rec = do(srv, http.MethodDelete, "/admin/v1/cache", "", auth)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, imagecache.Stats{}, cache.Stats())
	})
}

func TestAdminRoutes_OpenWithoutMasterKey(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	rec := do(srv, http.MethodGet, "/admin/v1/cache/stats", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEtagMatches(t *testing.T) {
	assert.False(t, etagMatches("", `"a"`))
	assert.True(t, etagMatches(`"a"`, `"a"`))
	assert.True(t, etagMatches(`*`, `"a"`))
	assert.True(t, etagMatches(`"b" , W/"a"`, `"a"`))
	assert.False(t, etagMatches(`"b"`, `"a"`))
}

func TestGetImage_DoesNotProxyInternalResponses(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"AccessKeyId":"AKIA-SECRET"}`))
	}))
	defer upstream.Close()

	newServer := func(t *testing.T, allowPrivate bool) *Server {
		t.Helper()
		clientCfg := httpclient.DefaultConfig()
		clientCfg.AllowPrivateNetworks = allowPrivate
		f, err := fetcher.New(httpclient.NewHTTPClient(&clientCfg), fetcher.Config{})
		require.NoError(t, err)
		cache, err := imagecache.New(context.Background(), nil, f, imagecache.Options{})
		require.NoError(t, err)
		t.Cleanup(func() { _ = cache.Close() })
		return New(cache, nil)
	}

	tests := []struct {
		name         string
		allowPrivate bool
		wantStatus   int
		wantType     string
	}{
		{"loopback refused by default", false, http.StatusForbidden, "fetch_error"},
		{"non-image body rejected", true, http.StatusBadGateway, "decode_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.allowPrivate)
			for _, path := range []string{"/v1/images", "/v1/images/raw"} {
				rec := do(srv, http.MethodGet, path+"?url="+upstream.URL+"/latest/meta-data", "", nil)
				assert.Equal(t, tt.wantStatus, rec.Code, path)
				assert.NotContains(t, rec.Body.String(), "AKIA-SECRET", path)

				var body map[string]map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), path)
				assert.Equal(t, tt.wantType, body["error"]["type"], path)
			}
		})
	}
}
