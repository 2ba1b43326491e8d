package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/labstack/echo/v4"

	"imgcache/internal/core"
	"imgcache/internal/fetcher"
	"imgcache/internal/imagecache"
)

// maxPreloadURLs bounds one preload request.
const maxPreloadURLs = 500

// ImageService is the cache surface the handlers need.
type ImageService interface {
	imagecache.ImageCache

	// Resolve loads key and reports whether it was already cached.
	Resolve(ctx context.Context, key string) (payload string, cached bool, err error)

	// PurgeExpired removes expired entries and returns how many were removed.
	PurgeExpired(ctx context.Context) int

	// TTL is how long a new entry stays live.
	TTL() time.Duration
}

// Handler holds the HTTP handlers
type Handler struct {
	cache ImageService
}

// NewHandler creates a new handler backed by cache
func NewHandler(cache ImageService) *Handler {
	return &Handler{cache: cache}
}

// ImageResponse is the JSON body of GET /v1/images.
type ImageResponse struct {
	URL     string `json:"url"`
	DataURL string `json:"data_url"`
	Cached  bool   `json:"cached"`
}

// PreloadRequest is the JSON body of POST /v1/images/preload.
type PreloadRequest struct {
	URLs []string `json:"urls"`
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetImage handles GET /v1/images?url=
func (h *Handler) GetImage(c echo.Context) error {
	rawURL, err := imageURL(c)
	if err != nil {
		return handleError(c, err)
	}

	payload, cached, err := h.cache.Resolve(c.Request().Context(), rawURL)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, ImageResponse{URL: rawURL, DataURL: payload, Cached: cached})
}

// GetImageRaw handles GET /v1/images/raw?url=
// It serves the decoded image bytes with an ETag derived from the cached payload.
func (h *Handler) GetImageRaw(c echo.Context) error {
	rawURL, err := imageURL(c)
	if err != nil {
		return handleError(c, err)
	}

	payload, cached, err := h.cache.Resolve(c.Request().Context(), rawURL)
	if err != nil {
		return handleError(c, err)
	}

	etag := `"` + strconv.FormatUint(xxhash.Sum64String(payload), 16) + `"`
	header := c.Response().Header()
	header.Set("ETag", etag)
	header.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.cache.TTL().Seconds())))
	if cached {
		header.Set("X-Cache", "HIT")
	} else {
		header.Set("X-Cache", "MISS")
	}

	if etagMatches(c.Request().Header.Get("If-None-Match"), etag) {
		return c.NoContent(http.StatusNotModified)
	}

	mimeType, body, err := fetcher.DecodeDataURL(payload)
	if err != nil {
		return handleError(c, &core.DecodeError{URL: rawURL, Err: err})
	}
	return c.Blob(http.StatusOK, mimeType, body)
}

// Preload handles POST /v1/images/preload
// It returns once every URL has been loaded or has failed.
func (h *Handler) Preload(c echo.Context) error {
	var req PreloadRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if len(req.URLs) == 0 {
		return handleError(c, core.NewInvalidRequestError("urls must not be empty", nil))
	}
	if len(req.URLs) > maxPreloadURLs {
		return handleError(c, core.NewInvalidRequestError("too many urls, maximum is "+strconv.Itoa(maxPreloadURLs), nil))
	}

	report := h.cache.PreloadImages(c.Request().Context(), req.URLs)
	return c.JSON(http.StatusOK, report)
}

// Stats handles GET /admin/v1/cache/stats
func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.cache.Stats())
}

// Clear handles DELETE /admin/v1/cache
func (h *Handler) Clear(c echo.Context) error {
	h.cache.Clear(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

// Sweep handles POST /admin/v1/cache/sweep
func (h *Handler) Sweep(c echo.Context) error {
	removed := h.cache.PurgeExpired(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

func imageURL(c echo.Context) (string, error) {
	rawURL := strings.TrimSpace(c.QueryParam("url"))
	if rawURL == "" {
		return "", core.NewInvalidRequestError("url query parameter is required", nil)
	}
	if _, err := fetcher.ValidateURL(rawURL); err != nil {
		return "", err
	}
	return rawURL, nil
}

// etagMatches reports whether an If-None-Match header value matches etag.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func handleError(c echo.Context, err error) error {
	apiErr := core.ToAPIError(err)
	status := apiErr.HTTPStatusCode()

	attrs := []any{
		"error", err,
		"status", status,
		"request_id", core.RequestID(c.Request().Context()),
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request error", attrs...)
	} else {
		slog.Debug("request error", attrs...)
	}

	return c.JSON(status, apiErr.ToJSON())
}
