// Package fetcher retrieves remote images and prepares them for caching.
package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"

	"imgcache/internal/core"
	"imgcache/internal/httpclient"
)

// DefaultMaxImageBytes caps a single decoded image body.
const DefaultMaxImageBytes = 25 * 1024 * 1024

// maxErrorBodySize bounds how much of a failed response is read for its message.
const maxErrorBodySize = 4 * 1024

// Image is a fetched image body with its MIME type.
type Image struct {
	URL      string
	MIMEType string
	Body     []byte
}

// DataURL renders the image as a data URL.
func (img *Image) DataURL() string {
	return EncodeDataURL(img.MIMEType, img.Body)
}

// Fetcher retrieves remote images.
type Fetcher interface {
	// Fetch performs a GET for rawURL.
	// Failures are *core.FetchError (network, non-2xx or a refused address) or
	// *core.DecodeError (unreadable or non-image body).
	Fetch(ctx context.Context, rawURL string) (*Image, error)
}

// Config holds fetcher options.
type Config struct {
	// MaxImageBytes caps the decoded body size (default: 25 MiB)
	MaxImageBytes int64

	// AllowedHosts restricts upstream hosts; empty allows all
	AllowedHosts []string

	// UserAgent is sent with every request
	UserAgent string
}

// HTTPFetcher implements Fetcher over net/http.
type HTTPFetcher struct {
	client   *http.Client
	hosts    *HostMatcher
	maxBytes int64
	ua       string
}

// New creates an HTTPFetcher. The client should come from the httpclient package
// with transport compression disabled, because decoding happens here.
func New(client *http.Client, cfg Config) (*HTTPFetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	hosts, err := NewHostMatcher(cfg.AllowedHosts)
	if err != nil {
		return nil, err
	}
	maxBytes := cfg.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "imgcache/1.0"
	}
	return &HTTPFetcher{
		client:   client,
		hosts:    hosts,
		maxBytes: maxBytes,
		ua:       ua,
	}, nil
}

// ValidateURL checks that rawURL is an absolute http(s) URL.
func ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, core.NewInvalidRequestError("invalid image url: "+err.Error(), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, core.NewInvalidRequestError("image url must use http or https", nil)
	}
	if u.Host == "" {
		return nil, core.NewInvalidRequestError("image url must include a host", nil)
	}
	return u, nil
}

// Fetch downloads rawURL and returns its decoded body.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Image, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}
	if !f.hosts.Allowed(u.Hostname()) {
		return nil, core.NewFetchError(rawURL, http.StatusForbidden, "host not allowed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, core.NewTransportError(rawURL, err)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/*;q=0.9,*/*;q=0.5")
	req.Header.Set("Accept-Encoding", "br, gzip")
	req.Header.Set("User-Agent", f.ua)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, httpclient.ErrPrivateAddress) {
			return nil, core.NewFetchError(rawURL, http.StatusForbidden, "address not allowed")
		}
		return nil, core.NewTransportError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.NewFetchError(rawURL, resp.StatusCode, upstreamMessage(resp))
	}

	body, err := f.readBody(resp)
	if err != nil {
		return nil, &core.DecodeError{URL: rawURL, Err: err}
	}
	if len(body) == 0 {
		return nil, &core.DecodeError{URL: rawURL, Err: fmt.Errorf("empty response body")}
	}

	mimeType := detectMIME(resp.Header.Get("Content-Type"), body)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, &core.DecodeError{URL: rawURL, Err: fmt.Errorf("response is %s, not an image", mimeType)}
	}

	return &Image{URL: rawURL, MIMEType: mimeType, Body: body}, nil
}

// readBody undoes Content-Encoding and enforces the size cap.
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))); enc {
	case "", "identity":
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer gz.Close()
		r = gz
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}

	body, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", f.maxBytes)
	}
	return body, nil
}

// detectMIME prefers the declared Content-Type and sniffs the body when the
// upstream sent none or a generic binary type.
func detectMIME(contentType string, body []byte) string {
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil &&
			mediaType != "application/octet-stream" && mediaType != "binary/octet-stream" {
			return mediaType
		}
	}
	sniffed := http.DetectContentType(body)
	if mediaType, _, err := mime.ParseMediaType(sniffed); err == nil {
		return mediaType
	}
	return "application/octet-stream"
}

// upstreamMessage extracts a short reason from an error response body.
// JSON bodies are searched for the usual error fields; short text bodies are used as is.
func upstreamMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil || len(raw) == 0 {
		return ""
	}

	if gjson.ValidBytes(raw) {
		for _, path := range []string{"error.message", "message", "error", "detail"} {
			if r := gjson.GetBytes(raw, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
				return r.String()
			}
		}
		return ""
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return msg
	}
	return ""
}
