package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "github.com/joshuaslong/labor-membership-sub000/internal/log"
)

const maxFeedBytes = 16 << 20

// cacheMeta holds the validators of the last successful download.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads calendar feeds, revalidating with ETag/Last-Modified
// against a disk cache and falling back to the cached body when the
// origin is unreachable.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher. An empty cacheDir disables caching.
func NewFetcher(cacheDir string) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// Fetch returns the body at rawURL. webcal:// is fetched over https.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (body []byte, fromCache bool, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return nil, false, fmt.Errorf("invalid feed url %q", redactURL(rawURL))
	}
	switch strings.ToLower(u.Scheme) {
	case "webcal":
		u.Scheme = "https"
	case "http", "https":
	default:
		return nil, false, fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}
	target := u.String()

	var (
		dir    string
		meta   cacheMeta
		cached []byte
	)
	if f.cacheDir != "" {
		dir = f.cachePath(target)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, false, err
		}
		meta, _ = loadMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, "body.ics"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "text/calendar")
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics fetch start", "url", redactURL(target))
	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "url", redactURL(target))
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
		if err != nil {
			return nil, false, err
		}
		if len(body) > maxFeedBytes {
			return nil, false, fmt.Errorf("feed larger than %d bytes", maxFeedBytes)
		}
		if dir != "" {
			m := cacheMeta{URL: target, ETag: resp.Header.Get("ETag"), LastModified: resp.Header.Get("Last-Modified")}
			if err := saveCache(dir, m, body); err != nil {
				appLog.Error("ics cache save failed", err, "url", redactURL(target))
			}
		}
		appLog.Info("ics fetch success", "url", redactURL(target), "bytes", len(body))
		return body, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "url", redactURL(target))
		return cached, true, nil

	default:
		if len(cached) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(target))
			return cached, true, nil
		}
		return nil, false, fmt.Errorf("fetch %s: %s", redactURL(target), resp.Status)
	}
}

func (f *Fetcher) cachePath(target string) string {
	sum := sha256.Sum256([]byte(target))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// saveCache writes the body before the metadata so meta never points at a
// missing body.
func saveCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; private feed URLs carry tokens in
// the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
