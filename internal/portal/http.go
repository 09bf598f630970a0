package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const maxResponseBytes = 10 << 20

// fetch performs one request and reads the whole body.
func fetch(ctx context.Context, hc *http.Client, method, rawURL string, body io.Reader, header http.Header) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}

	log.Debug().
		Str("method", method).
		Str("url", redact(resp.Request.URL)).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("portal request")

	return resp, data, nil
}

func browserHeaders(fetchSite string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", browserUserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "da,en-US;q=0.7,en;q=0.3")
	h.Set("DNT", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", fetchSite)
	h.Set("Sec-Fetch-User", "?1")
	return h
}

func postForm(ctx context.Context, hc *http.Client, target string, values url.Values) (*http.Response, []byte, error) {
	h := browserHeaders("same-origin")
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	return fetch(ctx, hc, http.MethodPost, target, strings.NewReader(values.Encode()), h)
}

// sameURL compares scheme, host, effective port and path.
func sameURL(a *url.URL, b string) bool {
	other, err := url.Parse(b)
	if err != nil || a == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, other.Scheme) &&
		strings.EqualFold(a.Hostname(), other.Hostname()) &&
		effectivePort(a) == effectivePort(other) &&
		a.EscapedPath() == other.EscapedPath()
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// redact drops the query string, which can carry widget ids and tokens.
func redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.Scheme + "://" + u.Host + u.Path
}
