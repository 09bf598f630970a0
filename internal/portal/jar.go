package portal

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/aulamcp/aula-mcp-server/internal/model"
)

// recordingJar is a cookie jar that remembers every cookie it accepted so
// the authenticated transport can be persisted and rebuilt later.
type recordingJar struct {
	inner *cookiejar.Jar
	now   func() time.Time

	mu      sync.Mutex
	records map[string]model.CookieRecord
}

func newRecordingJar(now func() time.Time) *recordingJar {
	// cookiejar.New never returns a non-nil error.
	inner, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &recordingJar{
		inner:   inner,
		now:     now,
		records: make(map[string]model.CookieRecord),
	}
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	now := j.now()
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, c := range cookies {
		key := cookieKey(u, c)
		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		if c.MaxAge < 0 || (!expires.IsZero() && !expires.After(now)) {
			delete(j.records, key)
			continue
		}
		j.records[key] = model.CookieRecord{
			URL:      (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String(),
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
	}
}

func (j *recordingJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *recordingJar) cookie(rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, c := range j.inner.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (j *recordingJar) size() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

func (j *recordingJar) export() model.TransportState {
	j.mu.Lock()
	defer j.mu.Unlock()

	keys := make([]string, 0, len(j.records))
	for k := range j.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	state := model.TransportState{
		Version: model.TransportStateVersion,
		Cookies: make([]model.CookieRecord, 0, len(keys)),
	}
	for _, k := range keys {
		state.Cookies = append(state.Cookies, j.records[k])
	}
	return state
}

// restoreJar replays a persisted transport state into a fresh jar. Expired
// cookies are dropped.
func restoreJar(state model.TransportState, now func() time.Time) (*recordingJar, error) {
	if state.Version != model.TransportStateVersion {
		return nil, fmt.Errorf("unsupported transport state version %d", state.Version)
	}

	jar := newRecordingJar(now)
	for _, rec := range state.Cookies {
		u, err := url.Parse(rec.URL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("cookie %s has invalid url %q", rec.Name, rec.URL)
		}
		if !rec.Expires.IsZero() && !rec.Expires.After(now()) {
			continue
		}
		jar.SetCookies(u, []*http.Cookie{{
			Name:     rec.Name,
			Value:    rec.Value,
			Domain:   rec.Domain,
			Path:     rec.Path,
			Expires:  rec.Expires,
			Secure:   rec.Secure,
			HttpOnly: rec.HTTPOnly,
		}})
	}
	return jar, nil
}

func cookieKey(u *url.URL, c *http.Cookie) string {
	domain := c.Domain
	if domain == "" {
		domain = u.Hostname()
	}
	return domain + "|" + c.Path + "|" + c.Name
}
