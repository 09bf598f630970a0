package portal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aulamcp/aula-mcp-server/internal/sessionstore"
)

const (
	testUsername = "parent"
	testPassword = "hunter2"
)

// fakePortal imitates the login broker and the versioned portal API.
type fakePortal struct {
	t   *testing.T
	srv *httptest.Server

	relaySteps int
	minVersion int
	noForm     bool

	mu       sync.Mutex
	sessions map[string]bool
	api      map[string]http.HandlerFunc

	logins       atomic.Int32
	probes       atomic.Int32
	tokenFetches atomic.Int32
	// requests counts every request the portal served.
	requests atomic.Int32
	// formPosts counts credential, relay and finish submissions.
	formPosts atomic.Int32
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{
		t:          t,
		relaySteps: 2,
		minVersion: 20,
		sessions:   make(map[string]bool),
		api:        make(map[string]http.HandlerFunc),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login.php", p.handleEntry)
	mux.HandleFunc("/auth/select", p.handleSelect)
	mux.HandleFunc("/idp/login", p.handleCredentials)
	mux.HandleFunc("/broker/relay/", p.handleRelay)
	mux.HandleFunc("/auth/finish", p.handleFinish)
	mux.HandleFunc("/portal/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>portal</body></html>")
	})
	mux.HandleFunc("/api/", p.handleAPI)

	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePortal) config() Config {
	return Config{
		Username:     testUsername,
		Password:     testPassword,
		LoginURL:     p.srv.URL + "/auth/login.php",
		APIBase:      p.srv.URL + "/api/v",
		APIVersion:   20,
		LandingURL:   p.srv.URL + "/portal/",
		HTTPTimeout:  5 * time.Second,
		MaxRedirects: 10,
	}
}

func (p *fakePortal) handle(method string, h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.api[method] = h
}

// expireSessions makes the portal forget every issued session.
func (p *fakePortal) expireSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = make(map[string]bool)
}

func (p *fakePortal) authorized(r *http.Request) bool {
	c, err := r.Cookie("PHPSESSID")
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[c.Value]
}

func writeForm(w http.ResponseWriter, action string, inputs map[string]string) {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><form method="post" action="%s">`, action)
	for name, value := range inputs {
		fmt.Fprintf(&b, `<input type="hidden" name="%s" value="%s">`, name, value)
	}
	b.WriteString(`<input type="submit"></form></body></html>`)
	fmt.Fprint(w, b.String())
}

func (p *fakePortal) handleEntry(w http.ResponseWriter, r *http.Request) {
	if p.noForm {
		fmt.Fprint(w, "<html><body>Maintenance</body></html>")
		return
	}
	writeForm(w, "/auth/select", map[string]string{"entry": "1"})
}

func (p *fakePortal) handleSelect(w http.ResponseWriter, r *http.Request) {
	require.NoError(p.t, r.ParseForm())
	if r.PostForm.Get("selectedIdp") != "uni_idp" {
		http.Error(w, "unknown idp", http.StatusBadRequest)
		return
	}
	writeForm(w, "/idp/login", map[string]string{
		"username":        "",
		"password":        "",
		"selected-aktoer": "",
		"csrf_login":      "abc",
	})
}

func (p *fakePortal) handleCredentials(w http.ResponseWriter, r *http.Request) {
	p.formPosts.Add(1)
	require.NoError(p.t, r.ParseForm())
	ok := r.PostForm.Get("username") == testUsername &&
		r.PostForm.Get("password") == testPassword &&
		r.PostForm.Get("selected-aktoer") == DefaultActor
	p.relayOrFinish(w, 1, ok)
}

func (p *fakePortal) relayOrFinish(w http.ResponseWriter, step int, ok bool) {
	if step > p.relaySteps {
		writeForm(w, "/auth/finish", map[string]string{"ok": strconv.FormatBool(ok)})
		return
	}
	writeForm(w, fmt.Sprintf("/broker/relay/%d", step), map[string]string{
		"SAMLResponse": "assertion",
		"ok":           strconv.FormatBool(ok),
	})
}

func (p *fakePortal) handleRelay(w http.ResponseWriter, r *http.Request) {
	p.formPosts.Add(1)
	require.NoError(p.t, r.ParseForm())
	step, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/broker/relay/"))
	require.NoError(p.t, err)
	p.relayOrFinish(w, step+1, r.PostForm.Get("ok") == "true")
}

func (p *fakePortal) handleFinish(w http.ResponseWriter, r *http.Request) {
	p.formPosts.Add(1)
	require.NoError(p.t, r.ParseForm())
	if r.PostForm.Get("ok") == "true" {
		n := p.logins.Add(1)
		id := fmt.Sprintf("sess-%d", n)
		p.mu.Lock()
		p.sessions[id] = true
		p.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: id, Path: "/", HttpOnly: true})
		http.SetCookie(w, &http.Cookie{Name: csrfCookieName, Value: fmt.Sprintf("csrf-%d", n), Path: "/"})
	}
	http.Redirect(w, r, "/portal/", http.StatusFound)
}

func (p *fakePortal) handleAPI(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/v"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if version < p.minVersion {
		w.WriteHeader(http.StatusGone)
		return
	}
	if !p.authorized(r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	method := r.URL.Query().Get("method")
	switch method {
	case methodProfilesByLogin:
		p.probes.Add(1)
		writeEnvelope(w, map[string]any{
			"profiles": []any{map[string]any{
				"children": []any{
					map[string]any{"id": 101, "name": "Alma", "userId": "alma01",
						"institutionProfile": map[string]any{"institutionName": "Skolen", "institutionCode": "280001"}},
					map[string]any{"id": "102", "name": "Bo"},
				},
			}},
		})
		return
	case methodProfileContext:
		writeEnvelope(w, map[string]any{
			"institutionProfile": map[string]any{"relations": []any{map[string]any{"id": 101}}},
			"pageConfiguration": map[string]any{"widgetConfigurations": []any{
				map[string]any{"widget": map[string]any{"widgetId": "0029", "name": "Ugeplan"}},
				map[string]any{"widget": map[string]any{"widgetId": 4, "name": "Huskeliste"}},
			}},
		})
		return
	case methodWidgetToken:
		n := p.tokenFetches.Add(1)
		writeEnvelope(w, fmt.Sprintf("tok-%s-%d", r.URL.Query().Get("widgetId"), n))
		return
	}

	p.mu.Lock()
	h, ok := p.api[method]
	p.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": map[string]any{"message": "OK", "code": 0},
		"data":   data,
	})
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, dir string, clock *fakeClock) *sessionstore.Store {
	t.Helper()
	store, err := sessionstore.NewFileStore(dir, sessionstore.WithClock(clock.Now))
	require.NoError(t, err)
	return store
}

func newTestClient(t *testing.T, p *fakePortal) (*Client, *sessionstore.Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := newTestStore(t, t.TempDir(), clock)
	return NewClient(p.config(), store, WithClock(clock.Now)), store, clock
}
