package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aulamcp/aula-mcp-server/internal/model"
	"github.com/aulamcp/aula-mcp-server/internal/portal"
)

type mockPortalAPI struct {
	mock.Mock

	mu      sync.Mutex
	methods []string
}

func (m *mockPortalAPI) Call(ctx context.Context, req portal.Request) *model.Envelope {
	m.record(req.Method)
	args := m.Called(ctx, req)
	return args.Get(0).(*model.Envelope)
}

func (m *mockPortalAPI) Profiles() []model.Profile {
	m.record("profiles")
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]model.Profile)
}

func (m *mockPortalAPI) GetToken(ctx context.Context, widgetID string, mockToken bool) (string, error) {
	args := m.Called(ctx, widgetID, mockToken)
	return args.String(0), args.Error(1)
}

func (m *mockPortalAPI) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods = append(m.methods, method)
}

func (m *mockPortalAPI) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.methods)
}

// phases collapses consecutive repeats of the recorded call sequence.
func (m *mockPortalAPI) phases() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, method := range m.methods {
		if len(out) == 0 || out[len(out)-1] != method {
			out = append(out, method)
		}
	}
	return out
}

func forMethod(name string) interface{} {
	return mock.MatchedBy(func(r portal.Request) bool { return r.Method == name })
}

func forParam(name, key, value string) interface{} {
	return mock.MatchedBy(func(r portal.Request) bool {
		return r.Method == name && r.Params.Get(key) == value
	})
}

func okEnv(t *testing.T, data any) *model.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &model.Envelope{Status: model.Status{Message: model.StatusOK}, Data: raw}
}

func rawEnv(raw string) *model.Envelope {
	return &model.Envelope{Status: model.Status{Message: model.StatusOK}, Data: json.RawMessage(raw)}
}

var testProfiles = []model.Profile{{Children: []model.Child{
	{
		ID:                 "101",
		Name:               "Alma",
		UserID:             "alma01",
		InstitutionProfile: &model.InstitutionProfile{InstitutionName: "Skolen", InstitutionCode: "280001"},
	},
	{ID: "102", Name: "Bo", UserID: "bo02"},
}}}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var copenhagen = time.FixedZone("CEST", 2*60*60)
