package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aulamcp/aula-mcp-server/internal/errors"
	"github.com/aulamcp/aula-mcp-server/internal/model"
	"github.com/aulamcp/aula-mcp-server/internal/portal"
)

type fakeAuth struct {
	ensureErr   error
	forceErr    error
	cleared     bool
	ensureCalls int
	forceCalls  int
	state       portal.State
	widgets     []model.Widget
}

func (f *fakeAuth) EnsureAuthenticated(ctx context.Context) error {
	f.ensureCalls++
	return f.ensureErr
}

func (f *fakeAuth) ForceLogin(ctx context.Context) error {
	f.forceCalls++
	return f.forceErr
}

func (f *fakeAuth) ClearSession(ctx context.Context) bool {
	return f.cleared
}

func (f *fakeAuth) State() portal.State {
	return f.state
}

func (f *fakeAuth) GetWidgets(ctx context.Context) ([]model.Widget, error) {
	return f.widgets, nil
}

type mockData struct {
	mock.Mock
}

func (m *mockData) GetSummary(ctx context.Context, force bool) (*model.Summary, error) {
	args := m.Called(ctx, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Summary), args.Error(1)
}

func (m *mockData) RefreshData(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockData) GetChildren(ctx context.Context) ([]model.ChildInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ChildInfo), args.Error(1)
}

func (m *mockData) GetChildByID(ctx context.Context, childID string) (*model.ChildInfo, error) {
	args := m.Called(ctx, childID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChildInfo), args.Error(1)
}

func (m *mockData) GetUnreadMessages(ctx context.Context) (model.MessagesResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.MessagesResult), args.Error(1)
}

func (m *mockData) GetPresenceData(ctx context.Context, childID string) (model.PresenceResult, error) {
	args := m.Called(ctx, childID)
	return args.Get(0).(model.PresenceResult), args.Error(1)
}

func (m *mockData) GetGalleryItems(ctx context.Context, limit int) ([]model.Picture, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Picture), args.Error(1)
}

type mockCalendar struct {
	mock.Mock
}

func (m *mockCalendar) GetEventsForChild(ctx context.Context, childID string, start, end time.Time, days int) ([]model.FormattedEvent, error) {
	args := m.Called(ctx, childID, start, end, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.FormattedEvent), args.Error(1)
}

type mockWeeklyPlan struct {
	mock.Mock
}

func (m *mockWeeklyPlan) GetWeeklyPlan(ctx context.Context, childIDs []string, week string) (json.RawMessage, error) {
	args := m.Called(ctx, childIDs, week)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

var copenhagen = time.FixedZone("CEST", 2*60*60)

type toolFixture struct {
	auth     *fakeAuth
	data     *mockData
	calendar *mockCalendar
	weekly   *mockWeeklyPlan
	session  *mcp.ClientSession
}

func newToolFixture(t *testing.T, withWeeklyPlan bool) *toolFixture {
	t.Helper()

	f := &toolFixture{
		auth:     &fakeAuth{cleared: true},
		data:     &mockData{},
		calendar: &mockCalendar{},
		weekly:   &mockWeeklyPlan{},
	}
	opts := ToolOptions{Account: "parent@example.dk", CalendarDays: 14, Location: copenhagen}
	if withWeeklyPlan {
		opts.WeeklyPlan = f.weekly
	}
	server := NewMCPServer("test", NewToolHandler(f.auth, f.data, f.calendar, opts))

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	f.session = session
	return f
}

func (f *toolFixture) call(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	result, err := f.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text, result.IsError
}

func TestListTools(t *testing.T) {
	names := func(f *toolFixture) []string {
		res, err := f.session.ListTools(context.Background(), nil)
		require.NoError(t, err)
		out := make([]string, 0, len(res.Tools))
		for _, tool := range res.Tools {
			out = append(out, tool.Name)
		}
		return out
	}

	base := []string{
		"login", "clear_session_cache", "get_children", "get_child_by_id",
		"get_calendar_events", "get_events_for_date_range", "get_unread_messages",
		"get_presence_data", "get_gallery_items", "get_summary", "refresh_data", "get_widgets",
	}

	t.Run("weekly plan disabled", func(t *testing.T) {
		assert.ElementsMatch(t, base, names(newToolFixture(t, false)))
	})

	t.Run("weekly plan enabled", func(t *testing.T) {
		assert.ElementsMatch(t, append(base, "get_weekly_plan"), names(newToolFixture(t, true)))
	})
}

func TestDataTools(t *testing.T) {
	t.Run("get_children authenticates and returns json", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.data.On("GetChildren", mock.Anything).Return([]model.ChildInfo{
			{ID: "101", Name: "Alma", UserID: "u-101", InstitutionName: "Skolen"},
		}, nil)

		text, isErr := f.call(t, "get_children", nil)

		require.False(t, isErr)
		var children []model.ChildInfo
		require.NoError(t, json.Unmarshal([]byte(text), &children))
		assert.Equal(t, "Alma", children[0].Name)
		assert.Equal(t, 1, f.auth.ensureCalls)
	})

	t.Run("authentication failure short-circuits", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.auth.ensureErr = apperrors.InvalidCredentials()

		text, isErr := f.call(t, "get_children", nil)

		assert.True(t, isErr)
		assert.Equal(t, "Authentication error: Portal rejected the credentials", text)
		f.data.AssertNotCalled(t, "GetChildren", mock.Anything)
	})

	t.Run("unknown child is reported as not found", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.data.On("GetChildByID", mock.Anything, "999").Return(nil, apperrors.NotFound("Child with ID 999"))

		text, isErr := f.call(t, "get_child_by_id", map[string]any{"child_id": "999"})

		assert.True(t, isErr)
		assert.Equal(t, "Child with ID 999 not found", text)
	})

	t.Run("empty child id is rejected", func(t *testing.T) {
		f := newToolFixture(t, false)

		text, isErr := f.call(t, "get_presence_data", map[string]any{"child_id": ""})

		assert.True(t, isErr)
		assert.Equal(t, "child_id is required", text)
	})

	t.Run("other failures name the action", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.data.On("GetSummary", mock.Anything, false).Return(nil, errors.New("boom"))

		text, isErr := f.call(t, "get_summary", nil)

		assert.True(t, isErr)
		assert.Equal(t, "Failed to get summary data: boom", text)
	})

	t.Run("get_summary forwards force_update", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.data.On("GetSummary", mock.Anything, true).Return(&model.Summary{
			Children: []model.ChildInfo{{ID: "101", Name: "Alma"}},
		}, nil)

		text, isErr := f.call(t, "get_summary", map[string]any{"force_update": true})

		require.False(t, isErr)
		assert.Contains(t, text, `"last_updated"`)
		f.data.AssertExpectations(t)
	})

	t.Run("get_gallery_items defaults to three", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.data.On("GetGalleryItems", mock.Anything, 3).Return([]model.Picture{{ID: "1", Title: "Udflugt"}}, nil)

		text, isErr := f.call(t, "get_gallery_items", nil)

		require.False(t, isErr)
		assert.Contains(t, text, "Udflugt")
		f.data.AssertExpectations(t)
	})

	t.Run("get_presence_data returns overview", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.data.On("GetPresenceData", mock.Anything, "101").Return(model.PresenceResult{
			HasPresence: true,
			Overview:    json.RawMessage(`{"status":1}`),
		}, nil)

		text, isErr := f.call(t, "get_presence_data", map[string]any{"child_id": "101"})

		require.False(t, isErr)
		assert.Contains(t, text, `"has_presence": true`)
	})

	t.Run("get_unread_messages returns count", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.data.On("GetUnreadMessages", mock.Anything).Return(model.MessagesResult{
			Count: 1,
			Messages: []model.MessageEntry{
				{Kind: model.MessageKindSensitive, ThreadID: "7", Subject: "Fortroligt", RequiresMitID: true},
			},
		}, nil)

		text, isErr := f.call(t, "get_unread_messages", nil)

		require.False(t, isErr)
		assert.Contains(t, text, `"requires_mitid": true`)
		assert.Contains(t, text, `"count": 1`)
	})

	t.Run("refresh_data reports success", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.data.On("RefreshData", mock.Anything).Return(nil)

		text, isErr := f.call(t, "refresh_data", nil)

		require.False(t, isErr)
		assert.JSONEq(t, `{"success": true}`, text)
	})

	t.Run("get_widgets lists configured widgets", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.auth.widgets = []model.Widget{{ID: "0029", Name: "Ugeplan"}}

		text, isErr := f.call(t, "get_widgets", nil)

		require.False(t, isErr)
		assert.JSONEq(t, `[{"widget_id": "0029", "name": "Ugeplan"}]`, text)
	})
}

func TestCalendarTools(t *testing.T) {
	event := []model.FormattedEvent{{Summary: "Dansk, LH"}}

	t.Run("get_calendar_events uses configured days", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.calendar.On("GetEventsForChild", mock.Anything, "101", time.Time{}, time.Time{}, 14).Return(event, nil)

		text, isErr := f.call(t, "get_calendar_events", map[string]any{"child_id": "101"})

		require.False(t, isErr)
		assert.Contains(t, text, "Dansk, LH")
		f.calendar.AssertExpectations(t)
	})

	t.Run("get_calendar_events honours days", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.calendar.On("GetEventsForChild", mock.Anything, "101", time.Time{}, time.Time{}, 3).Return(event, nil)

		_, isErr := f.call(t, "get_calendar_events", map[string]any{"child_id": "101", "days": 3})

		require.False(t, isErr)
		f.calendar.AssertExpectations(t)
	})

	t.Run("date range parses dates in the local zone", func(t *testing.T) {
		f := newToolFixture(t, false)
		start := time.Date(2026, 10, 19, 0, 0, 0, 0, copenhagen)
		end := time.Date(2026, 10, 23, 0, 0, 0, 0, copenhagen)
		f.calendar.On("GetEventsForChild", mock.Anything, "101",
			mock.MatchedBy(func(t time.Time) bool { return t.Equal(start) }),
			mock.MatchedBy(func(t time.Time) bool { return t.Equal(end) }),
			14,
		).Return(event, nil)

		_, isErr := f.call(t, "get_events_for_date_range", map[string]any{
			"child_id":   "101",
			"start_date": "2026-10-19",
			"end_date":   "2026-10-23",
		})

		require.False(t, isErr)
		f.calendar.AssertExpectations(t)
	})

	t.Run("date range rejects malformed dates", func(t *testing.T) {
		f := newToolFixture(t, false)

		text, isErr := f.call(t, "get_events_for_date_range", map[string]any{
			"child_id":   "101",
			"start_date": "next tuesday",
		})

		assert.True(t, isErr)
		assert.Contains(t, text, "Invalid start_date")
		f.calendar.AssertNotCalled(t, "GetEventsForChild")
	})

	t.Run("inverted range surfaces the service error", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.calendar.On("GetEventsForChild", mock.Anything, "101", mock.Anything, mock.Anything, 14).
			Return(nil, apperrors.InvalidInput("end_date", "must be after start_date"))

		text, isErr := f.call(t, "get_events_for_date_range", map[string]any{
			"child_id":   "101",
			"start_date": "2026-10-23",
			"end_date":   "2026-10-19",
		})

		assert.True(t, isErr)
		assert.Equal(t, "Invalid end_date: must be after start_date", text)
	})
}

func TestSessionTools(t *testing.T) {
	t.Run("login forces a new login", func(t *testing.T) {
		f := newToolFixture(t, false)

		text, isErr := f.call(t, "login", nil)

		require.False(t, isErr)
		assert.JSONEq(t, `{"success": true, "forced": true}`, text)
		assert.Equal(t, 1, f.auth.forceCalls)
		assert.Equal(t, 0, f.auth.ensureCalls)
	})

	t.Run("login in progress is an authentication error", func(t *testing.T) {
		f := newToolFixture(t, false)
		f.auth.forceErr = apperrors.LoginInProgress()

		text, isErr := f.call(t, "login", nil)

		assert.True(t, isErr)
		assert.Equal(t, "Authentication error: A login is already in progress", text)
	})

	t.Run("clear_session_cache reports the outcome", func(t *testing.T) {
		f := newToolFixture(t, false)

		text, isErr := f.call(t, "clear_session_cache", nil)
		require.False(t, isErr)
		assert.JSONEq(t, `{"success": true}`, text)

		f.auth.cleared = false
		text, _ = f.call(t, "clear_session_cache", nil)
		assert.JSONEq(t, `{"success": false}`, text)
	})
}

func TestWeeklyPlanTool(t *testing.T) {
	f := newToolFixture(t, true)
	f.weekly.On("GetWeeklyPlan", mock.Anything, []string{"101"}, "2026-W42").
		Return(json.RawMessage(`{"personer":[]}`), nil)

	text, isErr := f.call(t, "get_weekly_plan", map[string]any{
		"child_ids": []string{"101"},
		"week":      "2026-W42",
	})

	require.False(t, isErr)
	assert.JSONEq(t, `{"personer":[]}`, text)
	f.weekly.AssertExpectations(t)
}
