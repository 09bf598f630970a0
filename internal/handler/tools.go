package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/aulamcp/aula-mcp-server/internal/audit"
	apperrors "github.com/aulamcp/aula-mcp-server/internal/errors"
	"github.com/aulamcp/aula-mcp-server/internal/model"
	"github.com/aulamcp/aula-mcp-server/internal/portal"
	"github.com/aulamcp/aula-mcp-server/internal/util"
)

const (
	ServerName = "aula-mcp-server"

	defaultGalleryLimit = 3
)

type Authenticator interface {
	EnsureAuthenticated(ctx context.Context) error
	ForceLogin(ctx context.Context) error
	ClearSession(ctx context.Context) bool
	State() portal.State
	GetWidgets(ctx context.Context) ([]model.Widget, error)
}

type DataService interface {
	GetSummary(ctx context.Context, force bool) (*model.Summary, error)
	RefreshData(ctx context.Context) error
	GetChildren(ctx context.Context) ([]model.ChildInfo, error)
	GetChildByID(ctx context.Context, childID string) (*model.ChildInfo, error)
	GetUnreadMessages(ctx context.Context) (model.MessagesResult, error)
	GetPresenceData(ctx context.Context, childID string) (model.PresenceResult, error)
	GetGalleryItems(ctx context.Context, limit int) ([]model.Picture, error)
}

type CalendarReader interface {
	GetEventsForChild(ctx context.Context, childID string, start, end time.Time, days int) ([]model.FormattedEvent, error)
}

type WeeklyPlanReader interface {
	GetWeeklyPlan(ctx context.Context, childIDs []string, week string) (json.RawMessage, error)
}

// ToolHandler exposes the portal data as MCP tools.
type ToolHandler struct {
	auth         Authenticator
	data         DataService
	calendar     CalendarReader
	weekly       WeeklyPlanReader
	account      string
	calendarDays int
	loc          *time.Location
}

type ToolOptions struct {
	// Account is the portal username, masked before it reaches logs.
	Account      string
	CalendarDays int
	// WeeklyPlan enables get_weekly_plan when set.
	WeeklyPlan WeeklyPlanReader
	Location   *time.Location
}

func NewToolHandler(auth Authenticator, data DataService, calendar CalendarReader, opts ToolOptions) *ToolHandler {
	if opts.CalendarDays <= 0 {
		opts.CalendarDays = 14
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &ToolHandler{
		auth:         auth,
		data:         data,
		calendar:     calendar,
		weekly:       opts.WeeklyPlan,
		account:      util.MaskUsername(opts.Account),
		calendarDays: opts.CalendarDays,
		loc:          opts.Location,
	}
}

// NewMCPServer builds an MCP server with every tool of h registered.
func NewMCPServer(version string, h *ToolHandler) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	h.Register(server)
	return server
}

type emptyInput struct{}

type childInput struct {
	ChildID string `json:"child_id" jsonschema:"ID of the child"`
}

type calendarInput struct {
	ChildID string `json:"child_id" jsonschema:"ID of the child"`
	Days    int    `json:"days,omitempty" jsonschema:"Number of days to fetch, default 14"`
}

type dateRangeInput struct {
	ChildID   string `json:"child_id" jsonschema:"ID of the child"`
	StartDate string `json:"start_date,omitempty" jsonschema:"Start date in ISO format, default now"`
	EndDate   string `json:"end_date,omitempty" jsonschema:"End date in ISO format, default start plus days"`
	Days      int    `json:"days,omitempty" jsonschema:"Number of days if no end date is given"`
}

type galleryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of items to return, default 3"`
}

type summaryInput struct {
	ForceUpdate bool `json:"force_update,omitempty" jsonschema:"Refresh all data regardless of cache age"`
}

type weeklyPlanInput struct {
	ChildIDs []string `json:"child_ids,omitempty" jsonschema:"Children to include, default all"`
	Week     string   `json:"week,omitempty" jsonschema:"ISO week such as 2026-W42, default current week"`
}

func readOnly() *mcp.ToolAnnotations {
	return &mcp.ToolAnnotations{ReadOnlyHint: true}
}

func (h *ToolHandler) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "login",
		Description: "Force a new login to Aula (usually not needed as login happens automatically)",
	}, h.login)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_session_cache",
		Description: "Clear the session cache and force a new login on the next call",
	}, h.clearSessionCache)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_children",
		Description: "Get the list of children from Aula",
		Annotations: readOnly(),
	}, h.getChildren)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_child_by_id",
		Description: "Get child data by ID",
		Annotations: readOnly(),
	}, h.getChildByID)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_calendar_events",
		Description: "Get calendar events for a child for the coming days",
		Annotations: readOnly(),
	}, h.getCalendarEvents)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_events_for_date_range",
		Description: "Get calendar events for a child within a date range",
		Annotations: readOnly(),
	}, h.getEventsForDateRange)

	mcp.AddTool(server, &mcp.Tool{
		Name: "get_unread_messages",
		Description: "Get the newest messages from Aula with the unread count. Sensitive messages " +
			"that need MitID are listed with requires_mitid set and no content.",
		Annotations: readOnly(),
	}, h.getUnreadMessages)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_presence_data",
		Description: "Get today's presence overview for a child",
		Annotations: readOnly(),
	}, h.getPresenceData)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_gallery_items",
		Description: "Get the newest gallery pictures",
		Annotations: readOnly(),
	}, h.getGalleryItems)

	mcp.AddTool(server, &mcp.Tool{
		Name: "get_summary",
		Description: "Get a summary of children, messages, presence, calendar and gallery in one call. " +
			"Cached data up to 15 minutes old is returned unless force_update is set.",
		Annotations: readOnly(),
	}, h.getSummary)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "refresh_data",
		Description: "Refresh all data from Aula",
	}, h.refreshData)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_widgets",
		Description: "List the widgets configured for the guardian",
		Annotations: readOnly(),
	}, h.getWidgets)

	if h.weekly != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "get_weekly_plan",
			Description: "Get the weekly letter (ugeplan) from MinUddannelse for one ISO week",
			Annotations: readOnly(),
		}, h.getWeeklyPlan)
	}
}

func (h *ToolHandler) login(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	err := h.auth.ForceLogin(ctx)
	audit.Log(ctx, audit.Event{
		Type:    audit.EventToolCall,
		Tool:    "login",
		Account: h.account,
		Details: map[string]interface{}{"success": err == nil},
	})
	if err != nil {
		return toolError("login", err), nil, nil
	}
	return jsonResult(map[string]bool{"success": true, "forced": true})
}

func (h *ToolHandler) clearSessionCache(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	cleared := h.auth.ClearSession(ctx)
	audit.Log(ctx, audit.Event{
		Type:    audit.EventToolCall,
		Tool:    "clear_session_cache",
		Account: h.account,
		Details: map[string]interface{}{"success": cleared},
	})
	return jsonResult(map[string]bool{"success": cleared})
}

func (h *ToolHandler) getChildren(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get children", func(ctx context.Context) (any, error) {
		return h.data.GetChildren(ctx)
	})
}

func (h *ToolHandler) getChildByID(ctx context.Context, _ *mcp.CallToolRequest, in childInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get child "+in.ChildID, func(ctx context.Context) (any, error) {
		if in.ChildID == "" {
			return nil, apperrors.MissingRequired("child_id")
		}
		return h.data.GetChildByID(ctx, in.ChildID)
	})
}

func (h *ToolHandler) getCalendarEvents(ctx context.Context, _ *mcp.CallToolRequest, in calendarInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get calendar events", func(ctx context.Context) (any, error) {
		if in.ChildID == "" {
			return nil, apperrors.MissingRequired("child_id")
		}
		return h.calendar.GetEventsForChild(ctx, in.ChildID, time.Time{}, time.Time{}, h.days(in.Days))
	})
}

func (h *ToolHandler) getEventsForDateRange(ctx context.Context, _ *mcp.CallToolRequest, in dateRangeInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get calendar events", func(ctx context.Context) (any, error) {
		if in.ChildID == "" {
			return nil, apperrors.MissingRequired("child_id")
		}
		var start, end time.Time
		var err error
		if in.StartDate != "" {
			if start, err = util.ParseDate(in.StartDate, h.loc); err != nil {
				return nil, apperrors.InvalidInput("start_date", err.Error())
			}
		}
		if in.EndDate != "" {
			if end, err = util.ParseDate(in.EndDate, h.loc); err != nil {
				return nil, apperrors.InvalidInput("end_date", err.Error())
			}
		}
		return h.calendar.GetEventsForChild(ctx, in.ChildID, start, end, h.days(in.Days))
	})
}

func (h *ToolHandler) getUnreadMessages(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get messages", func(ctx context.Context) (any, error) {
		return h.data.GetUnreadMessages(ctx)
	})
}

func (h *ToolHandler) getPresenceData(ctx context.Context, _ *mcp.CallToolRequest, in childInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get presence data", func(ctx context.Context) (any, error) {
		if in.ChildID == "" {
			return nil, apperrors.MissingRequired("child_id")
		}
		return h.data.GetPresenceData(ctx, in.ChildID)
	})
}

func (h *ToolHandler) getGalleryItems(ctx context.Context, _ *mcp.CallToolRequest, in galleryInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get gallery items", func(ctx context.Context) (any, error) {
		limit := in.Limit
		if limit <= 0 {
			limit = defaultGalleryLimit
		}
		return h.data.GetGalleryItems(ctx, limit)
	})
}

func (h *ToolHandler) getSummary(ctx context.Context, _ *mcp.CallToolRequest, in summaryInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get summary data", func(ctx context.Context) (any, error) {
		return h.data.GetSummary(ctx, in.ForceUpdate)
	})
}

func (h *ToolHandler) refreshData(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "refresh data", func(ctx context.Context) (any, error) {
		if err := h.data.RefreshData(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"success": true}, nil
	})
}

func (h *ToolHandler) getWidgets(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get widgets", func(ctx context.Context) (any, error) {
		return h.auth.GetWidgets(ctx)
	})
}

func (h *ToolHandler) getWeeklyPlan(ctx context.Context, _ *mcp.CallToolRequest, in weeklyPlanInput) (*mcp.CallToolResult, any, error) {
	return h.run(ctx, "get weekly plan", func(ctx context.Context) (any, error) {
		return h.weekly.GetWeeklyPlan(ctx, in.ChildIDs, in.Week)
	})
}

func (h *ToolHandler) days(requested int) int {
	if requested > 0 {
		return requested
	}
	return h.calendarDays
}

// run authenticates, calls fn and renders its result or error.
func (h *ToolHandler) run(ctx context.Context, action string, fn func(context.Context) (any, error)) (*mcp.CallToolResult, any, error) {
	start := time.Now()
	if err := h.auth.EnsureAuthenticated(ctx); err != nil {
		return toolError(action, err), nil, nil
	}

	out, err := fn(ctx)
	log.Debug().Str("action", action).Dur("elapsed", time.Since(start)).Err(err).Msg("tool call")
	if err != nil {
		return toolError(action, err), nil, nil
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("encode result", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// toolError renders err as a client-visible tool failure. Authentication
// problems are labelled as such so clients can tell them apart.
func toolError(action string, err error) *mcp.CallToolResult {
	var text string
	switch {
	case apperrors.IsAuthentication(err):
		text = "Authentication error: " + errorMessage(err)
	case apperrors.GetCode(err) == apperrors.ErrCodeNotFound,
		apperrors.GetCode(err) == apperrors.ErrCodeMissingRequired,
		apperrors.GetCode(err) == apperrors.ErrCodeInvalidInput:
		text = errorMessage(err)
	default:
		text = "Failed to " + action + ": " + errorMessage(err)
	}
	log.Error().Err(err).Str("action", action).Msg("tool failed")

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func errorMessage(err error) string {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		return err.Error()
	}
	if cause := appErr.Unwrap(); cause != nil {
		return appErr.Message + ": " + cause.Error()
	}
	return appErr.Message
}
