package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/aulamcp/aula-mcp-server/internal/errors"
	"github.com/aulamcp/aula-mcp-server/internal/model"
	"github.com/aulamcp/aula-mcp-server/internal/portal"
	"github.com/aulamcp/aula-mcp-server/internal/util"
)

type calendarWindow struct {
	from, to time.Time
	events   []model.CalendarEvent
}

func (w calendarWindow) covers(from, to time.Time) bool {
	return !from.Before(w.from) && !to.After(w.to)
}

type CalendarService struct {
	api PortalAPI
	now func() time.Time

	mu    sync.Mutex
	cache map[string]calendarWindow
}

func NewCalendarService(api PortalAPI) *CalendarService {
	return &CalendarService{
		api:   api,
		now:   time.Now,
		cache: make(map[string]calendarWindow),
	}
}

// Invalidate drops every cached calendar window.
func (s *CalendarService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]calendarWindow)
}

// GetEventsForChild returns the formatted events overlapping [start, end).
// A zero start means now; a zero end means start plus days.
func (s *CalendarService) GetEventsForChild(ctx context.Context, childID string, start, end time.Time, days int) ([]model.FormattedEvent, error) {
	if days <= 0 {
		days = DefaultCalendarDays
	}
	if start.IsZero() {
		start = s.now()
	}
	if end.IsZero() {
		end = start.AddDate(0, 0, days)
	}
	if !end.After(start) {
		return nil, apperrors.InvalidInput("end_date", "must be after start_date")
	}

	events, err := s.events(ctx, childID, start, end)
	if err != nil {
		return nil, err
	}
	return FilterEvents(FormatEvents(events), start, end), nil
}

func (s *CalendarService) events(ctx context.Context, childID string, start, end time.Time) ([]model.CalendarEvent, error) {
	s.mu.Lock()
	w, ok := s.cache[childID]
	s.mu.Unlock()
	if ok && w.covers(start, end) {
		return w.events, nil
	}

	from := util.StartOfDay(start)
	events, err := s.fetch(ctx, childID, from, end)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[childID] = calendarWindow{from: from, to: end, events: events}
	s.mu.Unlock()
	return events, nil
}

func (s *CalendarService) fetch(ctx context.Context, childID string, from, to time.Time) ([]model.CalendarEvent, error) {
	body := map[string]any{
		"instProfileIds": []string{childID},
		"resourceIds":    []string{},
		"start":          calendarBoundary(from),
		"end":            calendarBoundary(to),
	}

	env := s.api.Call(ctx, portal.NewRequest(methodCalendarEvents).WithBody(body))
	if !env.OK() {
		return nil, apperrors.External("calendar", fmt.Errorf("portal returned status %d", env.Status.Code))
	}

	var events []model.CalendarEvent
	if err := env.Decode(&events); err != nil {
		return nil, apperrors.DataShape("calendar", err)
	}

	log.Debug().Str("child_id", childID).Int("events", len(events)).Msg("calendar fetched")
	return events, nil
}

// calendarBoundary renders the midnight timestamp the calendar API expects.
func calendarBoundary(t time.Time) string {
	return t.Format("2006-01-02") + " 00:00:00.0000" + t.Format("-0700")
}

// FormatEvents renders events for display. Events with unreadable times
// are skipped.
func FormatEvents(events []model.CalendarEvent) []model.FormattedEvent {
	out := make([]model.FormattedEvent, 0, len(events))
	for _, ev := range events {
		start, err := model.ParsePortalTime(ev.StartDateTime)
		if err != nil {
			log.Debug().Err(err).Str("title", ev.Title).Msg("skipping calendar event")
			continue
		}
		end, err := model.ParsePortalTime(ev.EndDateTime)
		if err != nil {
			log.Debug().Err(err).Str("title", ev.Title).Msg("skipping calendar event")
			continue
		}

		formatted := model.FormattedEvent{
			Summary: ev.Title,
			Start:   start,
			End:     end,
			Teacher: eventTeacher(ev.Lesson),
		}
		if ev.PrimaryResource != nil {
			formatted.Location = ev.PrimaryResource.Name
		}
		if formatted.Teacher != "" {
			formatted.Summary = ev.Title + ", " + formatted.Teacher
		}
		out = append(out, formatted)
	}
	return out
}

// eventTeacher names a substitute if there is one, otherwise the first
// participant by initials or name.
func eventTeacher(lesson *model.Lesson) string {
	if lesson == nil || len(lesson.Participants) == 0 {
		return ""
	}
	for _, p := range lesson.Participants {
		if p.ParticipantRole == model.ParticipantRoleSubstitute {
			return "VIKAR: " + p.TeacherName
		}
	}
	first := lesson.Participants[0]
	if first.TeacherInitials != "" {
		return first.TeacherInitials
	}
	return first.TeacherName
}

// FilterEvents keeps events overlapping [from, to).
func FilterEvents(events []model.FormattedEvent, from, to time.Time) []model.FormattedEvent {
	out := make([]model.FormattedEvent, 0, len(events))
	for _, ev := range events {
		if ev.End.After(from) && ev.Start.Before(to) {
			out = append(out, ev)
		}
	}
	return out
}
