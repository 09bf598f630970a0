package model

import (
	"encoding/json"
	"time"
)

type PresenceResult struct {
	HasPresence bool            `json:"has_presence"`
	Overview    json.RawMessage `json:"overview"`
}

type ChildInfo struct {
	ID              FlexID `json:"id"`
	Name            string `json:"name"`
	UserID          FlexID `json:"user_id"`
	InstitutionName string `json:"institution_name,omitempty"`
	InstitutionCode string `json:"institution_code,omitempty"`
}

type Widget struct {
	ID   string `json:"widget_id"`
	Name string `json:"name"`
}

type Summary struct {
	Children    []ChildInfo                 `json:"children"`
	Messages    MessagesResult              `json:"messages"`
	Presence    map[string]PresenceResult   `json:"presence"`
	Calendar    map[string][]FormattedEvent `json:"calendar"`
	Gallery     []Picture                   `json:"gallery"`
	LastUpdated time.Time                   `json:"last_updated"`
}
