package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	MessageTypeMessage = "Message"

	SensitiveSubject = "Følsom besked"
	SensitiveText    = "Log ind på Aula med MitID for at læse denne besked."
	UnknownSender    = "Ukendt afsender"
)

// MessageText accepts both the plain string and the {"html": ...} form the
// portal uses for message bodies.
type MessageText struct {
	HTML string `json:"html"`
}

func (t *MessageText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		t.HTML = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.HTML)
	}
	var obj struct {
		HTML string `json:"html"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.HTML = obj.HTML
	return nil
}

type MessageSender struct {
	FullName           string `json:"fullName"`
	ShortName          string `json:"shortName,omitempty"`
	InstitutionCode    string `json:"institutionCode,omitempty"`
	Metadata           string `json:"metadata,omitempty"`
	AnswerDirectlyName string `json:"answerDirectlyName,omitempty"`
}

type Message struct {
	ID                FlexID          `json:"id"`
	SendDateTime      string          `json:"sendDateTime"`
	DeletedAt         string          `json:"deletedAt,omitempty"`
	Text              MessageText     `json:"text"`
	HasAttachments    bool            `json:"hasAttachments"`
	PendingMedia      bool            `json:"pendingMedia,omitempty"`
	MessageType       string          `json:"messageType"`
	InviterName       string          `json:"inviterName,omitempty"`
	LeaverNames       []string        `json:"leaverNames,omitempty"`
	Sender            MessageSender   `json:"sender"`
	Attachments       json.RawMessage `json:"attachments,omitempty"`
	CanReplyToMessage *bool           `json:"canReplyToMessage,omitempty"`
}

// Validate checks the fields a displayable message cannot do without.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is missing")
	}
	if m.Sender.FullName == "" {
		return fmt.Errorf("message %s has no sender name", m.ID)
	}
	if _, err := ParsePortalTime(m.SendDateTime); err != nil {
		return fmt.Errorf("message %s: %w", m.ID, err)
	}
	return nil
}

type Thread struct {
	ID      FlexID `json:"id"`
	Subject string `json:"subject"`
	Read    *bool  `json:"read"`
}

// Unread treats a thread without a read flag as read.
func (t Thread) Unread() bool {
	return t.Read != nil && !*t.Read
}

type ThreadList struct {
	Threads []Thread `json:"threads"`
}

type ThreadMessages struct {
	Subject  string            `json:"subject"`
	Messages []json.RawMessage `json:"messages"`
}

type MessageKind string

const (
	MessageKindFull        MessageKind = "full"
	MessageKindSensitive   MessageKind = "sensitive"
	MessageKindParseFailed MessageKind = "parse_failed"
)

// MessageEntry is the newest displayable message of one thread.
type MessageEntry struct {
	Kind          MessageKind `json:"kind"`
	ThreadID      FlexID      `json:"thread_id"`
	Subject       string      `json:"subject"`
	Text          string      `json:"text"`
	Sender        string      `json:"sender"`
	IsUnread      bool        `json:"is_unread"`
	RequiresMitID bool        `json:"requires_mitid"`
	Message       *Message    `json:"message,omitempty"`
}

type MessagesResult struct {
	Count    int            `json:"count"`
	Messages []MessageEntry `json:"messages"`
}

var portalTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
}

// ParsePortalTime parses the timestamp formats the portal emits. Values
// without a zone are taken as UTC.
func ParsePortalTime(s string) (time.Time, error) {
	for _, layout := range portalTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
