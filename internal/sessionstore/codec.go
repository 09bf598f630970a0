package sessionstore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/aulamcp/aula-mcp-server/internal/model"
	"github.com/aulamcp/aula-mcp-server/internal/util"
)

// document is the persisted form:
//
//	{"timestamp": ..., "session": {"api_url", "profiles", "tokens", "csrf_token", "transport_state"}}
type document struct {
	Timestamp time.Time     `json:"timestamp"`
	Session   storedSession `json:"session"`
}

type storedSession struct {
	model.Session
	TransportState string `json:"transport_state"`
}

type codec struct {
	encryptionKey string
}

func (c codec) encode(snap *model.Snapshot, savedAt time.Time) ([]byte, error) {
	state := snap.Transport
	if state.Version == 0 {
		state.Version = model.TransportStateVersion
	}

	raw, err := cbor.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode transport state: %w", err)
	}

	var wrapped string
	if c.encryptionKey != "" {
		wrapped, err = util.Encrypt(c.encryptionKey, raw)
		if err != nil {
			return nil, fmt.Errorf("encrypt transport state: %w", err)
		}
	} else {
		wrapped = base64.StdEncoding.EncodeToString(raw)
	}

	doc := document{
		Timestamp: savedAt.UTC(),
		Session: storedSession{
			Session:        snap.Session,
			TransportState: wrapped,
		},
	}
	return json.Marshal(doc)
}

func (c codec) decode(data []byte) (*model.Snapshot, time.Time, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse session document: %w", err)
	}
	if doc.Timestamp.IsZero() {
		return nil, time.Time{}, fmt.Errorf("session document has no timestamp")
	}
	if doc.Session.TransportState == "" {
		return nil, time.Time{}, fmt.Errorf("session document has no transport state")
	}

	var raw []byte
	var err error
	if c.encryptionKey != "" {
		raw, err = util.Decrypt(c.encryptionKey, doc.Session.TransportState)
	} else {
		raw, err = base64.StdEncoding.DecodeString(doc.Session.TransportState)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("unwrap transport state: %w", err)
	}

	var state model.TransportState
	if err := cbor.Unmarshal(raw, &state); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode transport state: %w", err)
	}
	if state.Version != model.TransportStateVersion {
		return nil, time.Time{}, fmt.Errorf("unsupported transport state version %d", state.Version)
	}

	session := doc.Session.Session
	if session.Tokens == nil {
		session.Tokens = map[string]model.Token{}
	}
	return &model.Snapshot{Session: session, Transport: state}, doc.Timestamp, nil
}
