package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexID is an identifier the portal sends as either a JSON number or a
// JSON string. It is always held and compared in its string form.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = FlexID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string {
	return string(id)
}

type InstitutionProfile struct {
	ID              FlexID `json:"id,omitempty"`
	InstitutionName string `json:"institutionName,omitempty"`
	InstitutionCode string `json:"institutionCode,omitempty"`
	Role            string `json:"role,omitempty"`
}

type Child struct {
	ID                 FlexID              `json:"id"`
	Name               string              `json:"name"`
	UserID             FlexID              `json:"userId,omitempty"`
	InstitutionProfile *InstitutionProfile `json:"institutionProfile,omitempty"`
}

func (c Child) InstitutionName() string {
	if c.InstitutionProfile == nil {
		return ""
	}
	return c.InstitutionProfile.InstitutionName
}

func (c Child) InstitutionCode() string {
	if c.InstitutionProfile == nil {
		return ""
	}
	return c.InstitutionProfile.InstitutionCode
}

type Profile struct {
	Children            []Child           `json:"children"`
	InstitutionProfiles []json.RawMessage `json:"institutionProfiles,omitempty"`
}

// Token is a widget bearer token together with the time it was fetched.
type Token struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}

// Fresh reports whether the token is younger than window at now.
func (t Token) Fresh(now time.Time, window time.Duration) bool {
	if t.Token == "" {
		return false
	}
	return now.Sub(t.Timestamp) < window
}

// Session holds what a successful portal login discovered.
type Session struct {
	APIURL    string           `json:"api_url"`
	Profiles  []Profile        `json:"profiles"`
	Tokens    map[string]Token `json:"tokens"`
	CSRFToken string           `json:"csrf_token,omitempty"`
}

// Clone returns a deep-enough copy for persisting outside the client lock.
func (s Session) Clone() Session {
	out := Session{
		APIURL:    s.APIURL,
		CSRFToken: s.CSRFToken,
		Profiles:  append([]Profile(nil), s.Profiles...),
		Tokens:    make(map[string]Token, len(s.Tokens)),
	}
	for k, v := range s.Tokens {
		out.Tokens[k] = v
	}
	return out
}

// Children flattens the children of every profile in login order.
func (s Session) Children() []Child {
	var children []Child
	for _, p := range s.Profiles {
		children = append(children, p.Children...)
	}
	return children
}

// Snapshot is the unit persisted by the session store.
type Snapshot struct {
	Session   Session
	Transport TransportState
}
