package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want FlexID
	}{
		{"number", `123`, "123"},
		{"string", `"0029"`, "0029"},
		{"null", `null`, ""},
		{"large number", `9007199254740993`, "9007199254740993"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var id FlexID
			require.NoError(t, json.Unmarshal([]byte(tc.in), &id))
			assert.Equal(t, tc.want, id)
		})
	}

	t.Run("rejects objects", func(t *testing.T) {
		var id FlexID
		assert.Error(t, json.Unmarshal([]byte(`{"id":1}`), &id))
	})

	t.Run("marshals as string", func(t *testing.T) {
		data, err := json.Marshal(Child{ID: "7", Name: "Alma"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"7","name":"Alma"}`, string(data))
	})
}

func TestMessageText(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"text":"plain"}`), &m))
	assert.Equal(t, "plain", m.Text.HTML)

	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"text":{"html":"<p>hej</p>"}}`), &m))
	assert.Equal(t, "<p>hej</p>", m.Text.HTML)

	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"text":null}`), &m))
	assert.Equal(t, "", m.Text.HTML)
}

func TestMessageValidate(t *testing.T) {
	valid := Message{ID: "1", SendDateTime: "2026-10-18T08:15:00+02:00", Sender: MessageSender{FullName: "Lærer Hansen"}}
	assert.NoError(t, valid.Validate())

	noID := valid
	noID.ID = ""
	assert.Error(t, noID.Validate())

	noSender := valid
	noSender.Sender.FullName = ""
	assert.Error(t, noSender.Validate())

	badTime := valid
	badTime.SendDateTime = "yesterday"
	assert.Error(t, badTime.Validate())
}

func TestThreadUnread(t *testing.T) {
	read, unread := true, false
	assert.False(t, Thread{Read: &read}.Unread())
	assert.True(t, Thread{Read: &unread}.Unread())
	assert.False(t, Thread{}.Unread())
}

func TestParsePortalTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-10-18T08:15:00+02:00", time.Date(2026, 10, 18, 6, 15, 0, 0, time.UTC)},
		{"2026-10-18T08:15:00+0200", time.Date(2026, 10, 18, 6, 15, 0, 0, time.UTC)},
		{"2026-10-18T08:15:00", time.Date(2026, 10, 18, 8, 15, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParsePortalTime(tc.in)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParsePortalTime("18/10/2026")
	assert.Error(t, err)
}

func TestTokenFresh(t *testing.T) {
	now := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	tok := Token{Token: "Bearer x", Timestamp: now}

	assert.True(t, tok.Fresh(now.Add(59*time.Second), time.Minute))
	assert.False(t, tok.Fresh(now.Add(time.Minute), time.Minute))
	assert.False(t, Token{Timestamp: now}.Fresh(now, time.Minute))
}

func TestSession(t *testing.T) {
	s := Session{
		APIURL: "https://www.aula.dk/api/v22",
		Profiles: []Profile{
			{Children: []Child{{ID: "1", Name: "Alma"}}},
			{Children: []Child{{ID: "2", Name: "Bo", InstitutionProfile: &InstitutionProfile{InstitutionName: "Skolen"}}}},
		},
		Tokens: map[string]Token{"0029": {Token: "Bearer a"}},
	}

	children := s.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "", children[0].InstitutionName())
	assert.Equal(t, "Skolen", children[1].InstitutionName())

	clone := s.Clone()
	clone.Tokens["0030"] = Token{Token: "Bearer b"}
	assert.Len(t, s.Tokens, 1)
}

func TestEnvelope(t *testing.T) {
	env := ErrorEnvelope(403)
	assert.False(t, env.OK())
	assert.Equal(t, 403, env.Status.Code)
	assert.Error(t, env.Decode(&struct{}{}))

	var ok Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"status":{"message":"OK","code":0},"data":{"n":1}}`), &ok))
	assert.True(t, ok.OK())
	var data struct{ N int }
	require.NoError(t, ok.Decode(&data))
	assert.Equal(t, 1, data.N)

	var nilEnv *Envelope
	assert.False(t, nilEnv.OK())
}
