package model

import (
	"encoding/json"
	"fmt"
)

const StatusOK = "OK"

type Status struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Envelope is the portal's response wrapper. Data is kept raw so each
// consumer decodes only the shape it needs.
type Envelope struct {
	Status Status          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// ErrorEnvelope builds the synthetic envelope returned when a call fails
// without a usable portal response.
func ErrorEnvelope(code int) *Envelope {
	return &Envelope{
		Status: Status{Message: "ERROR", Code: code},
		Data:   json.RawMessage("null"),
	}
}

func (e *Envelope) OK() bool {
	return e != nil && e.Status.Message == StatusOK
}

// Decode unmarshals Data into dst.
func (e *Envelope) Decode(dst any) error {
	if e == nil || len(e.Data) == 0 || string(e.Data) == "null" {
		return fmt.Errorf("envelope has no data")
	}
	return json.Unmarshal(e.Data, dst)
}
