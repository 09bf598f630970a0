package model

import "time"

// TransportStateVersion is bumped whenever the persisted cookie record changes shape.
const TransportStateVersion = 1

// CookieRecord is one cookie as the portal set it, keyed by the URL it was
// received from so it can be replayed into a fresh jar.
type CookieRecord struct {
	URL      string    `cbor:"1,keyasint" json:"url"`
	Name     string    `cbor:"2,keyasint" json:"name"`
	Value    string    `cbor:"3,keyasint" json:"value"`
	Domain   string    `cbor:"4,keyasint,omitempty" json:"domain,omitempty"`
	Path     string    `cbor:"5,keyasint,omitempty" json:"path,omitempty"`
	Expires  time.Time `cbor:"6,keyasint" json:"expires,omitempty"`
	Secure   bool      `cbor:"7,keyasint,omitempty" json:"secure,omitempty"`
	HTTPOnly bool      `cbor:"8,keyasint,omitempty" json:"httpOnly,omitempty"`
}

// TransportState is everything needed to resume the authenticated HTTP
// transport in a new process.
type TransportState struct {
	Version int            `cbor:"1,keyasint" json:"version"`
	Cookies []CookieRecord `cbor:"2,keyasint" json:"cookies"`
}
