package domain

import (
	"fmt"
	"time"
)

// PayloadKind discriminates decoded scans
type PayloadKind string

const (
	PayloadSerialized PayloadKind = "serialized"
	PayloadCarrier    PayloadKind = "carrier"
	PayloadPlain      PayloadKind = "plain"
	PayloadInvalid    PayloadKind = "invalid"
)

// Payload is a decoded scan. Only the fields of its Kind are set.
type Payload struct {
	Kind PayloadKind `json:"kind"`

	// Serialized
	GTIN         string `json:"gtin,omitempty"`
	RawGTIN      string `json:"raw_gtin,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Expiry       Expiry `json:"expiry,omitempty"`
	Lot          string `json:"lot,omitempty"`

	// Carrier
	Label string `json:"label,omitempty"`

	// Plain
	Code       string `json:"code,omitempty"`
	Multiplier int    `json:"multiplier,omitempty"`

	// Invalid
	Reason string `json:"reason,omitempty"`
}

// Serialized builds a serialized-item payload
func Serialized(gtin, rawGTIN, serial string, expiry Expiry, lot string) Payload {
	return Payload{
		Kind:         PayloadSerialized,
		GTIN:         gtin,
		RawGTIN:      rawGTIN,
		SerialNumber: serial,
		Expiry:       expiry,
		Lot:          lot,
	}
}

// Carrier builds a carrier-label payload
func Carrier(label string) Payload {
	return Payload{Kind: PayloadCarrier, Label: label}
}

// Plain builds a plain stock-code payload
func Plain(code string, multiplier int) Payload {
	return Payload{Kind: PayloadPlain, Code: code, Multiplier: multiplier}
}

// Invalid builds a decode failure
func Invalid(reason string) Payload {
	return Payload{Kind: PayloadInvalid, Reason: reason}
}

// Identity returns the key used to find the line item of the payload
func (p Payload) Identity() string {
	switch p.Kind {
	case PayloadSerialized:
		return p.GTIN
	case PayloadPlain:
		return p.Code
	case PayloadCarrier:
		return p.Label
	}
	return ""
}

// Expiry is a GS1 YYMMDD date. Day 00 means the last day of the month.
type Expiry string

// Valid reports whether e is six digits with a plausible month and day
func (e Expiry) Valid() bool {
	_, err := e.Time()
	return err == nil
}

// Time resolves the expiry to a UTC date. Years map to 2000-2099.
func (e Expiry) Time() (time.Time, error) {
	if len(e) != 6 {
		return time.Time{}, fmt.Errorf("expiry %q: want 6 digits", string(e))
	}
	var n [3]int
	for i := 0; i < 3; i++ {
		hi, lo := e[2*i], e[2*i+1]
		if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
			return time.Time{}, fmt.Errorf("expiry %q: not numeric", string(e))
		}
		n[i] = int(hi-'0')*10 + int(lo-'0')
	}
	year, month, day := 2000+n[0], n[1], n[2]
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("expiry %q: month out of range", string(e))
	}

	// first day of the following month minus one day
	last := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1).Day()
	if day == 0 {
		day = last
	}
	if day > last {
		return time.Time{}, fmt.Errorf("expiry %q: day out of range", string(e))
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), nil
}

// Expired reports whether the unit is past its expiry at now
func (e Expiry) Expired(now time.Time) bool {
	t, err := e.Time()
	if err != nil {
		return false
	}
	return now.After(t.AddDate(0, 0, 1))
}
