// Package barcode classifies raw scanner input into typed payloads and
// parses GS1 DataMatrix element strings (AIs 01, 21, 17, 10).
package barcode

import (
	"strconv"
	"strings"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
)

// GS1 application identifiers
const (
	aiGTIN   = "01"
	aiSerial = "21"
	aiExpiry = "17"
	aiLot    = "10"
)

const (
	gtinLength      = 14
	expiryLength    = 6
	maxSerialLength = 50
)

// Options configures classification
type Options struct {
	CarrierPrefix       string
	SerializedPrefix    string
	MinSerializedLength int
	MaxLength           int
}

// DefaultOptions returns the GS1 defaults: SSCC carriers, GTIN-led DataMatrix
func DefaultOptions() Options {
	return Options{
		CarrierPrefix:       "00",
		SerializedPrefix:    aiGTIN,
		MinSerializedLength: 30,
		MaxLength:           200,
	}
}

// Decoder turns scans into payloads. It is stateless and safe for concurrent use.
type Decoder struct {
	opts Options
}

// NewDecoder creates a decoder, filling zero options with defaults
func NewDecoder(opts Options) *Decoder {
	def := DefaultOptions()
	if opts.CarrierPrefix == "" {
		opts.CarrierPrefix = def.CarrierPrefix
	}
	if opts.SerializedPrefix == "" {
		opts.SerializedPrefix = def.SerializedPrefix
	}
	if opts.MinSerializedLength <= 0 {
		opts.MinSerializedLength = def.MinSerializedLength
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = def.MaxLength
	}
	return &Decoder{opts: opts}
}

var defaultDecoder = NewDecoder(DefaultOptions())

// Decode classifies raw with the default options
func Decode(raw string) domain.Payload {
	return defaultDecoder.Decode(raw)
}

// Decode classifies a raw scan
func (d *Decoder) Decode(raw string) domain.Payload {
	s := Normalize(raw)
	switch {
	case s == "":
		return domain.Invalid("empty scan")
	case len(s) > d.opts.MaxLength:
		return domain.Invalid("scan exceeds " + strconv.Itoa(d.opts.MaxLength) + " characters")
	case strings.HasPrefix(s, d.opts.CarrierPrefix):
		return domain.Carrier(s)
	case strings.HasPrefix(s, d.opts.SerializedPrefix) && len(s) >= d.opts.MinSerializedLength:
		return parseSerialized(s[len(d.opts.SerializedPrefix):])
	}
	return parsePlain(s)
}

// parsePlain handles "N*code" repeat counts; anything else is one unit
func parsePlain(s string) domain.Payload {
	left, right, ok := strings.Cut(s, "*")
	if ok {
		left, right = strings.TrimSpace(left), strings.TrimSpace(right)
		if n, err := strconv.Atoi(left); err == nil && n >= 1 && right != "" {
			return domain.Plain(right, n)
		}
	}
	return domain.Plain(s, 1)
}

// parseSerialized parses the element string following the 01 prefix.
// The serial is variable length and free text, so the expiry AI is only
// accepted where six digits and a lot AI with a non-empty lot follow it.
func parseSerialized(s string) domain.Payload {
	if len(s) < gtinLength || !isDigits(s[:gtinLength]) {
		return domain.Invalid("GTIN must be 14 digits")
	}
	rawGTIN := s[:gtinLength]
	rest := s[gtinLength:]

	if !strings.HasPrefix(rest, aiSerial) {
		return domain.Invalid("serial number AI (21) missing")
	}
	body := rest[len(aiSerial):]

	at := findExpiry(body)
	if at < 0 {
		return domain.Invalid("no expiry (17) followed by a lot (10)")
	}
	serial := body[:at]
	if len(serial) > maxSerialLength {
		return domain.Invalid("serial number longer than 50 characters")
	}

	exp := body[at+len(aiExpiry) : at+len(aiExpiry)+expiryLength]
	lot := body[at+len(aiExpiry)+expiryLength+len(aiLot):]

	return domain.Serialized(NormalizeGTIN(rawGTIN), rawGTIN, serial, domain.Expiry(exp), lot)
}

// findExpiry returns the first offset i >= 1 where body[i:] reads
// "17" + 6 digits + "10" + at least one lot character, or -1
func findExpiry(body string) int {
	tail := len(aiExpiry) + expiryLength + len(aiLot)
	for i := 1; i+tail < len(body); i++ {
		if i > maxSerialLength {
			return -1
		}
		if body[i:i+len(aiExpiry)] != aiExpiry {
			continue
		}
		date := body[i+len(aiExpiry) : i+len(aiExpiry)+expiryLength]
		if !isDigits(date) {
			continue
		}
		lotAt := i + len(aiExpiry) + expiryLength
		if body[lotAt:lotAt+len(aiLot)] == aiLot {
			return i
		}
	}
	return -1
}

// NormalizeGTIN strips surrounding space and leading zeros. An all-zero
// code normalizes to "0".
func NormalizeGTIN(code string) string {
	code = strings.TrimSpace(code)
	trimmed := strings.TrimLeft(code, "0")
	if trimmed == "" && code != "" {
		return "0"
	}
	return trimmed
}
