package barcode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
)

var (
	ErrInvalidGTIN    = errors.New("GTIN must be 1 to 14 digits")
	ErrInvalidSerial  = errors.New("serial number must be 1 to 50 characters")
	ErrInvalidExpiry  = errors.New("expiry must be 6 digits (YYMMDD)")
	ErrEmptyLot       = errors.New("lot must not be empty")
	ErrAmbiguousCode  = errors.New("serial contains an expiry and lot sequence; the code would not decode back")
	ErrInvalidCarrier = errors.New("carrier label must be digits")
)

// Fields are the element values of a serialized unit
type Fields struct {
	GTIN   string
	Serial string
	Expiry domain.Expiry
	Lot    string
}

// EncodeSerialized builds the unseparated 01/21/17/10 element string.
// The result is verified to decode back to the same fields.
func EncodeSerialized(f Fields) (string, error) {
	gtin := strings.TrimSpace(f.GTIN)
	if gtin == "" || len(gtin) > gtinLength || !isDigits(gtin) {
		return "", ErrInvalidGTIN
	}
	gtin = strings.Repeat("0", gtinLength-len(gtin)) + gtin

	if f.Serial == "" || len(f.Serial) > maxSerialLength || Normalize(f.Serial) != f.Serial {
		return "", ErrInvalidSerial
	}
	if len(f.Expiry) != expiryLength || !isDigits(string(f.Expiry)) {
		return "", ErrInvalidExpiry
	}
	if f.Lot == "" {
		return "", ErrEmptyLot
	}

	code := aiGTIN + gtin + aiSerial + f.Serial + aiExpiry + string(f.Expiry) + aiLot + f.Lot

	p := parseSerialized(code[len(aiGTIN):])
	if p.Kind != domain.PayloadSerialized || p.SerialNumber != f.Serial || p.Lot != f.Lot || p.Expiry != f.Expiry {
		return "", fmt.Errorf("%w: %q", ErrAmbiguousCode, f.Serial)
	}
	return code, nil
}

// EncodeCarrier prefixes an SSCC body with the carrier prefix
func EncodeCarrier(prefix, sscc string) (string, error) {
	if !isDigits(sscc) {
		return "", ErrInvalidCarrier
	}
	return prefix + sscc, nil
}
