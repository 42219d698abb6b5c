package barcode

import (
	"strings"
	"testing"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCode = "01086992937002582110020832004322217280831102509178"

func TestDecode_SerializedSample(t *testing.T) {
	p := Decode(sampleCode)

	require.Equal(t, domain.PayloadSerialized, p.Kind, p.Reason)
	assert.Equal(t, "8699293700258", p.GTIN)
	assert.Equal(t, "08699293700258", p.RawGTIN)
	assert.Equal(t, "100208320043222", p.SerialNumber)
	assert.Equal(t, domain.Expiry("280831"), p.Expiry)
	assert.Equal(t, "2509178", p.Lot)
}

func TestDecode_Classification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want domain.Payload
	}{
		{
			name: "carrier label",
			raw:  "00123456789012345675",
			want: domain.Carrier("00123456789012345675"),
		},
		{
			name: "plain code",
			raw:  "X100",
			want: domain.Plain("X100", 1),
		},
		{
			name: "multiplier",
			raw:  "3*X100",
			want: domain.Plain("X100", 3),
		},
		{
			name: "multiplier with spaces",
			raw:  " 12 * X100 ",
			want: domain.Plain("X100", 12),
		},
		{
			name: "zero multiplier falls through to single unit",
			raw:  "0*X100",
			want: domain.Plain("0*X100", 1),
		},
		{
			name: "negative multiplier falls through to single unit",
			raw:  "-2*X100",
			want: domain.Plain("-2*X100", 1),
		},
		{
			name: "non numeric multiplier falls through to single unit",
			raw:  "AB*X100",
			want: domain.Plain("AB*X100", 1),
		},
		{
			name: "multiplier without code",
			raw:  "3*",
			want: domain.Plain("3*", 1),
		},
		{
			name: "short code with serialized prefix is plain",
			raw:  "0108699293700258",
			want: domain.Plain("0108699293700258", 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.raw))
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"only whitespace", "   "},
		{"GTIN not numeric", "01" + "0869929370A258" + "2110020832004322217280831102509178"},
		{"serial AI missing", "01086992937002582210020832004322217280831102509178"},
		{"no expiry AI", "010869929370025821100208320043222992808311025091"},
		{"expiry without lot AI", "0108699293700258211002083200432221728083199250917"},
		{"lot empty", "01086992937002582110020832004322217280831" + "10"},
		{"serial too long", "010869929370025821" + strings.Repeat("S", 51) + "1728083110LOT"},
		{"over max length", strings.Repeat("9", 201)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Decode(tt.raw)
			assert.Equal(t, domain.PayloadInvalid, p.Kind, "decoded as %+v", p)
			assert.NotEmpty(t, p.Reason)
		})
	}
}

// The serial may contain "17" and digits. Only a position followed by a
// six digit date and the lot AI is the expiry.
func TestDecode_ExpiryTokenInsideSerial(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		serial string
		expiry domain.Expiry
		lot    string
	}{
		{
			name:   "17 followed by digits but no lot AI",
			raw:    "010869929370025821" + "AB17123456XY" + "17280831" + "10" + "LOT1",
			serial: "AB17123456XY",
			expiry: "280831",
			lot:    "LOT1",
		},
		{
			name:   "17 followed by short digit run",
			raw:    "010869929370025821" + "1712AB" + "17300131" + "10" + "L9",
			serial: "1712AB",
			expiry: "300131",
			lot:    "L9",
		},
		{
			name:   "17 at serial start",
			raw:    "010869929370025821" + "17" + "17260600" + "10" + "A",
			serial: "17",
			expiry: "260600",
			lot:    "A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Decode(tt.raw)
			require.Equal(t, domain.PayloadSerialized, p.Kind, p.Reason)
			assert.Equal(t, tt.serial, p.SerialNumber)
			assert.Equal(t, tt.expiry, p.Expiry)
			assert.Equal(t, tt.lot, p.Lot)
		})
	}

	t.Run("serial token without valid sequence anywhere", func(t *testing.T) {
		p := Decode("010869929370025821" + "X17123456YZ" + "17ABCDEF10LOT")
		assert.Equal(t, domain.PayloadInvalid, p.Kind)
	})
}

func TestDecode_Normalization(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"group separators", "0108699293700258211002083200432221728083110\x1d2509178"},
		{"AIM symbology identifier", "]d2" + sampleCode},
		{"trailing carriage return", sampleCode + "\r\n"},
		{"full width digits", "０１08699293700258211002083200432221728083110２５０９１７８"},
		{"human readable parentheses", "(01)08699293700258(21)100208320043222(17)280831(10)2509178"},
		{"zero width space", "01086992937002582110020832004322217280831​102509178"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Decode(tt.raw)
			require.Equal(t, domain.PayloadSerialized, p.Kind, p.Reason)
			assert.Equal(t, "100208320043222", p.SerialNumber)
			assert.Equal(t, "2509178", p.Lot)
		})
	}

	t.Run("case is preserved", func(t *testing.T) {
		assert.Equal(t, domain.Plain("abC-1", 1), Decode("abC-1"))
	})
}

func TestDecoder_CustomPrefixes(t *testing.T) {
	d := NewDecoder(Options{CarrierPrefix: "99", MinSerializedLength: 40})

	assert.Equal(t, domain.PayloadCarrier, d.Decode("99000111").Kind)
	assert.Equal(t, domain.PayloadPlain, d.Decode("00123456789012345675").Kind)
	// 50 characters, above the raised threshold
	assert.Equal(t, domain.PayloadSerialized, d.Decode(sampleCode).Kind)
	// 30 characters, now below the threshold
	assert.Equal(t, domain.PayloadPlain, d.Decode("010869929370025821A1728083110L").Kind)
}

func TestNormalizeGTIN(t *testing.T) {
	assert.Equal(t, "8699293700258", NormalizeGTIN("08699293700258"))
	assert.Equal(t, "8699293700258", NormalizeGTIN(" 0008699293700258 "))
	assert.Equal(t, "X100", NormalizeGTIN("X100"))
	assert.Equal(t, "0", NormalizeGTIN("0000"))
	assert.Equal(t, "", NormalizeGTIN(""))
}
