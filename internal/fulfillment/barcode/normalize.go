package barcode

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// symbology identifiers some scanners prepend when AIM reporting is on
var aimPrefixes = []string{"]d2", "]C1", "]Q3", "]e0"}

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			runes.Remove(runes.In(unicode.Cc)), // GS (FNC1), CR, LF, tabs
			runes.Remove(runes.In(unicode.Cf)), // zero-width and BOM
			width.Fold,
		)
	},
}

// Normalize prepares raw scanner input for classification. Case is kept:
// serial numbers and lots are case sensitive.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	s := strings.ToValidUTF8(raw, "")

	tr := chainPool.Get().(transform.Transformer)
	s, _, _ = transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)

	s = strings.TrimSpace(s)
	for _, p := range aimPrefixes {
		if strings.HasPrefix(s, p) {
			s = s[len(p):]
			break
		}
	}

	return stripHumanReadableAIs(strings.TrimSpace(s))
}

// stripHumanReadableAIs turns "(01)0869...(21)ABC" into "010869...21ABC".
// Only applied when the whole input uses the parenthesised form.
func stripHumanReadableAIs(s string) string {
	if !strings.HasPrefix(s, "(") || !isAIGroup(s, 0) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if isAIGroup(s, i) {
			b.WriteString(s[i+1 : i+3])
			i += 4
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func isAIGroup(s string, i int) bool {
	if i+4 > len(s) || s[i] != '(' || s[i+3] != ')' {
		return false
	}
	return isDigits(s[i+1 : i+3])
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
