// Package canonical implements the byte-exact serialization rules a
// SealedEvent's covered fields must follow before hashing (component A):
// sorted object keys, no incidental whitespace, minimal string escaping, and
// a deliberate number-formatting rule. Two implementations that agree on
// these rules always agree on event_hash.
package canonical

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpvalue"
)

// ErrNonFinite is returned when a number to canonicalize is NaN or +/-Inf.
var ErrNonFinite = errors.New("canonical: NaN and Inf are not representable")

// Subset is the exact set of SealedEvent fields that feed event_hash,
// matching spec section 4.A verbatim: everything from the input event plus
// prev_hash, and excluding the four augmentation fields (event_hash,
// signature, merkle_index, signer_key_id).
type Subset struct {
	VCPVersion string
	EventID    string
	Timestamp  string
	EventType  string
	Tier       string
	PolicyID   string
	ClockSync  string
	SystemID   string
	AccountID  string
	Payload    vcpvalue.Value
	PrevHash   string // empty means sequence 0, field omitted entirely
	HasPrev    bool
}

// Value builds the vcpvalue.Value object representing this subset. Field
// order here is irrelevant because Encode sorts keys; it is chosen to read
// naturally.
func (s Subset) Value() vcpvalue.Value {
	fields := []vcpvalue.Field{
		{Key: "account_id", Val: vcpvalue.String(s.AccountID)},
		{Key: "clock_sync", Val: vcpvalue.String(s.ClockSync)},
		{Key: "event_id", Val: vcpvalue.String(s.EventID)},
		{Key: "event_type", Val: vcpvalue.String(s.EventType)},
		{Key: "payload", Val: s.Payload},
		{Key: "policy_id", Val: vcpvalue.String(s.PolicyID)},
		{Key: "system_id", Val: vcpvalue.String(s.SystemID)},
		{Key: "tier", Val: vcpvalue.String(s.Tier)},
		{Key: "timestamp", Val: vcpvalue.String(s.Timestamp)},
		{Key: "vcp_version", Val: vcpvalue.String(s.VCPVersion)},
	}
	if s.HasPrev {
		fields = append(fields, vcpvalue.Field{Key: "prev_hash", Val: vcpvalue.String(s.PrevHash)})
	}
	return vcpvalue.Object(fields)
}

// Encode is a convenience wrapper: Subset -> canonical bytes.
func (s Subset) Encode() ([]byte, error) {
	return Encode(s.Value())
}

// Encode renders v as RFC 8785-subset canonical JSON bytes: sorted keys (by
// UTF-16 code unit order), no insignificant whitespace, minimal string
// escaping, and a shortest-round-trip number rendering. The function is
// total over well-formed Values and returns ErrNonFinite only for
// unrepresentable numbers.
func Encode(v vcpvalue.Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v vcpvalue.Value) error {
	switch v.Kind {
	case vcpvalue.KindNull:
		buf.WriteString("null")
		return nil
	case vcpvalue.KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case vcpvalue.KindNumber:
		s, err := canonicalNumber(v.Num.String())
		if err != nil {
			return err
		}
		buf.WriteString(s)
		return nil
	case vcpvalue.KindString:
		buf.WriteString(escapeString(v.Str))
		return nil
	case vcpvalue.KindArray:
		buf.WriteByte('[')
		for i, e := range v.Arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case vcpvalue.KindObject:
		fields := make([]vcpvalue.Field, len(v.Obj))
		copy(fields, v.Obj)
		sort.Slice(fields, func(i, j int) bool {
			return utf16Less(fields[i].Key, fields[j].Key)
		})
		// Reject duplicate keys post-sort: ambiguous canonicalization.
		for i := 1; i < len(fields); i++ {
			if fields[i].Key == fields[i-1].Key {
				return fmt.Errorf("canonical: duplicate object key %q", fields[i].Key)
			}
		}
		buf.WriteByte('{')
		for i, f := range fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(escapeString(f.Key))
			buf.WriteByte(':')
			if err := encode(buf, f.Val); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return fmt.Errorf("canonical: unknown value kind %d", v.Kind)
	}
}

// utf16Less compares two strings by UTF-16 code unit order, as RFC 8785
// requires for object key sorting. Plain byte comparison is only correct for
// ASCII; payload keys originating from non-Latin trading systems are not
// guaranteed to be ASCII, so this repo does the conversion explicitly rather
// than assume it away.
func utf16Less(a, b string) bool {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			return ua[i] < ub[i]
		}
	}
	return len(ua) < len(ub)
}

// canonicalNumber renders a decoded JSON number token in RFC 8785's
// shortest-round-trip style. Real trading quantities and prices stay well
// inside float64's exact-integer and ordinary-decimal range, so this
// implements the common path precisely (integral values with no trailing
// ".0"; fractional values in plain decimal) and falls back to exponential
// notation only outside the range RFC 8785 reserves for it. It is not a full
// ECMAScript Number::toString implementation — see DESIGN.md.
func canonicalNumber(token string) (string, error) {
	f, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return "", fmt.Errorf("canonical: invalid number token %q: %w", token, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", ErrNonFinite
	}
	if f == 0 {
		if math.Signbit(f) {
			return "0", nil // -0 canonicalizes the same as 0
		}
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		return formatExponential(f), nil
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	return s, nil
}

func formatExponential(f float64) string {
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// Go emits "1.5e+21"; RFC 8785/ECMAScript style drops the '+' sign and any
	// leading zero in the exponent ("1.5e21" / "1.5e-7").
	mant, exp, ok := strings.Cut(s, "e")
	if !ok {
		return s
	}
	sign := ""
	exp = strings.TrimPrefix(exp, "+")
	if strings.HasPrefix(exp, "-") {
		sign = "-"
		exp = exp[1:]
	}
	exp = strings.TrimLeft(exp, "0")
	if exp == "" {
		exp = "0"
	}
	return mant + "e" + sign + exp
}

// escapeString renders a Go string as a minimally-escaped JSON string
// literal: only '"', '\\', and control characters below 0x20 are escaped.
// Unlike encoding/json, nothing else (not '<', '>', '&', U+2028/U+2029) is
// touched, so the rendering stays byte-for-byte stable across Go versions.
func escapeString(s string) string {
	var buf bytes.Buffer
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return buf.String()
}
