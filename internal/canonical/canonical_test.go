package canonical

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpvalue"
)

func mustDecode(t *testing.T, raw string) vcpvalue.Value {
	t.Helper()
	v, err := vcpvalue.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return v
}

func TestEncodeSortsKeys(t *testing.T) {
	a := mustDecode(t, `{"b":1,"a":2}`)
	b := mustDecode(t, `{"a":2,"b":1}`)
	ea, err := Encode(a)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ea) != string(eb) {
		t.Fatalf("key order should not affect canonical bytes: %s vs %s", ea, eb)
	}
	if string(ea) != `{"a":2,"b":1}` {
		t.Fatalf("unexpected canonical form: %s", ea)
	}
}

func TestEncodeNoWhitespace(t *testing.T) {
	v := mustDecode(t, `{ "a" : [1, 2, 3] }`)
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(string(got), " \t\n") {
		t.Fatalf("canonical output must not contain insignificant whitespace: %s", got)
	}
	if string(got) != `{"a":[1,2,3]}` {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestEncodeNumbers(t *testing.T) {
	cases := []struct{ in, want string }{
		{"52000", "52000"},
		{"52000.0", "52000"},
		{"52005.5", "52005.5"},
		{"52005.50", "52005.5"},
		{"0", "0"},
		{"-0", "0"},
		{"0.1", "0.1"},
	}
	for _, c := range cases {
		v := vcpvalue.Number(json.Number(c.in))
		got, err := Encode(v)
		if err != nil {
			t.Fatalf("%s: %v", c.in, err)
		}
		if string(got) != c.want {
			t.Errorf("canonicalNumber(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestEncodeRejectsNonFinite(t *testing.T) {
	// json.Number never actually carries "NaN"/"Inf" from a real JSON decode,
	// but a programmatically constructed Value might; the canonicalizer must
	// still refuse it rather than emit invalid output.
	v := vcpvalue.Number(json.Number("NaN"))
	if _, err := Encode(v); err == nil {
		t.Fatal("expected error for NaN")
	}
}

func TestEncodeIdempotent(t *testing.T) {
	v := mustDecode(t, `{"z":1,"a":{"y":2,"x":[true,false,null,"hi"]}}`)
	first, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	redecoded, err := vcpvalue.Decode(first)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Encode(redecoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("canon(canon(x)) != canon(x): %s vs %s", first, second)
	}
}

func TestEncodeStringEscaping(t *testing.T) {
	v := vcpvalue.String("line\nbreak \"quote\" back\\slash")
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	want := `"line\nbreak \"quote\" back\\slash"`
	if string(got) != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestSubsetExcludesAugmentationFields(t *testing.T) {
	s := Subset{
		VCPVersion: "1.0",
		EventID:    "E0",
		Timestamp:  "2026-01-01T00:00:00.000Z",
		EventType:  "ORDER_NEW",
		Tier:       "GOLD",
		PolicyID:   "urn:policy:1",
		ClockSync:  "NTP_SYNCED",
		SystemID:   "sys-1",
		AccountID:  "acct-1",
		Payload:    mustDecode(t, `{"symbol":"BTCUSD"}`),
	}
	out, err := s.Encode()
	if err != nil {
		t.Fatal(err)
	}
	for _, forbidden := range []string{"event_hash", "signature", "merkle_index", "signer_key_id"} {
		if strings.Contains(string(out), forbidden) {
			t.Fatalf("canonical subset must not include %q: %s", forbidden, out)
		}
	}
	if strings.Contains(string(out), "prev_hash") {
		t.Fatalf("prev_hash must be absent when HasPrev is false: %s", out)
	}

	s.HasPrev = true
	s.PrevHash = "deadbeef"
	out2, err := s.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out2), `"prev_hash":"deadbeef"`) {
		t.Fatalf("prev_hash must be present when HasPrev is true: %s", out2)
	}
}

func TestEmptyPayloadObject(t *testing.T) {
	v := mustDecode(t, `{}`)
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{}" {
		t.Fatalf("empty object must canonicalize to {}: %s", got)
	}
}
