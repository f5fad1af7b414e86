package vcperrors

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestNewEnvelopeSortsDetails(t *testing.T) {
	env := NewEnvelope(SchemaInvalid, "bad event", "req-1", map[string]any{
		"z_field": "last",
		"a_field": "first",
	})
	if env.Error.Code != SchemaInvalid {
		t.Fatalf("expected code to survive, got %q", env.Error.Code)
	}
	if len(env.Error.Details) != 2 {
		t.Fatalf("expected 2 details, got %d", len(env.Error.Details))
	}
	if env.Error.Details[0].K != "a_field" || env.Error.Details[1].K != "z_field" {
		t.Fatalf("expected sorted detail keys, got %+v", env.Error.Details)
	}
}

func TestNewEnvelopeUnknownCodeFallsBackToInternal(t *testing.T) {
	env := NewEnvelope(Code("bogus.code"), "oops", "", nil)
	if env.Error.Code != Internal {
		t.Fatalf("expected fallback to internal, got %q", env.Error.Code)
	}
}

func TestFromErrorWrapsMessage(t *testing.T) {
	env := FromError(errors.New("disk full"), PersistenceFailed, "req-2")
	if env.Error.Code != PersistenceFailed {
		t.Fatalf("expected persistence.failed, got %q", env.Error.Code)
	}
	if env.Error.Message != "disk full" {
		t.Fatalf("expected wrapped message, got %q", env.Error.Message)
	}
	if !env.Error.Retryable {
		t.Fatal("expected persistence failures to be marked retryable")
	}
}

func TestWriteHTTPSetsStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	env := NewEnvelope(VerificationFailed, "chain broken", "req-3", nil)
	WriteHTTP(rec, HTTPStatusFor(VerificationFailed), env)

	if rec.Code != 409 {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var decoded Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Error.Code != VerificationFailed {
		t.Fatalf("expected verification.failed in body, got %q", decoded.Error.Code)
	}
}

func TestHTTPStatusForUnknownCodeDefaultsTo500(t *testing.T) {
	if got := HTTPStatusFor(Code("nope")); got != 500 {
		t.Fatalf("expected 500 for unknown code, got %d", got)
	}
}
