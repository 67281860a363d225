package validate

import (
	"errors"
	"strings"
	"testing"

	"tabletop-signup/internal/apperr"
)

func TestNameNormalizesWhitespace(t *testing.T) {
	got, err := Name("name", "  Ada   Lovelace ", MaxNameLength)
	if err != nil {
		t.Fatalf("expected valid name, got %v", err)
	}
	if got != "Ada Lovelace" {
		t.Fatalf("expected normalized name, got %q", got)
	}
}

func TestNameRejectsEmptyAndLong(t *testing.T) {
	if _, err := Name("name", "   ", MaxNameLength); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
	if _, err := Name("name", strings.Repeat("x", MaxNameLength+1), MaxNameLength); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for long name, got %v", err)
	}
	if _, err := Name("name", "bad\x07bell", MaxNameLength); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for control character, got %v", err)
	}
}

func TestEmail(t *testing.T) {
	got, err := Email("email", " Ada@Example.COM ", true)
	if err != nil {
		t.Fatalf("expected valid email, got %v", err)
	}
	if got != "ada@example.com" {
		t.Fatalf("expected lower-cased email, got %q", got)
	}
	if got, err := Email("email", "", false); err != nil || got != "" {
		t.Fatalf("expected optional empty email to pass, got %q %v", got, err)
	}
	if _, err := Email("email", "", true); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected required email error, got %v", err)
	}
	var fieldErr *apperr.FieldError
	if _, err := Email("voter_email", "not-an-email", false); !errors.As(err, &fieldErr) || fieldErr.Field != "voter_email" {
		t.Fatalf("expected field error for voter_email, got %v", err)
	}
}

func TestOptional(t *testing.T) {
	got, err := Optional("external_ref", "   ", MaxRefLength)
	if err != nil || got != "" {
		t.Fatalf("expected empty value accepted, got %q, %v", got, err)
	}
	if _, err := Optional("external_ref", strings.Repeat("x", MaxRefLength+1), MaxRefLength); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for long value, got %v", err)
	}
	got, err = Optional("external_ref", " 13 ", MaxRefLength)
	if err != nil || got != "13" {
		t.Fatalf("expected trimmed value, got %q, %v", got, err)
	}
}
