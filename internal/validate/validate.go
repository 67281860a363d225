package validate

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"tabletop-signup/internal/apperr"
)

const (
	MaxNameLength  = 64
	MaxTitleLength = 128
	MaxNoteLength  = 1000
	MaxEmailLength = 254
	MaxRefLength   = 64
	MaxURLLength   = 512
)

var (
	engineOnce sync.Once
	engine     *validator.Validate
)

func validatorEngine() *validator.Validate {
	engineOnce.Do(func() {
		engine = validator.New()
	})
	return engine
}

// Name normalises whitespace and enforces a non-empty, bounded, printable value.
func Name(field, text string, maxLen int) (string, error) {
	trimmed := NormalizeText(text)
	if trimmed == "" {
		return "", apperr.Invalid(field, "is required")
	}
	if utf8.RuneCountInString(trimmed) > maxLen {
		return "", apperr.Invalid(field, "must be %d characters or fewer", maxLen)
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) {
			return "", apperr.Invalid(field, "contains unsupported characters")
		}
	}
	return trimmed, nil
}

// Optional is Name for fields that may be left empty.
func Optional(field, text string, maxLen int) (string, error) {
	if NormalizeText(text) == "" {
		return "", nil
	}
	return Name(field, text, maxLen)
}

// Email lower-cases and syntax-checks an address. An empty address is
// accepted unless required.
func Email(field, email string, required bool) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		if required {
			return "", apperr.Invalid(field, "is required")
		}
		return "", nil
	}
	if len(normalized) > MaxEmailLength {
		return "", apperr.Invalid(field, "must be %d characters or fewer", MaxEmailLength)
	}
	if err := validatorEngine().Var(normalized, "email"); err != nil {
		return "", apperr.Invalid(field, "is not a valid email address")
	}
	return normalized, nil
}

func Note(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) > MaxNoteLength {
		return "", apperr.Invalid("note", "must be %d characters or fewer", MaxNoteLength)
	}
	return trimmed, nil
}

func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
