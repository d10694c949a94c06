package service

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/atinyakov/grillzstudio/internal/apperr"
)

// MinCommentLength is the shortest accepted quote comment.
const MinCommentLength = 5

// ValidateEmail checks that email has a local part, an @ and a dotted
// domain whose top-level label is at least two characters long.
func ValidateEmail(email string) error {
	if email == "" {
		return apperr.Invalid("email", "is required")
	}
	if strings.IndexFunc(email, unicode.IsSpace) >= 0 {
		return apperr.Invalid("email", "must not contain spaces")
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return apperr.Invalid("email", "must contain @")
	}
	domain := email[at+1:]
	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || len(domain)-dot-1 < 2 {
		return apperr.Invalid("email", "must have a dotted domain")
	}
	return nil
}

func validateQuote(email, name, comments string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return apperr.Invalid("name", "is required")
	}
	if utf8.RuneCountInString(strings.TrimSpace(comments)) < MinCommentLength {
		return apperr.Invalid("comments", "must be at least 5 characters")
	}
	return nil
}
