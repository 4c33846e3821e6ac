package contact

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLen    = 100
	maxEmailLen   = 254
	maxSubjectLen = 200
	maxMessageLen = 5000
)

// Submission is a contact-form post after decoding.
type Submission struct {
	Name    string
	Email   string
	Subject string
	Message string
}

// FieldError describes one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a submission.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// FromBody builds a Submission from a decoded request body, trimming values.
// Fields present with a non-string value are reported as errors.
func FromBody(body map[string]any) (Submission, error) {
	verr := &ValidationError{}
	get := func(field string) string {
		v, ok := body[field]
		if !ok || v == nil {
			return ""
		}
		s, ok := v.(string)
		if !ok {
			verr.add(field, "must be a string")
			return ""
		}
		return strings.TrimSpace(s)
	}

	s := Submission{
		Name:    get("name"),
		Email:   get("email"),
		Subject: get("subject"),
		Message: get("message"),
	}
	if len(verr.Errors) > 0 {
		return s, verr
	}
	return s, nil
}

// Validate checks required fields and lengths.
func (s Submission) Validate() error {
	verr := &ValidationError{}

	switch n := utf8.RuneCountInString(s.Name); {
	case n == 0:
		verr.add("name", "is required")
	case n > maxNameLen:
		verr.add("name", "must be at most %d characters", maxNameLen)
	}

	switch {
	case s.Email == "":
		verr.add("email", "is required")
	case len(s.Email) > maxEmailLen || !validEmail(s.Email):
		verr.add("email", "must be a valid email address")
	}

	if utf8.RuneCountInString(s.Subject) > maxSubjectLen {
		verr.add("subject", "must be at most %d characters", maxSubjectLen)
	}

	switch n := utf8.RuneCountInString(s.Message); {
	case n == 0:
		verr.add("message", "is required")
	case n > maxMessageLen:
		verr.add("message", "must be at most %d characters", maxMessageLen)
	}

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}

// validEmail accepts a bare address; display names are rejected.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}
