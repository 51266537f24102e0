package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/torosent/tankpilot/internal/session"
	"github.com/torosent/tankpilot/internal/stage"
	"github.com/torosent/tankpilot/internal/tankapi"
)

// ErrorLabel groups err under a short label for failure counts.
func ErrorLabel(err error) string {
	var apiErr *tankapi.APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return fmt.Sprintf("HTTP %d", apiErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "Context deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	case errors.Is(err, tankapi.ErrMalformedResponse):
		return "Malformed response"
	case errors.Is(err, tankapi.ErrTransport):
		return "Transport error"
	case errors.Is(err, stage.ErrUnknownStage):
		return "Unknown stage"
	case errors.Is(err, session.ErrNoActiveSession):
		return "No active session"
	}
	return TypeLabel(fmt.Sprintf("%T", innermost(err)))
}

func innermost(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// TypeLabel turns a Go type name such as "*net.OpError" into "Op Error (net)".
func TypeLabel(typeName string) string {
	name := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if name == "" {
		return "Unknown error"
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	pkg, ident, found := strings.Cut(name, ".")
	if !found {
		pkg, ident = "", name
	}

	words := strings.Join(splitIdent(ident), " ")
	if words == "" {
		words = ident
	}
	if pkg == "" || pkg == "main" {
		return words
	}
	return fmt.Sprintf("%s (%s)", words, pkg)
}

// splitIdent breaks a Go identifier at case and digit boundaries. Runs of
// capitals stay together, so "HTTPError" gives "HTTP", "Error".
func splitIdent(ident string) []string {
	runes := []rune(ident)
	var words []string
	start := 0
	for i := 1; i <= len(runes); i++ {
		if i < len(runes) && !wordBreak(runes, i) {
			continue
		}
		word := string(runes[start:i])
		if !isUpperWord(word) {
			word = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
		}
		words = append(words, word)
		start = i
	}
	return words
}

func wordBreak(runes []rune, i int) bool {
	prev, cur := runes[i-1], runes[i]
	switch {
	case unicode.IsUpper(cur) && unicode.IsLower(prev):
		return true
	case unicode.IsUpper(cur) && unicode.IsUpper(prev):
		return i+1 < len(runes) && unicode.IsLower(runes[i+1])
	case unicode.IsDigit(cur):
		return !unicode.IsDigit(prev)
	}
	return false
}

func isUpperWord(s string) bool {
	hasLetter := false
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		hasLetter = true
	}
	return hasLetter
}
