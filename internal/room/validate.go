package room

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/coupleplay/rooms/internal/coupleplay"
)

const (
	MaxNameLen     = 64
	MaxQuestionLen = 500
	MaxAnswerLen   = 4000
)

var policy = bluemonday.StrictPolicy()

// sanitize strips markup from user input and trims whitespace. The strict
// policy escapes entities, which are turned back into plain text since
// values are rendered as text, never as HTML.
func sanitize(input string) string {
	cleaned := policy.Sanitize(input)
	cleaned = html.UnescapeString(cleaned)
	return strings.TrimSpace(cleaned)
}

// requireText sanitizes a required field and checks its length.
func requireText(field, input string, max int) (string, error) {
	v := sanitize(input)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", coupleplay.ErrInvalid, field)
	}
	if utf8.RuneCountInString(v) > max {
		return "", fmt.Errorf("%w: %s must be at most %d characters", coupleplay.ErrInvalid, field, max)
	}
	return v, nil
}

func parseGame(s string) (coupleplay.Game, error) {
	if s == "" {
		return coupleplay.GameRandomQuestions, nil
	}
	g := coupleplay.Game(strings.TrimSpace(s))
	if !g.Valid() {
		return "", fmt.Errorf("%w: unknown game %q", coupleplay.ErrInvalid, s)
	}
	return g, nil
}

// validatePatch checks everything about an answer patch that does not need
// the stored question.
func validatePatch(p AnswerPatch) error {
	if p.AnswerText == nil && p.WriterDone == nil && p.ReaderDone == nil {
		return fmt.Errorf("%w: nothing to update", coupleplay.ErrInvalid)
	}
	if (p.WriterDone != nil && !*p.WriterDone) || (p.ReaderDone != nil && !*p.ReaderDone) {
		return fmt.Errorf("%w: done flags cannot be cleared", coupleplay.ErrInvalid)
	}
	if p.AnswerText != nil {
		if utf8.RuneCountInString(*p.AnswerText) > MaxAnswerLen {
			return fmt.Errorf("%w: answer must be at most %d characters", coupleplay.ErrInvalid, MaxAnswerLen)
		}
		if p.WriterDone != nil && strings.TrimSpace(*p.AnswerText) == "" {
			return fmt.Errorf("%w: answer text is required", coupleplay.ErrInvalid)
		}
	}
	return nil
}
