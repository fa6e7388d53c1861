package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Suggestion is one model-proposed tag for an entry. It references either an
// existing tag by id or a new tag by name, never both. Suggestions live for
// a single reconciliation pass and are never persisted.
type Suggestion struct {
	ID          int64
	Name        string
	Description *string
	Confidence  float64
	Reasoning   string
}

// Existing reports whether the suggestion references a tag already in the
// user's catalog.
func (s Suggestion) Existing() bool {
	return s.ID != 0
}

// Label is the human-readable form shown in confirmation prompts.
func (s Suggestion) Label() string {
	return s.Name
}

// Key identifies the suggestion stably across issuance and response, so a
// confirmation answer cannot drift to a different candidate if the list is
// filtered or reordered in between.
func (s Suggestion) Key() string {
	if s.Existing() {
		return fmt.Sprintf("tag:%d", s.ID)
	}
	return "new:" + slug(s.Name)
}

func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return b.String()
}

func (s *Suggestion) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID          *int64   `json:"id"`
		Name        string   `json:"name"`
		Description *string  `json:"description"`
		Confidence  *float64 `json:"confidence"`
		Reasoning   string   `json:"reasoning"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Confidence == nil {
		return errors.New("suggestion missing confidence")
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", *raw.Confidence)
	}
	if raw.ID == nil && strings.TrimSpace(raw.Name) == "" {
		return errors.New("suggestion carries neither an id nor a name")
	}
	// A non-positive id must not decay into a nameless new-tag draft.
	if raw.ID != nil && *raw.ID <= 0 {
		return fmt.Errorf("suggestion id %d is not a valid tag id", *raw.ID)
	}
	s.Name = strings.TrimSpace(raw.Name)
	s.Description = raw.Description
	s.Confidence = *raw.Confidence
	s.Reasoning = raw.Reasoning
	if raw.ID != nil {
		s.ID = *raw.ID
		s.Name = ""
		s.Description = nil
	}
	return nil
}

// parseSuggestions extracts the JSON array from a model response. Models
// routinely wrap the payload in code fences or prose, so everything outside
// the outermost brackets is ignored.
func parseSuggestions(text string) ([]Suggestion, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, errors.New("no JSON array in response")
	}
	var suggestions []Suggestion
	if err := json.Unmarshal([]byte(text[start:end+1]), &suggestions); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions, nil
}
