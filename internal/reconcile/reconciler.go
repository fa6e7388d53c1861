// Package reconcile turns free-text model tag suggestions into safe,
// deduplicated create/link operations against a user's tag catalog.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/epicweb-dev/epic-me-mcp/internal/logging"
	"github.com/epicweb-dev/epic-me-mcp/internal/store"
)

const (
	// Suggestions at or above this confidence are applied without asking.
	autoApplyThreshold = 0.7
	maxSuggestions     = 5
	samplingMaxTokens  = 1000
)

type entryStore interface {
	GetEntry(ctx context.Context, userID, entryID int64) (store.Entry, error)
	GetTags(ctx context.Context, userID int64) ([]store.Tag, error)
	CreateTag(ctx context.Context, userID int64, input store.NewTag) (store.Tag, error)
	AddTagToEntry(ctx context.Context, userID, entryID, tagID int64) error
}

// Sampler requests a completion from the model peer.
type Sampler interface {
	CreateMessage(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// ElicitResult carries the peer's answer to a confirmation request. Content
// maps suggestion keys to booleans when Action is "accept".
type ElicitResult struct {
	Action  string
	Content map[string]any
}

// Elicitor asks the human operator to confirm choices.
type Elicitor interface {
	ElicitInput(ctx context.Context, message string, schema map[string]any) (ElicitResult, error)
}

// Capabilities reflects what the connected peer advertised at initialize
// time. Both features degrade silently when absent.
type Capabilities struct {
	Sampling    bool
	Elicitation bool
}

// Reconciler runs the suggestion pipeline for a single entry. Failures are
// logged and swallowed: tag suggestion is an enhancement, never a reason for
// the surrounding entry operation to fail.
type Reconciler struct {
	store    entryStore
	sampler  Sampler
	elicitor Elicitor
	caps     func() Capabilities
	log      logging.Logger

	// spawn schedules detached work with its own error boundary. Tests
	// replace it to run synchronously.
	spawn func(func())
}

func New(entries entryStore, sampler Sampler, elicitor Elicitor, caps func() Capabilities, log logging.Logger) *Reconciler {
	r := &Reconciler{
		store:    entries,
		sampler:  sampler,
		elicitor: elicitor,
		caps:     caps,
		log:      log,
	}
	r.spawn = func(fn func()) {
		go func() {
			defer func() {
				if v := recover(); v != nil {
					r.log.Error(context.Background(), "deferred tag confirmation panicked", "panic", v)
				}
			}()
			fn()
		}()
	}
	return r
}

// Reconcile fetches the entry and the user's catalog, asks the model for tag
// suggestions, auto-applies the confident ones and defers the rest to an
// interactive confirmation. It never returns an error to its caller; every
// failure is logged and ends the pass.
func (r *Reconciler) Reconcile(ctx context.Context, userID, entryID int64) {
	if !r.caps().Sampling {
		r.log.Debug(ctx, "peer lacks sampling, skipping tag suggestions", "entryId", entryID)
		return
	}

	entry, err := r.store.GetEntry(ctx, userID, entryID)
	if err != nil {
		r.log.Warn(ctx, "tag suggestion aborted: load entry", "entryId", entryID, "error", err)
		return
	}
	catalog, err := r.store.GetTags(ctx, userID)
	if err != nil {
		r.log.Warn(ctx, "tag suggestion aborted: load tags", "entryId", entryID, "error", err)
		return
	}

	response, err := r.sampler.CreateMessage(ctx, suggestionSystemPrompt, suggestionUserPrompt(entry, catalog), samplingMaxTokens)
	if err != nil {
		r.log.Warn(ctx, "tag suggestion aborted: sampling", "entryId", entryID, "error", err)
		return
	}
	suggestions, err := parseSuggestions(response)
	if err != nil {
		r.log.Warn(ctx, "tag suggestion aborted: unparseable response", "entryId", entryID, "error", err)
		return
	}

	suggestions = r.classify(suggestions, entry, catalog)

	var high, low []Suggestion
	for _, s := range suggestions {
		if s.Confidence >= autoApplyThreshold {
			high = append(high, s)
		} else {
			low = append(low, s)
		}
	}

	applied := 0
	for _, s := range high {
		if err := r.apply(ctx, userID, entryID, s); err != nil {
			r.log.Warn(ctx, "auto-apply tag failed", "entryId", entryID, "tag", s.Label(), "error", err)
			continue
		}
		applied++
	}

	if len(low) > 0 && r.caps().Elicitation {
		// Detached from the caller's lifetime: the entry operation has
		// already responded by the time the human answers.
		detached := context.WithoutCancel(ctx)
		r.spawn(func() {
			r.confirmDeferred(detached, userID, entryID, low)
		})
	}

	r.log.Info(ctx, "tag suggestions reconciled",
		"entryId", entryID,
		"suggested", len(suggestions),
		"applied", applied,
		"deferred", len(low))
}

// classify resolves name collisions against the catalog and drops anything
// unknown, already applied, or duplicated.
func (r *Reconciler) classify(suggestions []Suggestion, entry store.Entry, catalog []store.Tag) []Suggestion {
	byID := make(map[int64]store.Tag, len(catalog))
	byName := make(map[string]store.Tag, len(catalog))
	for _, tag := range catalog {
		byID[tag.ID] = tag
		byName[tag.Name] = tag
	}
	applied := make(map[int64]bool, len(entry.Tags))
	for _, ref := range entry.Tags {
		applied[ref.ID] = true
	}

	kept := suggestions[:0]
	seen := map[string]bool{}
	for _, s := range suggestions {
		// A "new" tag whose name already exists becomes a reference to
		// the existing tag, keeping the model's confidence and reasoning.
		if !s.Existing() {
			if tag, ok := byName[s.Name]; ok {
				s.ID = tag.ID
				s.Description = nil
			}
		}
		if s.Existing() {
			tag, ok := byID[s.ID]
			if !ok || applied[s.ID] {
				continue
			}
			s.Name = tag.Name
		}
		if seen[s.Key()] {
			continue
		}
		seen[s.Key()] = true
		kept = append(kept, s)
	}
	return kept
}

// apply links an existing tag or creates-then-links a new one. Both halves
// are idempotent, so replays after partial failures are safe.
func (r *Reconciler) apply(ctx context.Context, userID, entryID int64, s Suggestion) error {
	tagID := s.ID
	if !s.Existing() {
		tag, err := r.store.CreateTag(ctx, userID, store.NewTag{Name: s.Name, Description: s.Description})
		if err != nil {
			return fmt.Errorf("create tag %q: %w", s.Name, err)
		}
		tagID = tag.ID
	}
	if err := r.store.AddTagToEntry(ctx, userID, entryID, tagID); err != nil {
		return fmt.Errorf("link tag %d: %w", tagID, err)
	}
	return nil
}

// confirmDeferred issues one elicitation round-trip covering every
// low-confidence candidate and applies the accepted ones.
func (r *Reconciler) confirmDeferred(ctx context.Context, userID, entryID int64, candidates []Suggestion) {
	properties := make(map[string]any, len(candidates))
	var lines []string
	for _, s := range candidates {
		properties[s.Key()] = map[string]any{
			"type":        "boolean",
			"title":       s.Label(),
			"description": fmt.Sprintf("confidence %.2f: %s", s.Confidence, s.Reasoning),
		}
		lines = append(lines, fmt.Sprintf("- %s (%.2f): %s", s.Label(), s.Confidence, s.Reasoning))
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	message := "Would you like to apply these suggested tags to your entry?\n" + strings.Join(lines, "\n")

	result, err := r.elicitor.ElicitInput(ctx, message, schema)
	if err != nil {
		r.log.Warn(ctx, "tag confirmation failed", "entryId", entryID, "error", err)
		return
	}
	if result.Action != "accept" {
		r.log.Debug(ctx, "tag confirmation declined", "entryId", entryID, "action", result.Action)
		return
	}

	applied := 0
	for _, s := range candidates {
		accepted, ok := result.Content[s.Key()].(bool)
		if !ok || !accepted {
			continue
		}
		if err := r.apply(ctx, userID, entryID, s); err != nil {
			r.log.Warn(ctx, "confirmed tag apply failed", "entryId", entryID, "tag", s.Label(), "error", err)
			continue
		}
		applied++
	}
	r.log.Info(ctx, "confirmed tags applied", "entryId", entryID, "applied", applied)
}

const suggestionSystemPrompt = `You are a journaling assistant that suggests tags for entries.
Respond with a JSON array of at most five suggestions and nothing else.
Each suggestion is either {"id": <existing tag id>, "confidence": <0-1>, "reasoning": "<short>"}
or {"name": "<new tag name>", "description": "<optional>", "confidence": <0-1>, "reasoning": "<short>"}.
Confidence must be a number between 0 and 1. Do not suggest tags already applied to the entry.`

func suggestionUserPrompt(entry store.Entry, catalog []store.Tag) string {
	type tagView struct {
		ID          int64   `json:"id"`
		Name        string  `json:"name"`
		Description *string `json:"description,omitempty"`
	}
	views := make([]tagView, 0, len(catalog))
	for _, tag := range catalog {
		views = append(views, tagView{ID: tag.ID, Name: tag.Name, Description: tag.Description})
	}
	catalogJSON, _ := json.Marshal(views)
	appliedJSON, _ := json.Marshal(entry.Tags)

	var b strings.Builder
	fmt.Fprintf(&b, "Journal entry %d:\nTitle: %s\nContent: %s\n", entry.ID, entry.Title, entry.Content)
	if entry.Mood != nil {
		fmt.Fprintf(&b, "Mood: %s\n", *entry.Mood)
	}
	if entry.Location != nil {
		fmt.Fprintf(&b, "Location: %s\n", *entry.Location)
	}
	fmt.Fprintf(&b, "\nExisting tags: %s\nTags already applied: %s\n", catalogJSON, appliedJSON)
	return b.String()
}
