package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/epicweb-dev/epic-me-mcp/internal/export"
	"github.com/epicweb-dev/epic-me-mcp/internal/search"
	"github.com/epicweb-dev/epic-me-mcp/internal/store"
)

type toolHandler func(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error)

type tool struct {
	def  toolDescription
	auth authRequirement

	// detached handlers may round-trip to the client (elicitation), so they
	// must not run on the read loop.
	detached bool
	handler  toolHandler
}

func boolPtr(v bool) *bool { return &v }

func objectSchema(required []string, properties map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func numberProp(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

func boolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

// toolCatalog is the full tool surface; the availability gate decides which
// subset a session sees at any moment.
func toolCatalog() []tool {
	readOnly := &toolAnnotations{ReadOnlyHint: boolPtr(true)}
	idempotent := &toolAnnotations{IdempotentHint: boolPtr(true)}
	destructive := &toolAnnotations{DestructiveHint: boolPtr(true)}

	return []tool{
		{
			def: toolDescription{
				Name:        "get_logging_level",
				Title:       "Get logging level",
				Description: "Report the current logging level for this session.",
				InputSchema: objectSchema(nil, map[string]any{}),
				Annotations: readOnly,
			},
			auth:    anyState,
			handler: handleGetLoggingLevel,
		},
		{
			def: toolDescription{
				Name:        "authenticate",
				Title:       "Authenticate",
				Description: "Send a one-time validation code to your email address. Follow up with validate_token.",
				InputSchema: objectSchema([]string{"email"}, map[string]any{
					"email": stringProp("The email address to send the code to"),
				}),
			},
			auth:    unauthOnly,
			handler: handleAuthenticate,
		},
		{
			def: toolDescription{
				Name:        "validate_token",
				Title:       "Validate token",
				Description: "Submit the emailed one-time code to finish signing in.",
				InputSchema: objectSchema([]string{"code"}, map[string]any{
					"code": stringProp("The 6-digit code from the email"),
				}),
			},
			auth:    unauthOnly,
			handler: handleValidateToken,
		},
		{
			def: toolDescription{
				Name:        "whoami",
				Title:       "Who am I",
				Description: "Show the currently signed-in user, if any.",
				InputSchema: objectSchema(nil, map[string]any{}),
				Annotations: readOnly,
			},
			auth:    anyState,
			handler: handleWhoami,
		},
		{
			def: toolDescription{
				Name:        "logout",
				Title:       "Log out",
				Description: "Release this session's claim on your account.",
				InputSchema: objectSchema(nil, map[string]any{}),
				Annotations: idempotent,
			},
			auth:    authOnly,
			handler: handleLogout,
		},
		{
			def: toolDescription{
				Name:        "create_entry",
				Title:       "Create entry",
				Description: "Create a new journal entry. Tag suggestions run in the background afterwards.",
				InputSchema: objectSchema([]string{"title", "content"}, map[string]any{
					"title":      stringProp("The title of the entry"),
					"content":    stringProp("The content of the entry"),
					"mood":       stringProp("The mood of the entry, e.g. happy, sad, anxious"),
					"location":   stringProp("Where the entry was written"),
					"weather":    stringProp("The weather during the entry"),
					"isPrivate":  boolProp("Whether the entry is private (default true)"),
					"isFavorite": boolProp("Whether the entry is a favorite (default false)"),
				}),
			},
			auth:    authOnly,
			handler: handleCreateEntry,
		},
		{
			def: toolDescription{
				Name:        "get_entry",
				Title:       "Get entry",
				Description: "Fetch one journal entry with its tags.",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id": numberProp("The entry id"),
				}),
				Annotations: readOnly,
			},
			auth:    authOnly,
			handler: handleGetEntry,
		},
		{
			def: toolDescription{
				Name:        "list_entries",
				Title:       "List entries",
				Description: "List journal entries, optionally filtered by tags or a date range.",
				InputSchema: objectSchema(nil, map[string]any{
					"tagIds": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "number"},
						"description": "Only entries carrying at least one of these tags",
					},
					"from": stringProp("Earliest date to include, YYYY-MM-DD"),
					"to":   stringProp("Latest date to include, YYYY-MM-DD"),
				}),
				Annotations: readOnly,
			},
			auth:    authOnly,
			handler: handleListEntries,
		},
		{
			def: toolDescription{
				Name:        "update_entry",
				Title:       "Update entry",
				Description: "Update a journal entry. Omitted fields are left unchanged; optional fields set to an empty string are cleared.",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id":         numberProp("The entry id"),
					"title":      stringProp("The new title"),
					"content":    stringProp("The new content"),
					"mood":       stringProp("The new mood, empty string to clear"),
					"location":   stringProp("The new location, empty string to clear"),
					"weather":    stringProp("The new weather, empty string to clear"),
					"isPrivate":  boolProp("Whether the entry is private"),
					"isFavorite": boolProp("Whether the entry is a favorite"),
				}),
				Annotations: idempotent,
			},
			auth:    authOnly,
			handler: handleUpdateEntry,
		},
		{
			def: toolDescription{
				Name:        "delete_entry",
				Title:       "Delete entry",
				Description: "Delete a journal entry permanently. You will be asked to confirm.",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id": numberProp("The entry id"),
				}),
				Annotations: destructive,
			},
			auth:     authOnly,
			detached: true,
			handler:  handleDeleteEntry,
		},
		{
			def: toolDescription{
				Name:        "create_tag",
				Title:       "Create tag",
				Description: "Create a tag. Creating a tag whose name already exists returns the existing tag.",
				InputSchema: objectSchema([]string{"name"}, map[string]any{
					"name":        stringProp("The tag name"),
					"description": stringProp("What the tag is for"),
				}),
				Annotations: idempotent,
			},
			auth:    authOnly,
			handler: handleCreateTag,
		},
		{
			def: toolDescription{
				Name:        "get_tag",
				Title:       "Get tag",
				Description: "Fetch one tag.",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id": numberProp("The tag id"),
				}),
				Annotations: readOnly,
			},
			auth:    authOnly,
			handler: handleGetTag,
		},
		{
			def: toolDescription{
				Name:        "list_tags",
				Title:       "List tags",
				Description: "List all of your tags.",
				InputSchema: objectSchema(nil, map[string]any{}),
				Annotations: readOnly,
			},
			auth:    authOnly,
			handler: handleListTags,
		},
		{
			def: toolDescription{
				Name:        "update_tag",
				Title:       "Update tag",
				Description: "Update a tag's name or description. Omitted fields are left unchanged.",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id":          numberProp("The tag id"),
					"name":        stringProp("The new tag name"),
					"description": stringProp("The new description, empty string to clear"),
				}),
				Annotations: idempotent,
			},
			auth:    authOnly,
			handler: handleUpdateTag,
		},
		{
			def: toolDescription{
				Name:        "delete_tag",
				Title:       "Delete tag",
				Description: "Delete a tag. Entries keep their other tags. You will be asked to confirm.",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id": numberProp("The tag id"),
				}),
				Annotations: destructive,
			},
			auth:     authOnly,
			detached: true,
			handler:  handleDeleteTag,
		},
		{
			def: toolDescription{
				Name:        "add_tag_to_entry",
				Title:       "Add tag to entry",
				Description: "Link a tag to an entry. Linking an already-linked tag is a no-op.",
				InputSchema: objectSchema([]string{"entryId", "tagId"}, map[string]any{
					"entryId": numberProp("The entry id"),
					"tagId":   numberProp("The tag id"),
				}),
				Annotations: idempotent,
			},
			auth:    authOnly,
			handler: handleAddTagToEntry,
		},
		{
			def: toolDescription{
				Name:        "search_entries",
				Title:       "Search entries",
				Description: "Full-text search across your journal.",
				InputSchema: objectSchema([]string{"query"}, map[string]any{
					"query":  stringProp("Search terms"),
					"limit":  numberProp("Maximum results, default 20"),
					"offset": numberProp("Results to skip"),
				}),
				Annotations: readOnly,
			},
			auth:    authOnly,
			handler: handleSearchEntries,
		},
		{
			def: toolDescription{
				Name:        "export_journal",
				Title:       "Export journal",
				Description: "Export your journal as JSON or Markdown, optionally limited to a date range.",
				InputSchema: objectSchema(nil, map[string]any{
					"format": map[string]any{
						"type":        "string",
						"enum":        []string{"json", "markdown"},
						"description": "Output format, default json",
					},
					"from": stringProp("Earliest date to include, YYYY-MM-DD"),
					"to":   stringProp("Latest date to include, YYYY-MM-DD"),
				}),
				Annotations: readOnly,
			},
			auth:    authOnly,
			handler: handleExportJournal,
		},
		{
			def: toolDescription{
				Name:        "get_tag_suggestions_instructions",
				Title:       "Tag suggestion instructions",
				Description: "Explain how automatic tag suggestions work for this journal.",
				InputSchema: objectSchema(nil, map[string]any{}),
				Annotations: readOnly,
			},
			auth:    anyState,
			handler: handleTagSuggestionInstructions,
		},
		{
			def: toolDescription{
				Name:        "get_journal_insights_instructions",
				Title:       "Journal insight instructions",
				Description: "Explain how to produce useful insights from this journal.",
				InputSchema: objectSchema(nil, map[string]any{}),
				Annotations: readOnly,
			},
			auth:    anyState,
			handler: handleInsightInstructions,
		},
	}
}

func (s *Session) handleToolsList(ctx context.Context, msg *message) {
	descriptions := []toolDescription{}
	for _, t := range enabledTools(toolCatalog(), s.authenticated(ctx)) {
		descriptions = append(descriptions, t.def)
	}
	s.writeResult(msg.ID, toolsListResult{Tools: descriptions})
}

func (s *Session) handleToolsCall(ctx context.Context, msg *message) {
	var params toolsCallParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.writeError(msg.ID, codeInvalidParams, "invalid tools/call params: "+err.Error())
		return
	}

	var target *tool
	for _, t := range toolCatalog() {
		if t.def.Name == params.Name {
			found := t
			target = &found
			break
		}
	}
	if target == nil {
		s.writeError(msg.ID, codeInvalidParams, "unknown tool: "+params.Name)
		return
	}

	var user store.User
	switch target.auth {
	case authOnly:
		resolved, err := s.currentUser(ctx)
		if err != nil {
			s.writeResult(msg.ID, toolErrorResult(err))
			return
		}
		user = resolved
	case unauthOnly:
		if s.authenticated(ctx) {
			s.writeResult(msg.ID, toolErrorResult(fmt.Errorf("you are already signed in; call logout first")))
			return
		}
	}

	run := func() {
		result, err := target.handler(ctx, s, user, params.Arguments)
		if err != nil {
			s.writeResult(msg.ID, toolErrorResult(err))
			return
		}
		s.writeResult(msg.ID, toolSuccessResult(result))
	}

	if target.detached {
		id := msg.ID
		go func() {
			defer func() {
				if v := recover(); v != nil {
					s.srv.log.Error(ctx, "tool handler panicked", "tool", params.Name, "panic", v)
					s.writeError(id, codeInternalError, "internal error")
				}
			}()
			run()
		}()
		return
	}
	run()
}

// confirmDestructive asks the peer to approve a destructive action. Peers
// without elicitation support proceed without confirmation.
func (s *Session) confirmDestructive(ctx context.Context, text string) (bool, error) {
	if s.clientCaps().Elicitation == nil {
		return true, nil
	}
	result, err := s.ElicitInput(ctx, text, map[string]any{
		"type": "object",
		"properties": map[string]any{
			"confirmed": map[string]any{"type": "boolean", "title": "Confirm deletion"},
		},
		"required": []string{"confirmed"},
	})
	if err != nil {
		return false, fmt.Errorf("confirm deletion: %w", err)
	}
	if result.Action != "accept" {
		return false, nil
	}
	confirmed, _ := result.Content["confirmed"].(bool)
	return confirmed, nil
}

func toolErrorResult(err error) toolsCallResult {
	return toolsCallResult{
		IsError: true,
		Content: []contentBlock{{Type: "text", Text: err.Error()}},
	}
}

// toolSuccessResult serializes the handler's value. Strings become plain
// text; anything else is JSON in both the text block and structuredContent.
func toolSuccessResult(result any) toolsCallResult {
	if text, ok := result.(string); ok {
		return toolsCallResult{Content: []contentBlock{{Type: "text", Text: text}}}
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolErrorResult(fmt.Errorf("encode result: %w", err))
	}
	return toolsCallResult{
		Content:           []contentBlock{{Type: "text", Text: string(raw)}},
		StructuredContent: result,
	}
}

// --- views ---

type tagRefView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type entryView struct {
	ID         int64        `json:"id"`
	Title      string       `json:"title"`
	Content    string       `json:"content"`
	Mood       *string      `json:"mood,omitempty"`
	Location   *string      `json:"location,omitempty"`
	Weather    *string      `json:"weather,omitempty"`
	IsPrivate  bool         `json:"isPrivate"`
	IsFavorite bool         `json:"isFavorite"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	Tags       []tagRefView `json:"tags"`
}

type tagView struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

func toEntryView(entry store.Entry) entryView {
	tags := make([]tagRefView, 0, len(entry.Tags))
	for _, ref := range entry.Tags {
		tags = append(tags, tagRefView{ID: ref.ID, Name: ref.Name})
	}
	return entryView{
		ID:         entry.ID,
		Title:      entry.Title,
		Content:    entry.Content,
		Mood:       entry.Mood,
		Location:   entry.Location,
		Weather:    entry.Weather,
		IsPrivate:  entry.IsPrivate,
		IsFavorite: entry.IsFavorite,
		CreatedAt:  entry.CreatedAt,
		UpdatedAt:  entry.UpdatedAt,
		Tags:       tags,
	}
}

func toTagView(tag store.Tag) tagView {
	return tagView{ID: tag.ID, Name: tag.Name, Description: tag.Description}
}

// --- handlers ---

func handleGetLoggingLevel(_ context.Context, s *Session, _ store.User, _ json.RawMessage) (any, error) {
	s.levelMu.Lock()
	defer s.levelMu.Unlock()
	return s.logLevel, nil
}

func handleAuthenticate(ctx context.Context, s *Session, _ store.User, args json.RawMessage) (any, error) {
	var input struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if err := s.srv.bridge.Authenticate(ctx, s.grantID, input.Email); err != nil {
		return nil, err
	}
	return fmt.Sprintf("A validation code was sent to %s. Call validate_token with the code to finish signing in.", input.Email), nil
}

func handleValidateToken(ctx context.Context, s *Session, _ store.User, args json.RawMessage) (any, error) {
	var input struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Code == "" {
		return nil, fmt.Errorf("code is required")
	}
	user, err := s.srv.bridge.ValidateToken(ctx, s.grantID, input.Code)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Signed in as %s. Your journal tools are now available.", user.Email), nil
}

func handleWhoami(ctx context.Context, s *Session, _ store.User, _ json.RawMessage) (any, error) {
	user, err := s.currentUser(ctx)
	if err != nil {
		return "You are not signed in. Call authenticate with your email to begin.", nil
	}
	return map[string]any{"id": user.ID, "email": user.Email}, nil
}

func handleLogout(ctx context.Context, s *Session, _ store.User, _ json.RawMessage) (any, error) {
	if err := s.srv.bridge.Unclaim(ctx, s.grantID); err != nil {
		return nil, err
	}
	return "Signed out. Call authenticate to sign in again.", nil
}

func handleCreateEntry(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	var input struct {
		Title      string  `json:"title"`
		Content    string  `json:"content"`
		Mood       *string `json:"mood"`
		Location   *string `json:"location"`
		Weather    *string `json:"weather"`
		IsPrivate  *bool   `json:"isPrivate"`
		IsFavorite *bool   `json:"isFavorite"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Title == "" || input.Content == "" {
		return nil, fmt.Errorf("title and content are required")
	}

	entry, err := s.srv.store.CreateEntry(ctx, user.ID, store.NewEntry{
		Title:      input.Title,
		Content:    input.Content,
		Mood:       input.Mood,
		Location:   input.Location,
		Weather:    input.Weather,
		IsPrivate:  input.IsPrivate,
		IsFavorite: input.IsFavorite,
	})
	if err != nil {
		return nil, err
	}

	s.indexEntry(ctx, user.ID, entry)

	// Suggestions run detached: the response goes out now, and the
	// sampling round-trip is answered by the read loop later.
	background := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				s.srv.log.Error(background, "tag suggestion panicked", "entryId", entry.ID, "panic", v)
			}
		}()
		s.reconciler.Reconcile(background, user.ID, entry.ID)
	}()

	return toEntryView(entry), nil
}

func handleGetEntry(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	id, err := idArg(args, "id")
	if err != nil {
		return nil, err
	}
	entry, err := s.srv.store.GetEntry(ctx, user.ID, id)
	if err != nil {
		return nil, fmt.Errorf("entry %d not found", id)
	}
	return toEntryView(entry), nil
}

func handleListEntries(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	var input struct {
		TagIDs []int64 `json:"tagIds"`
		From   string  `json:"from"`
		To     string  `json:"to"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	entries, err := s.srv.store.ListEntries(ctx, user.ID, store.EntryFilter{
		TagIDs: input.TagIDs,
		From:   input.From,
		To:     input.To,
	})
	if err != nil {
		return nil, err
	}
	views := make([]entryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, toEntryView(entry))
	}
	return map[string]any{"entries": views, "count": len(views)}, nil
}

func handleUpdateEntry(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	var input struct {
		ID         int64   `json:"id"`
		Title      *string `json:"title"`
		Content    *string `json:"content"`
		Mood       *string `json:"mood"`
		Location   *string `json:"location"`
		Weather    *string `json:"weather"`
		IsPrivate  *bool   `json:"isPrivate"`
		IsFavorite *bool   `json:"isFavorite"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.ID <= 0 {
		return nil, fmt.Errorf("id must be a positive integer")
	}
	if input.Title != nil && *input.Title == "" {
		return nil, fmt.Errorf("title cannot be empty")
	}
	if input.Content != nil && *input.Content == "" {
		return nil, fmt.Errorf("content cannot be empty")
	}
	entry, err := s.srv.store.UpdateEntry(ctx, user.ID, input.ID, store.UpdateEntry{
		Title:      input.Title,
		Content:    input.Content,
		Mood:       input.Mood,
		Location:   input.Location,
		Weather:    input.Weather,
		IsPrivate:  input.IsPrivate,
		IsFavorite: input.IsFavorite,
	})
	if err != nil {
		return nil, fmt.Errorf("entry %d not found", input.ID)
	}
	s.indexEntry(ctx, user.ID, entry)
	return toEntryView(entry), nil
}

func handleDeleteEntry(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	id, err := idArg(args, "id")
	if err != nil {
		return nil, err
	}
	entry, err := s.srv.store.GetEntry(ctx, user.ID, id)
	if err != nil {
		return nil, fmt.Errorf("entry %d not found", id)
	}
	ok, err := s.confirmDestructive(ctx, fmt.Sprintf("Delete entry %q? This cannot be undone.", entry.Title))
	if err != nil {
		return nil, err
	}
	if !ok {
		return fmt.Sprintf("Entry %d was not deleted.", id), nil
	}
	if err := s.srv.store.DeleteEntry(ctx, user.ID, id); err != nil {
		return nil, err
	}
	if s.srv.search != nil {
		s.srv.search.DeleteEntry(id)
	}
	return fmt.Sprintf("Entry %d deleted.", id), nil
}

func handleCreateTag(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	var input struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	tag, err := s.srv.store.CreateTag(ctx, user.ID, store.NewTag{Name: input.Name, Description: input.Description})
	if err != nil {
		return nil, err
	}
	return toTagView(tag), nil
}

func handleGetTag(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	id, err := idArg(args, "id")
	if err != nil {
		return nil, err
	}
	tag, err := s.srv.store.GetTag(ctx, user.ID, id)
	if err != nil {
		return nil, fmt.Errorf("tag %d not found", id)
	}
	return toTagView(tag), nil
}

func handleListTags(ctx context.Context, s *Session, user store.User, _ json.RawMessage) (any, error) {
	tags, err := s.srv.store.GetTags(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	views := make([]tagView, 0, len(tags))
	for _, tag := range tags {
		views = append(views, toTagView(tag))
	}
	return map[string]any{"tags": views, "count": len(views)}, nil
}

func handleUpdateTag(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	var input struct {
		ID          int64   `json:"id"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.ID <= 0 {
		return nil, fmt.Errorf("id must be a positive integer")
	}
	if input.Name != nil && *input.Name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}
	tag, err := s.srv.store.UpdateTag(ctx, user.ID, input.ID, store.UpdateTag{
		Name:        input.Name,
		Description: input.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("update tag %d: %w", input.ID, err)
	}
	return toTagView(tag), nil
}

func handleDeleteTag(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	id, err := idArg(args, "id")
	if err != nil {
		return nil, err
	}
	tag, err := s.srv.store.GetTag(ctx, user.ID, id)
	if err != nil {
		return nil, fmt.Errorf("tag %d not found", id)
	}
	ok, err := s.confirmDestructive(ctx, fmt.Sprintf("Delete tag %q? Entries keep their other tags.", tag.Name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return fmt.Sprintf("Tag %d was not deleted.", id), nil
	}
	if err := s.srv.store.DeleteTag(ctx, user.ID, id); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Tag %d deleted.", id), nil
}

func handleAddTagToEntry(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	var input struct {
		EntryID int64 `json:"entryId"`
		TagID   int64 `json:"tagId"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.EntryID == 0 || input.TagID == 0 {
		return nil, fmt.Errorf("entryId and tagId are required")
	}
	if err := s.srv.store.AddTagToEntry(ctx, user.ID, input.EntryID, input.TagID); err != nil {
		return nil, fmt.Errorf("link tag %d to entry %d: entry or tag not found", input.TagID, input.EntryID)
	}
	entry, err := s.srv.store.GetEntry(ctx, user.ID, input.EntryID)
	if err != nil {
		return nil, err
	}
	s.indexEntry(ctx, user.ID, entry)
	return toEntryView(entry), nil
}

func handleSearchEntries(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	if s.srv.search == nil {
		return nil, fmt.Errorf("search is not configured on this server")
	}
	var input struct {
		Query  string `json:"query"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	return s.srv.search.Search(search.Query{
		Text:   input.Query,
		UserID: user.ID,
		Limit:  input.Limit,
		Offset: input.Offset,
	}), nil
}

func handleExportJournal(ctx context.Context, s *Session, user store.User, args json.RawMessage) (any, error) {
	if s.srv.exporter == nil {
		return nil, fmt.Errorf("export is not configured on this server")
	}
	var input struct {
		Format string `json:"format"`
		From   string `json:"from"`
		To     string `json:"to"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	result, err := s.srv.exporter.Export(ctx, user.ID, export.Request{
		Format: export.Format(input.Format),
		From:   input.From,
		To:     input.To,
	})
	if err != nil {
		return nil, err
	}
	if result.URL != "" {
		return fmt.Sprintf("Your export is ready: %s (link expires in 15 minutes)", result.URL), nil
	}
	return string(result.Data), nil
}

func handleTagSuggestionInstructions(_ context.Context, _ *Session, _ store.User, _ json.RawMessage) (any, error) {
	return "After you create an entry, the server samples the connected model for up to five tag " +
		"suggestions. Suggestions matching existing tags by name are merged, suggestions for tags " +
		"already on the entry are dropped, and anything with confidence 0.7 or higher is applied " +
		"automatically. Less confident suggestions are offered to you as yes/no choices.", nil
}

func handleInsightInstructions(_ context.Context, _ *Session, _ store.User, _ json.RawMessage) (any, error) {
	return "To build insights: call list_entries for the period you care about, group entries by " +
		"their tags and moods, and look for recurring themes. Use search_entries to pull every " +
		"entry mentioning a topic, and export_journal when you want the full corpus.", nil
}

func (s *Session) indexEntry(ctx context.Context, userID int64, entry store.Entry) {
	if s.srv.search == nil {
		return
	}
	names := make([]string, 0, len(entry.Tags))
	for _, ref := range entry.Tags {
		names = append(names, ref.Name)
	}
	s.srv.search.IndexEntry(search.EntryRecord{
		ID:      entry.ID,
		UserID:  userID,
		Title:   entry.Title,
		Content: entry.Content,
		Tags:    names,
	})
}

func idArg(args json.RawMessage, field string) (int64, error) {
	var m map[string]json.Number
	if err := json.Unmarshal(args, &m); err != nil {
		return 0, fmt.Errorf("invalid arguments: %w", err)
	}
	raw, ok := m[field]
	if !ok {
		return 0, fmt.Errorf("%s is required", field)
	}
	id, err := raw.Int64()
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", field)
	}
	return id, nil
}
