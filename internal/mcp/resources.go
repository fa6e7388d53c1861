package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/epicweb-dev/epic-me-mcp/internal/store"
)

const (
	uriCredits     = "epicme://credits"
	uriCurrentUser = "epicme://users/current"
	uriEntries     = "epicme://entries"
	uriTags        = "epicme://tags"
)

const creditsText = `# EpicMe

A personal journaling assistant served over the Model Context Protocol.

Sign in with the authenticate tool, then write entries, tag them, search
them, and export your journal. Tag suggestions are generated for every new
entry and the uncertain ones are offered back to you for confirmation.
`

func (s *Session) handleResourcesList(msg *message) {
	s.writeResult(msg.ID, resourcesListResult{
		Resources: []resourceDescription{
			{
				URI:         uriCredits,
				Name:        "credits",
				Description: "About this server",
				MIMEType:    "text/markdown",
			},
			{
				URI:         uriCurrentUser,
				Name:        "current user",
				Description: "The signed-in user",
				MIMEType:    "application/json",
			},
			{
				URI:         uriEntries,
				Name:        "entries",
				Description: "All of your journal entries",
				MIMEType:    "application/json",
			},
			{
				URI:         uriTags,
				Name:        "tags",
				Description: "All of your tags",
				MIMEType:    "application/json",
			},
		},
	})
}

func (s *Session) handleResourceTemplatesList(msg *message) {
	s.writeResult(msg.ID, resourceTemplatesListResult{
		ResourceTemplates: []resourceTemplate{
			{
				URITemplate: uriEntries + "/{id}",
				Name:        "entry",
				Description: "A single journal entry with its tags",
				MIMEType:    "application/json",
			},
			{
				URITemplate: uriTags + "/{id}",
				Name:        "tag",
				Description: "A single tag",
				MIMEType:    "application/json",
			},
		},
	})
}

func (s *Session) handleResourcesRead(ctx context.Context, msg *message) {
	var params resourcesReadParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.writeError(msg.ID, codeInvalidParams, "invalid resources/read params: "+err.Error())
		return
	}

	// Credits are public; everything else belongs to the signed-in user.
	if params.URI == uriCredits {
		s.writeResult(msg.ID, resourcesReadResult{
			Contents: []resourceContents{{
				URI:      params.URI,
				MIMEType: "text/markdown",
				Text:     creditsText,
			}},
		})
		return
	}

	user, err := s.currentUser(ctx)
	if err != nil {
		s.writeError(msg.ID, codeInvalidRequest, err.Error())
		return
	}

	payload, err := s.readResource(ctx, user, params.URI)
	if err != nil {
		s.writeError(msg.ID, codeInvalidParams, err.Error())
		return
	}
	s.writeResult(msg.ID, resourcesReadResult{
		Contents: []resourceContents{{
			URI:      params.URI,
			MIMEType: "application/json",
			Text:     payload,
		}},
	})
}

func (s *Session) readResource(ctx context.Context, user store.User, uri string) (string, error) {
	userID := user.ID
	switch {
	case uri == uriCurrentUser:
		return encodeResource(map[string]any{"id": user.ID, "email": user.Email})

	case uri == uriEntries:
		entries, err := s.srv.store.ListEntries(ctx, userID, store.EntryFilter{})
		if err != nil {
			return "", err
		}
		views := make([]entryView, 0, len(entries))
		for _, entry := range entries {
			views = append(views, toEntryView(entry))
		}
		return encodeResource(views)

	case uri == uriTags:
		tags, err := s.srv.store.GetTags(ctx, userID)
		if err != nil {
			return "", err
		}
		views := make([]tagView, 0, len(tags))
		for _, tag := range tags {
			views = append(views, toTagView(tag))
		}
		return encodeResource(views)

	case strings.HasPrefix(uri, uriEntries+"/"):
		id, err := resourceID(uri, uriEntries+"/")
		if err != nil {
			return "", err
		}
		entry, err := s.srv.store.GetEntry(ctx, userID, id)
		if err != nil {
			return "", fmt.Errorf("entry %d not found", id)
		}
		return encodeResource(toEntryView(entry))

	case strings.HasPrefix(uri, uriTags+"/"):
		id, err := resourceID(uri, uriTags+"/")
		if err != nil {
			return "", err
		}
		tag, err := s.srv.store.GetTag(ctx, userID, id)
		if err != nil {
			return "", fmt.Errorf("tag %d not found", id)
		}
		return encodeResource(toTagView(tag))

	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

func resourceID(uri, prefix string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(uri, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid resource id in %s", uri)
	}
	return id, nil
}

func encodeResource(v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode resource: %w", err)
	}
	return string(raw), nil
}
