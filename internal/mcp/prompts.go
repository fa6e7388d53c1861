package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

func (s *Session) handlePromptsList(msg *message) {
	s.writeResult(msg.ID, promptsListResult{
		Prompts: []promptDescription{
			{
				Name:        "suggest_tags",
				Description: "Suggest tags for a journal entry",
				Arguments: []promptArgument{
					{Name: "entryId", Description: "The entry to suggest tags for", Required: true},
				},
			},
			{
				Name:        "summarize_journal_entries",
				Description: "Summarize recent journal entries, surfacing themes and moods",
			},
		},
	})
}

func (s *Session) handlePromptsGet(ctx context.Context, msg *message) {
	var params promptsGetParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.writeError(msg.ID, codeInvalidParams, "invalid prompts/get params: "+err.Error())
		return
	}

	switch params.Name {
	case "suggest_tags":
		entryID, err := strconv.ParseInt(params.Arguments["entryId"], 10, 64)
		if err != nil || entryID <= 0 {
			s.writeError(msg.ID, codeInvalidParams, "entryId must be a positive integer")
			return
		}
		s.writeResult(msg.ID, promptsGetResult{
			Description: "Suggest tags for a journal entry",
			Messages: []promptMessage{{
				Role: "user",
				Content: contentBlock{
					Type: "text",
					Text: fmt.Sprintf(
						"Read journal entry %d via the epicme://entries/%d resource and the tag catalog via %s. "+
							"Suggest up to five tags for the entry: prefer existing tags by id, propose new ones by "+
							"name with a short description, and give each a confidence between 0 and 1 with one line "+
							"of reasoning. Apply the confident ones with add_tag_to_entry or create_tag.",
						entryID, entryID, uriTags),
				},
			}},
		})

	case "summarize_journal_entries":
		s.writeResult(msg.ID, promptsGetResult{
			Description: "Summarize recent journal entries",
			Messages: []promptMessage{{
				Role: "user",
				Content: contentBlock{
					Type: "text",
					Text: "Read my journal via the " + uriEntries + " resource and write a short summary: " +
						"the recurring themes, how my mood has shifted over time, and anything that looks " +
						"worth paying attention to. Quote at most one line per entry.",
				},
			}},
		})

	default:
		s.writeError(msg.ID, codeInvalidParams, "unknown prompt: "+params.Name)
	}
}
