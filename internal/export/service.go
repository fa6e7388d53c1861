package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/epicweb-dev/epic-me-mcp/internal/store"
)

// DataStore defines the data access the exporter needs.
type DataStore interface {
	ListEntries(ctx context.Context, userID int64, filter store.EntryFilter) ([]store.Entry, error)
	GetEntryTags(ctx context.Context, userID, entryID int64) ([]store.Tag, error)
}

// Uploader pushes a finished export to object storage and returns a
// short-lived download URL. nil means "not configured, inline the payload".
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte, mimeType string) (string, error)
}

// Service produces journal exports.
type Service struct {
	store    DataStore
	uploader Uploader
	now      func() time.Time
}

func NewService(store DataStore, uploader Uploader) *Service {
	return &Service{store: store, uploader: uploader, now: time.Now}
}

type exportEntry struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Mood       *string   `json:"mood,omitempty"`
	Location   *string   `json:"location,omitempty"`
	Weather    *string   `json:"weather,omitempty"`
	IsPrivate  bool      `json:"isPrivate"`
	IsFavorite bool      `json:"isFavorite"`
	CreatedAt  time.Time `json:"createdAt"`
	Tags       []string  `json:"tags"`
}

type exportDocument struct {
	ExportedAt time.Time     `json:"exportedAt"`
	EntryCount int           `json:"entryCount"`
	Entries    []exportEntry `json:"entries"`
}

// Export renders every entry in the requested window, newest first.
func (s *Service) Export(ctx context.Context, userID int64, req Request) (*Result, error) {
	entries, err := s.store.ListEntries(ctx, userID, store.EntryFilter{From: req.From, To: req.To})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	doc := exportDocument{
		ExportedAt: s.now().UTC(),
		EntryCount: len(entries),
		Entries:    make([]exportEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		tags, err := s.store.GetEntryTags(ctx, userID, entry.ID)
		if err != nil {
			return nil, fmt.Errorf("entry %d tags: %w", entry.ID, err)
		}
		names := make([]string, 0, len(tags))
		for _, tag := range tags {
			names = append(names, tag.Name)
		}
		doc.Entries = append(doc.Entries, exportEntry{
			ID:         entry.ID,
			Title:      entry.Title,
			Content:    entry.Content,
			Mood:       entry.Mood,
			Location:   entry.Location,
			Weather:    entry.Weather,
			IsPrivate:  entry.IsPrivate,
			IsFavorite: entry.IsFavorite,
			CreatedAt:  entry.CreatedAt,
			Tags:       names,
		})
	}

	result, err := s.render(doc, req.Format)
	if err != nil {
		return nil, err
	}

	if s.uploader != nil {
		url, err := s.uploader.Upload(ctx, result.Filename, result.Data, result.MimeType)
		if err != nil {
			return nil, fmt.Errorf("upload export: %w", err)
		}
		result.URL = url
		result.Data = nil
	}
	return result, nil
}

func (s *Service) render(doc exportDocument, format Format) (*Result, error) {
	stamp := doc.ExportedAt.Format("2006-01-02")
	switch format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		return &Result{
			Data:     data,
			Filename: fmt.Sprintf("journal-%s.json", stamp),
			MimeType: "application/json",
		}, nil
	case FormatMarkdown:
		return &Result{
			Data:     renderMarkdown(doc),
			Filename: fmt.Sprintf("journal-%s.md", stamp),
			MimeType: "text/markdown",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func renderMarkdown(doc exportDocument) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Journal export\n\nExported %s, %d entries.\n",
		doc.ExportedAt.Format("January 2, 2006"), doc.EntryCount)
	for _, entry := range doc.Entries {
		fmt.Fprintf(&b, "\n## %s\n\n*%s*", entry.Title, entry.CreatedAt.Format("2006-01-02"))
		if len(entry.Tags) > 0 {
			fmt.Fprintf(&b, " — %s", strings.Join(entry.Tags, ", "))
		}
		b.WriteString("\n\n")
		if entry.Mood != nil {
			fmt.Fprintf(&b, "Mood: %s\n\n", *entry.Mood)
		}
		if entry.Location != nil {
			fmt.Fprintf(&b, "Location: %s\n\n", *entry.Location)
		}
		b.WriteString(entry.Content)
		b.WriteString("\n")
	}
	return b.Bytes()
}
