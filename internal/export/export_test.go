package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/epicweb-dev/epic-me-mcp/internal/store"
)

type fakeStore struct {
	entries []store.Entry
	tags    map[int64][]store.Tag
	err     error
}

func (f *fakeStore) ListEntries(ctx context.Context, userID int64, filter store.EntryFilter) ([]store.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func (f *fakeStore) GetEntryTags(ctx context.Context, userID, entryID int64) ([]store.Tag, error) {
	return f.tags[entryID], nil
}

type fakeUploader struct {
	filename string
	data     []byte
}

func (f *fakeUploader) Upload(ctx context.Context, filename string, data []byte, mimeType string) (string, error) {
	f.filename = filename
	f.data = data
	return "https://storage.example.com/" + filename, nil
}

func sampleEntries() []store.Entry {
	mood := "calm"
	return []store.Entry{
		{
			ID:        2,
			Title:     "Trip to Japan",
			Content:   "We took the train to Kyoto.",
			Mood:      &mood,
			CreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		},
		{
			ID:        1,
			Title:     "Quiet Sunday",
			Content:   "Read a book in the garden.",
			CreatedAt: time.Date(2026, 3, 1, 17, 30, 0, 0, time.UTC),
		},
	}
}

func TestExportJSONInline(t *testing.T) {
	svc := NewService(&fakeStore{
		entries: sampleEntries(),
		tags:    map[int64][]store.Tag{2: {{ID: 1, Name: "travel"}}},
	}, nil)

	result, err := svc.Export(context.Background(), 1, Request{Format: FormatJSON})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.URL != "" {
		t.Fatal("inline export should not carry a URL")
	}
	if result.MimeType != "application/json" {
		t.Fatalf("mime type = %q", result.MimeType)
	}

	var doc struct {
		EntryCount int `json:"entryCount"`
		Entries    []struct {
			Title string   `json:"title"`
			Tags  []string `json:"tags"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(result.Data, &doc); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if doc.EntryCount != 2 || len(doc.Entries) != 2 {
		t.Fatalf("entry count = %d/%d, want 2", doc.EntryCount, len(doc.Entries))
	}
	if doc.Entries[0].Title != "Trip to Japan" || doc.Entries[0].Tags[0] != "travel" {
		t.Fatalf("first entry = %+v", doc.Entries[0])
	}
}

func TestExportMarkdown(t *testing.T) {
	svc := NewService(&fakeStore{entries: sampleEntries(), tags: map[int64][]store.Tag{}}, nil)

	result, err := svc.Export(context.Background(), 1, Request{Format: FormatMarkdown})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	text := string(result.Data)
	if !strings.Contains(text, "## Trip to Japan") || !strings.Contains(text, "## Quiet Sunday") {
		t.Fatalf("markdown missing headings:\n%s", text)
	}
	if !strings.Contains(text, "Mood: calm") {
		t.Fatal("markdown missing mood line")
	}
	if !strings.HasSuffix(result.Filename, ".md") {
		t.Fatalf("filename = %q", result.Filename)
	}
}

func TestExportUploadsWhenConfigured(t *testing.T) {
	uploader := &fakeUploader{}
	svc := NewService(&fakeStore{entries: sampleEntries(), tags: map[int64][]store.Tag{}}, uploader)

	result, err := svc.Export(context.Background(), 1, Request{Format: FormatJSON})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if result.URL == "" {
		t.Fatal("uploaded export should carry a URL")
	}
	if result.Data != nil {
		t.Fatal("uploaded export should not inline the payload")
	}
	if len(uploader.data) == 0 {
		t.Fatal("uploader received no payload")
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	svc := NewService(&fakeStore{}, nil)
	_, err := svc.Export(context.Background(), 1, Request{Format: "xml"})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}
