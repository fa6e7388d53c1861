// Package export renders a user's journal as a downloadable document and,
// when object storage is configured, uploads it and returns a short-lived
// link instead of inlining the payload.
package export

import "errors"

// Format represents the export output format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Request contains parameters for an export operation.
type Request struct {
	Format Format
	From   string // YYYY-MM-DD, inclusive; empty = no lower bound
	To     string // YYYY-MM-DD, inclusive; empty = no upper bound
}

// Result contains the export output. URL is set when the document was
// uploaded to object storage; Data is set when it is returned inline.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	URL      string
}

// ErrUnsupportedFormat indicates the requested format is not one this
// service can produce.
var ErrUnsupportedFormat = errors.New("unsupported export format")
