// Package mcp hosts the journaling assistant over the Model Context
// Protocol: JSON-RPC 2.0 on newline-delimited stdio, with tools, resources,
// prompts, and server-initiated sampling and elicitation round-trips.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/epicweb-dev/epic-me-mcp/internal/auth"
	"github.com/epicweb-dev/epic-me-mcp/internal/export"
	"github.com/epicweb-dev/epic-me-mcp/internal/logging"
	"github.com/epicweb-dev/epic-me-mcp/internal/reconcile"
	"github.com/epicweb-dev/epic-me-mcp/internal/search"
	"github.com/epicweb-dev/epic-me-mcp/internal/store"
)

// Store is the persistence surface the protocol host needs.
type Store interface {
	CreateEntry(ctx context.Context, userID int64, input store.NewEntry) (store.Entry, error)
	GetEntry(ctx context.Context, userID, entryID int64) (store.Entry, error)
	ListEntries(ctx context.Context, userID int64, filter store.EntryFilter) ([]store.Entry, error)
	UpdateEntry(ctx context.Context, userID, entryID int64, input store.UpdateEntry) (store.Entry, error)
	DeleteEntry(ctx context.Context, userID, entryID int64) error
	CreateTag(ctx context.Context, userID int64, input store.NewTag) (store.Tag, error)
	GetTag(ctx context.Context, userID, tagID int64) (store.Tag, error)
	UpdateTag(ctx context.Context, userID, tagID int64, input store.UpdateTag) (store.Tag, error)
	GetTags(ctx context.Context, userID int64) ([]store.Tag, error)
	DeleteTag(ctx context.Context, userID, tagID int64) error
	AddTagToEntry(ctx context.Context, userID, entryID, tagID int64) error
	GetEntryTags(ctx context.Context, userID, entryID int64) ([]store.Tag, error)
}

// AuthBridge is the authentication surface the protocol host needs.
type AuthBridge interface {
	CreateUnclaimedGrant(ctx context.Context, candidateID string) (string, error)
	Authenticate(ctx context.Context, grantID, email string) error
	ValidateToken(ctx context.Context, grantID, code string) (store.User, error)
	RequireUser(ctx context.Context, grantID string) (store.User, error)
	Unclaim(ctx context.Context, grantID string) error
	Subscribe(auth.ChangeListener) func()
}

// Searcher runs full-text queries over the user's entries and keeps the
// index in step with entry mutations.
type Searcher interface {
	Search(q search.Query) search.Response
	IndexEntry(record search.EntryRecord)
	DeleteEntry(entryID int64)
}

// Exporter renders the user's journal as a downloadable document.
type Exporter interface {
	Export(ctx context.Context, userID int64, req export.Request) (*export.Result, error)
}

// Server holds the long-lived collaborators shared across sessions.
type Server struct {
	bridge   AuthBridge
	store    Store
	search   Searcher
	exporter Exporter
	fallback reconcile.Sampler
	log      logging.Logger

	name    string
	version string

	// grantID, when set, resumes an existing grant instead of creating a
	// fresh unclaimed one at session start.
	grantID string
}

type ServerOption func(*Server)

// WithSearch wires full-text search; without it the search tool reports
// that search is unavailable.
func WithSearch(s Searcher) ServerOption {
	return func(srv *Server) { srv.search = s }
}

// WithExporter wires journal export.
func WithExporter(e Exporter) ServerOption {
	return func(srv *Server) { srv.exporter = e }
}

// WithFallbackSampler supplies a server-side model client used for tag
// suggestions when the peer does not advertise sampling.
func WithFallbackSampler(s reconcile.Sampler) ServerOption {
	return func(srv *Server) { srv.fallback = s }
}

// WithGrantID binds sessions to an existing grant.
func WithGrantID(grantID string) ServerOption {
	return func(srv *Server) { srv.grantID = grantID }
}

func NewServer(bridge AuthBridge, st Store, log logging.Logger, name, version string, options ...ServerOption) *Server {
	srv := &Server{
		bridge:  bridge,
		store:   st,
		log:     log,
		name:    name,
		version: version,
	}
	for _, option := range options {
		option(srv)
	}
	return srv
}

// Serve runs one session on stdin/stdout. This is the entry point for the
// stdio transport.
func (srv *Server) Serve(ctx context.Context) error {
	return srv.Run(ctx, os.Stdin, os.Stdout)
}

// Session is one protocol connection bound to a single grant. All requests
// dispatch sequentially on the read loop; handlers that need a round-trip
// to the client run detached so the loop stays free to route the answer.
type Session struct {
	srv     *Server
	grantID string

	writeMu sync.Mutex
	encoder *json.Encoder

	capsMu      sync.Mutex
	caps        clientCapabilities
	initialized bool

	levelMu  sync.Mutex
	logLevel string

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[string]chan *message
	closed    chan struct{}

	reconciler *reconcile.Reconciler
}

// Run processes JSON-RPC messages from input until EOF. Each message
// occupies a single line.
func (srv *Server) Run(ctx context.Context, input io.Reader, output io.Writer) error {
	s := &Session{
		srv:      srv,
		encoder:  json.NewEncoder(output),
		logLevel: "info",
		pending:  map[string]chan *message{},
		closed:   make(chan struct{}),
	}
	defer close(s.closed)

	grantID := srv.grantID
	if grantID == "" {
		var err error
		grantID, err = srv.bridge.CreateUnclaimedGrant(ctx, "")
		if err != nil {
			return fmt.Errorf("session grant: %w", err)
		}
	}
	s.grantID = grantID

	s.reconciler = reconcile.New(srv.store, s, s, s.capabilities, s.logger())

	unsubscribe := srv.bridge.Subscribe(func() {
		s.notifyToolsChanged()
	})
	defer unsubscribe()

	scanner := bufio.NewScanner(input)
	// Tool results and sampled completions can be large.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.writeError(json.RawMessage("null"), codeParseError, "parse error: "+err.Error())
			continue
		}

		if msg.isResponse() {
			s.routeResponse(&msg)
			continue
		}

		if msg.JSONRPC != "2.0" {
			if !msg.isNotification() {
				s.writeError(msg.ID, codeInvalidRequest, "unsupported JSON-RPC version")
			}
			continue
		}

		s.dispatch(ctx, &msg)
	}
	return scanner.Err()
}

func (s *Session) dispatch(ctx context.Context, msg *message) {
	if msg.isNotification() {
		// notifications/initialized and cancellations need no action.
		return
	}

	switch msg.Method {
	case "initialize":
		s.handleInitialize(msg)
	case "ping":
		s.writeResult(msg.ID, map[string]any{})
	case "logging/setLevel":
		s.handleSetLevel(msg)
	case "tools/list":
		s.requireInit(msg, func(m *message) { s.handleToolsList(ctx, m) })
	case "tools/call":
		s.requireInit(msg, func(m *message) { s.handleToolsCall(ctx, m) })
	case "resources/list":
		s.requireInit(msg, s.handleResourcesList)
	case "resources/templates/list":
		s.requireInit(msg, s.handleResourceTemplatesList)
	case "resources/read":
		s.requireInit(msg, func(m *message) { s.handleResourcesRead(ctx, m) })
	case "prompts/list":
		s.requireInit(msg, s.handlePromptsList)
	case "prompts/get":
		s.requireInit(msg, func(m *message) { s.handlePromptsGet(ctx, m) })
	default:
		s.writeError(msg.ID, codeMethodNotFound, "unknown method: "+msg.Method)
	}
}

func (s *Session) isInitialized() bool {
	s.capsMu.Lock()
	defer s.capsMu.Unlock()
	return s.initialized
}

func (s *Session) requireInit(msg *message, handler func(*message)) {
	if !s.isInitialized() {
		s.writeError(msg.ID, codeInvalidRequest, "server not initialized (call initialize first)")
		return
	}
	handler(msg)
}

func (s *Session) handleInitialize(msg *message) {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.writeError(msg.ID, codeInvalidParams, "invalid initialize params: "+err.Error())
			return
		}
	}

	s.capsMu.Lock()
	s.caps = params.Capabilities
	s.initialized = true
	s.capsMu.Unlock()

	s.writeResult(msg.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: serverCapabilities{
			Tools:     &listChangedCapability{ListChanged: true},
			Resources: &listChangedCapability{},
			Prompts:   &listChangedCapability{},
			Logging:   &struct{}{},
		},
		ServerInfo: serverInfo{Name: s.srv.name, Version: s.srv.version},
		Instructions: "A journaling assistant. Call authenticate with your email, " +
			"then validate_token with the emailed code to unlock your journal.",
	})
}

func (s *Session) handleSetLevel(msg *message) {
	var params loggingSetLevelParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		s.writeError(msg.ID, codeInvalidParams, "invalid logging/setLevel params: "+err.Error())
		return
	}
	if _, ok := logLevelRank[params.Level]; !ok {
		s.writeError(msg.ID, codeInvalidParams, "unknown log level: "+params.Level)
		return
	}
	s.levelMu.Lock()
	s.logLevel = params.Level
	s.levelMu.Unlock()
	s.writeResult(msg.ID, map[string]any{})
}

// capabilities reports the peer features relevant to reconciliation.
// Sampling is considered available when either the client advertises it or
// a server-side fallback model is configured.
func (s *Session) capabilities() reconcile.Capabilities {
	caps := s.clientCaps()
	return reconcile.Capabilities{
		Sampling:    caps.Sampling != nil || s.srv.fallback != nil,
		Elicitation: caps.Elicitation != nil,
	}
}

func (s *Session) clientCaps() clientCapabilities {
	s.capsMu.Lock()
	defer s.capsMu.Unlock()
	return s.caps
}

// currentUser resolves the session's grant to a user, or an auth error.
func (s *Session) currentUser(ctx context.Context) (store.User, error) {
	return s.srv.bridge.RequireUser(ctx, s.grantID)
}

func (s *Session) authenticated(ctx context.Context) bool {
	_, err := s.currentUser(ctx)
	return err == nil
}

// --- outgoing writes ---

func (s *Session) write(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.encoder.Encode(v); err != nil {
		s.srv.log.Error(context.Background(), "write message", "error", err)
	}
}

func (s *Session) writeResult(id json.RawMessage, result any) {
	s.write(response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Session) writeError(id json.RawMessage, code int, text string) {
	s.write(response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: text}})
}

func (s *Session) notify(method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		return
	}
	s.write(message{JSONRPC: "2.0", Method: method, Params: raw})
}

func (s *Session) notifyToolsChanged() {
	if !s.isInitialized() {
		return
	}
	s.notify("notifications/tools/list_changed", map[string]any{})
}

// --- server -> client round-trips ---

// roundTrip sends a request to the client and blocks until its response
// arrives on the read loop. Callers must not run on the read loop.
func (s *Session) roundTrip(ctx context.Context, method string, params any) (*message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	id := s.nextID.Add(1)
	key := strconv.FormatInt(id, 10)
	ch := make(chan *message, 1)

	s.pendingMu.Lock()
	s.pending[key] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, key)
		s.pendingMu.Unlock()
	}()

	s.write(message{JSONRPC: "2.0", ID: json.RawMessage(key), Method: method, Params: raw})

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", method, resp.Error.Message)
		}
		return resp, nil
	case <-s.closed:
		return nil, fmt.Errorf("%s: session closed", method)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) routeResponse(msg *message) {
	key := string(msg.ID)
	if len(key) > 1 && key[0] == '"' {
		var unquoted string
		if err := json.Unmarshal(msg.ID, &unquoted); err == nil {
			key = unquoted
		}
	}
	s.pendingMu.Lock()
	ch, ok := s.pending[key]
	s.pendingMu.Unlock()
	if !ok {
		s.srv.log.Debug(context.Background(), "response for unknown request", "id", key)
		return
	}
	ch <- msg
}

// CreateMessage satisfies the reconciler's Sampler through the peer when it
// advertises sampling, otherwise through the configured fallback model.
func (s *Session) CreateMessage(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if s.clientCaps().Sampling == nil {
		if s.srv.fallback == nil {
			return "", fmt.Errorf("no sampling capability and no fallback model")
		}
		return s.srv.fallback.CreateMessage(ctx, systemPrompt, userPrompt, maxTokens)
	}

	resp, err := s.roundTrip(ctx, "sampling/createMessage", samplingCreateParams{
		Messages: []samplingMessage{
			{Role: "user", Content: contentBlock{Type: "text", Text: userPrompt}},
		},
		SystemPrompt: systemPrompt,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", err
	}
	var result samplingCreateResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("decode sampling result: %w", err)
	}
	return result.Content.Text, nil
}

// ElicitInput satisfies the reconciler's Elicitor through the peer.
func (s *Session) ElicitInput(ctx context.Context, text string, schema map[string]any) (reconcile.ElicitResult, error) {
	resp, err := s.roundTrip(ctx, "elicitation/create", elicitationCreateParams{
		Message:         text,
		RequestedSchema: schema,
	})
	if err != nil {
		return reconcile.ElicitResult{}, err
	}
	var result elicitationCreateResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return reconcile.ElicitResult{}, fmt.Errorf("decode elicitation result: %w", err)
	}
	return reconcile.ElicitResult{Action: result.Action, Content: result.Content}, nil
}

// --- session logger ---

// sessionLogger forwards to the process logger and, when the session's
// level allows, mirrors the record to the client as notifications/message.
type sessionLogger struct {
	s    *Session
	base logging.Logger
}

func (s *Session) logger() logging.Logger {
	return &sessionLogger{s: s, base: s.srv.log}
}

func (l *sessionLogger) emit(level, msg string, args []any) {
	l.s.levelMu.Lock()
	threshold := l.s.logLevel
	l.s.levelMu.Unlock()
	if !l.s.isInitialized() || logLevelRank[level] < logLevelRank[threshold] {
		return
	}
	data := map[string]any{"message": msg}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			data[key] = args[i+1]
		}
	}
	l.s.notify("notifications/message", loggingMessageParams{
		Level:  level,
		Logger: l.s.srv.name,
		Data:   data,
	})
}

func (l *sessionLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.base.Debug(ctx, msg, args...)
	l.emit("debug", msg, args)
}

func (l *sessionLogger) Info(ctx context.Context, msg string, args ...any) {
	l.base.Info(ctx, msg, args...)
	l.emit("info", msg, args)
}

func (l *sessionLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.base.Warn(ctx, msg, args...)
	l.emit("warning", msg, args)
}

func (l *sessionLogger) Error(ctx context.Context, msg string, args ...any) {
	l.base.Error(ctx, msg, args...)
	l.emit("error", msg, args)
}

func (l *sessionLogger) With(args ...any) logging.Logger {
	return &sessionLogger{s: l.s, base: l.base.With(args...)}
}
