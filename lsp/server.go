package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gophersatwork/recon"
	"github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// DiagnosticSource is the source shown next to every published diagnostic
const DiagnosticSource = "recon"

// ErrServerShutDown is returned for requests received after shutdown
var ErrServerShutDown = errors.New("server is shut down")

// Server is the recon language server. It keeps the open documents, runs
// the analyzer on every change and publishes diagnostics and quickfixes.
type Server struct {
	logger           *slog.Logger
	fs               afero.Fs
	analyzer         recon.Analyzer
	listener         Listener
	extensionID      string
	moveCursorMethod string
	extraProviders   []providerBinding
	onFolders        func([]WorkspaceFolder)

	store      *DocumentStore
	translator *Translator
	scheduler  *Scheduler
	registry   *QuickfixRegistry
	index      *quickfixIndex
	applier    *EditApplier
	dispatcher *CommandDispatcher
	actions    *CodeActionProvider
	progress   ProgressService

	publishMu sync.Mutex

	mu         sync.RWMutex
	client     Client
	configPath string
	open       map[string]bool
	folders    []WorkspaceFolder
	caps       gjson.Result
	shutdown   bool
	exitOnce   sync.Once
	exited     chan struct{}
}

type providerBinding struct {
	kind     string
	provider FixProvider
}

// ServerOption is a functional option for Server
type ServerOption func(*Server)

// WithClient sets the client used before a connection is served
func WithClient(c Client) ServerOption {
	return func(s *Server) {
		if c != nil {
			s.client = c
		}
	}
}

// WithAnalyzer sets the analyzer run on every document
func WithAnalyzer(a recon.Analyzer) ServerOption {
	return func(s *Server) {
		if a != nil {
			s.analyzer = a
		}
	}
}

// WithListener sets the scheduler listener
func WithListener(l Listener) ServerOption {
	return func(s *Server) {
		s.listener = l
	}
}

// WithProgress sets where pass progress is reported. By default it is
// logged to the client.
func WithProgress(p ProgressService) ServerOption {
	return func(s *Server) {
		s.progress = p
	}
}

// WithFs sets the file system used by the fix providers
func WithFs(fs afero.Fs) ServerOption {
	return func(s *Server) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// WithExtensionID sets the prefix of the quickfix command
func WithExtensionID(id string) ServerOption {
	return func(s *Server) {
		if id != "" {
			s.extensionID = id
		}
	}
}

// WithMoveCursorMethod sets the client method used to move the cursor
func WithMoveCursorMethod(method string) ServerOption {
	return func(s *Server) {
		if method != "" {
			s.moveCursorMethod = method
		}
	}
}

// WithConfigPath sets the config file edited by suppress fixes
func WithConfigPath(path string) ServerOption {
	return func(s *Server) {
		s.configPath = path
	}
}

// WithFixProvider registers an additional fix provider
func WithFixProvider(kind string, provider FixProvider) ServerOption {
	return func(s *Server) {
		s.extraProviders = append(s.extraProviders, providerBinding{kind: kind, provider: provider})
	}
}

// WithWorkspaceFoldersHandler sets a callback run whenever the workspace
// folders change, including once after initialize.
func WithWorkspaceFoldersHandler(fn func([]WorkspaceFolder)) ServerOption {
	return func(s *Server) {
		s.onFolders = fn
	}
}

// NewServer creates a new LSP server
func NewServer(logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	s := &Server{
		logger:      ensureLogger(logger),
		fs:          afero.NewOsFs(),
		analyzer:    recon.NewByLanguage(nil),
		listener:    NoopListener{},
		extensionID: recon.DefaultExtensionID,
		client:      NoopClient{},
		open:        make(map[string]bool),
		exited:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.moveCursorMethod == "" {
		s.moveCursorMethod = s.extensionID + "/moveCursor"
	}

	s.store = NewDocumentStore()
	s.translator = NewTranslator(DiagnosticSource, s.extensionID+".applyFix")
	s.index = newQuickfixIndex()
	if s.listener == nil {
		s.listener = NoopListener{}
	}
	if s.progress == nil {
		s.progress = NewClientProgress(s.currentClient, s.logger)
	}
	s.scheduler = NewScheduler(s.store, s.translator, s,
		WithSchedulerListener(progressListener{next: s.listener, progress: s.progress}),
		WithSchedulerLogger(s.logger))

	s.registry = NewQuickfixRegistry()
	bindings := append([]providerBinding{
		{kind: recon.FixKindTextEdit, provider: NewTextEditProvider(s.store)},
		{kind: recon.FixKindSuppressRule, provider: NewSuppressRuleProvider(s.fs, s.ConfigPath)},
	}, s.extraProviders...)
	for _, b := range bindings {
		if err := s.registry.Register(b.kind, b.provider); err != nil {
			return nil, err
		}
	}

	s.applier = NewEditApplier(s.currentClient, s.logger)
	s.dispatcher = NewCommandDispatcher(s.translator.CommandID(), s.registry, s.applier, s.logger)
	s.actions = NewCodeActionProvider(s.store, s.index)

	return s, nil
}

// CommandID returns the quickfix command of this server
func (s *Server) CommandID() string {
	return s.translator.CommandID()
}

// Store returns the document store
func (s *Server) Store() *DocumentStore {
	return s.store
}

// Registry returns the quickfix registry
func (s *Server) Registry() *QuickfixRegistry {
	return s.registry
}

// ConfigPath returns the config file edited by suppress fixes
func (s *Server) ConfigPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configPath
}

// SetConfigPath changes the config file edited by suppress fixes
func (s *Server) SetConfigPath(path string) {
	s.mu.Lock()
	s.configPath = path
	s.mu.Unlock()
}

// WorkspaceFolders returns the folders the client opened
func (s *Server) WorkspaceFolders() []WorkspaceFolder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]WorkspaceFolder(nil), s.folders...)
}

func (s *Server) currentClient() Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Server) setClient(c Client) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// Run runs the reconcile worker until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.scheduler.Run(ctx)
}

// Serve speaks LSP over rwc until the client disconnects, sends exit, or
// ctx is done.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	s.logger.Info("Starting recon LSP server", "command", s.CommandID())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, s)
	s.setClient(NewConnClient(conn, s.moveCursorMethod))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		select {
		case <-conn.DisconnectNotify():
			s.logger.Info("LSP client disconnected")
		case <-s.exited:
			s.logger.Info("LSP client requested exit")
		case <-gctx.Done():
		}
		return conn.Close()
	})

	err := g.Wait()
	if errors.Is(err, jsonrpc2.ErrClosed) {
		return nil
	}
	return err
}

// Exited is closed once the client sent exit
func (s *Server) Exited() <-chan struct{} {
	return s.exited
}

// Publish implements Publisher. Results for a version the document has
// moved past are dropped. publishMu orders publications with the clearing
// done by Close, and is never held by a store writer.
func (s *Server) Publish(doc recon.Snapshot, diagnostics []lsp.Diagnostic, quickfixes []Quickfix, final bool) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.store.IsCurrent(doc.URI, doc.Version) {
		s.logger.Debug("Dropping diagnostics of a superseded version", "uri", doc.URI, "version", doc.Version)
		return
	}
	if final {
		s.index.set(doc.URI, quickfixes)
	}

	s.logger.Debug("Publishing diagnostics",
		"uri", doc.URI,
		"version", doc.Version,
		"count", len(diagnostics),
		"final", final)

	err := s.currentClient().PublishDiagnostics(context.Background(), lsp.PublishDiagnosticsParams{
		URI:         lsp.DocumentURI(doc.URI),
		Diagnostics: diagnostics,
	})
	if err != nil {
		s.logger.Warn("Failed to publish diagnostics", "uri", doc.URI, "error", err)
	}
}

// Open records a newly opened document and reconciles it.
func (s *Server) Open(uri, languageKind, content string) *Pass {
	s.store.Open(uri, languageKind, content)
	s.mu.Lock()
	s.open[uri] = true
	s.mu.Unlock()

	s.logger.Debug("Document opened", "uri", uri, "language", languageKind)
	return s.scheduler.Trigger(uri, s.analyzer)
}

// NotifyChanged stores the new content of uri and reconciles it.
func (s *Server) NotifyChanged(uri, content string) *Pass {
	if _, ok := s.store.Get(uri); !ok {
		s.logger.Warn("Change for unopened document", "uri", uri)
	}
	version := s.store.Put(uri, content)
	s.logger.Debug("Document changed", "uri", uri, "version", version)
	return s.scheduler.Trigger(uri, s.analyzer)
}

// Save reconciles uri after the client saved it. Text is the saved
// content when the client sent it. Saves of documents that are not open
// are ignored.
func (s *Server) Save(uri string, text *string) *Pass {
	s.mu.RLock()
	open := s.open[uri]
	s.mu.RUnlock()
	if !open {
		s.logger.Debug("Save for closed document ignored", "uri", uri)
		return finishedPass(uri, s.store.Version(uri), PassStale)
	}

	if text != nil {
		return s.NotifyChanged(uri, *text)
	}
	return s.scheduler.Trigger(uri, s.analyzer)
}

// Close forgets uri and clears its diagnostics. A pass still running for
// it can no longer publish.
func (s *Server) Close(uri string) {
	s.mu.Lock()
	delete(s.open, uri)
	s.mu.Unlock()

	if s.store.Invalidate(uri) == 0 {
		return
	}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.index.clear(uri)
	err := s.currentClient().PublishDiagnostics(context.Background(), lsp.PublishDiagnosticsParams{
		URI:         lsp.DocumentURI(uri),
		Diagnostics: []lsp.Diagnostic{},
	})
	if err != nil {
		s.logger.Warn("Failed to clear diagnostics", "uri", uri, "error", err)
	}
	s.logger.Debug("Document closed", "uri", uri)
}

// RetriggerAll reconciles every open document again.
func (s *Server) RetriggerAll() int {
	s.mu.RLock()
	uris := make([]string, 0, len(s.open))
	for uri := range s.open {
		uris = append(uris, uri)
	}
	s.mu.RUnlock()

	for _, uri := range uris {
		s.scheduler.Trigger(uri, s.analyzer)
	}
	s.logger.Debug("Re-triggered open documents", "count", len(uris))
	return len(uris)
}

// WaitUntilIdle blocks until every triggered pass has finished.
func (s *Server) WaitUntilIdle(ctx context.Context) error {
	return s.scheduler.WaitUntilIdle(ctx)
}

// ExecuteCommand runs the quickfix command.
func (s *Server) ExecuteCommand(ctx context.Context, command string, args []json.RawMessage) (ApplyResult, error) {
	return s.dispatcher.Execute(ctx, command, args)
}

// ShowMessage shows a message in the client
func (s *Server) ShowMessage(ctx context.Context, typ lsp.MessageType, message string) {
	if err := s.currentClient().ShowMessage(ctx, lsp.ShowMessageParams{Type: typ, Message: message}); err != nil {
		s.logger.Warn("Failed to show message", "error", err)
	}
}

// Handle implements jsonrpc2.Handler. It runs on the connection's read
// loop, so notifications are applied in arrival order. Requests that call
// back into the client are answered from their own goroutine.
func (s *Server) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method == MethodExecuteCommand {
		go s.reply(ctx, conn, req)
		return
	}
	s.reply(ctx, conn, req)
}

func (s *Server) reply(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	result, err := s.handle(ctx, req)
	if req.Notif {
		if err != nil {
			s.logger.Warn("Notification failed", "method", req.Method, "error", err)
		}
		return
	}

	if err != nil {
		s.logger.Debug("Request failed", "method", req.Method, "error", err)
		if rerr := conn.ReplyWithError(ctx, req.ID, toRPCError(err)); rerr != nil {
			s.logger.Warn("Failed to send error reply", "method", req.Method, "error", rerr)
		}
		return
	}
	if rerr := conn.Reply(ctx, req.ID, result); rerr != nil {
		s.logger.Warn("Failed to send reply", "method", req.Method, "error", rerr)
	}
}

func (s *Server) handle(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	s.mu.RLock()
	down := s.shutdown
	s.mu.RUnlock()
	if down && req.Method != MethodExit {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: ErrServerShutDown.Error()}
	}

	switch req.Method {
	case MethodInitialize:
		return s.initialize(req)

	case MethodInitialized:
		s.initialized()
		return nil, nil

	case MethodShutdown:
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		s.logger.Info("Shutdown requested")
		return nil, nil

	case MethodExit:
		s.exitOnce.Do(func() { close(s.exited) })
		return nil, nil

	case MethodDidOpen:
		var params lsp.DidOpenTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		s.Open(string(params.TextDocument.URI), params.TextDocument.LanguageID, params.TextDocument.Text)
		return nil, nil

	case MethodDidChange:
		var params lsp.DidChangeTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		uri := string(params.TextDocument.URI)
		content, err := s.applyChanges(uri, params.ContentChanges)
		if err != nil {
			return nil, err
		}
		s.NotifyChanged(uri, content)
		return nil, nil

	case MethodDidSave:
		var params DidSaveTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		s.Save(string(params.TextDocument.URI), params.Text)
		return nil, nil

	case MethodDidClose:
		var params lsp.DidCloseTextDocumentParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		s.Close(string(params.TextDocument.URI))
		return nil, nil

	case MethodCodeAction:
		var params lsp.CodeActionParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		if s.capabilities().Get("textDocument.codeAction.codeActionLiteralSupport").Exists() {
			return s.actions.Actions(params), nil
		}
		return s.actions.Commands(params), nil

	case MethodExecuteCommand:
		var params ExecuteCommandParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		return s.ExecuteCommand(ctx, params.Command, params.Arguments)

	case MethodDidChangeWorkspaceFolders:
		var params DidChangeWorkspaceFoldersParams
		if err := decodeParams(req, &params); err != nil {
			return nil, err
		}
		s.changeFolders(params.Event)
		return nil, nil

	case MethodCancelRequest:
		return nil, nil

	default:
		if req.Notif {
			s.logger.Debug("Ignoring notification", "method", req.Method)
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method not supported: %s", req.Method)}
	}
}

func (s *Server) initialize(req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing initialize params"}
	}
	params := gjson.ParseBytes(*req.Params)

	folders := workspaceFoldersFrom(params)
	advertise := params.Get("capabilities.workspace.applyEdit").Bool() && s.registry.HasProviders()

	s.mu.Lock()
	s.caps = params.Get("capabilities")
	s.folders = folders
	s.mu.Unlock()

	s.logger.Info("Initializing",
		"client", params.Get("clientInfo.name").String(),
		"folders", len(folders),
		"execute_command", advertise)

	if s.onFolders != nil {
		s.onFolders(folders)
	}

	kind := lsp.TDSKFull
	result := lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptionsOrKind{
				Options: &lsp.TextDocumentSyncOptions{
					OpenClose: true,
					Change:    kind,
					Save:      &lsp.SaveOptions{IncludeText: true},
				},
			},
			CodeActionProvider: true,
		},
	}
	if advertise {
		result.Capabilities.ExecuteCommandProvider = &lsp.ExecuteCommandOptions{
			Commands: []string{s.CommandID()},
		}
	}
	return result, nil
}

func (s *Server) initialized() {
	if !s.capabilities().Get("workspace.workspaceFolders").Bool() {
		return
	}

	registration := Registration{
		ID:     uuid.NewString(),
		Method: MethodDidChangeWorkspaceFolders,
	}
	client := s.currentClient()
	// Registration is a request to the client, whose reply arrives on the
	// read loop this handler runs on.
	go func() {
		err := client.RegisterCapability(context.Background(), RegistrationParams{
			Registrations: []Registration{registration},
		})
		if err != nil {
			s.logger.Warn("Capability registration failed", "method", registration.Method, "error", err)
			return
		}
		s.logger.Debug("Registered capability", "method", registration.Method, "id", registration.ID)
	}()
}

func (s *Server) capabilities() gjson.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

func (s *Server) changeFolders(event WorkspaceFoldersChangeEvent) {
	s.mu.Lock()
	removed := make(map[string]bool, len(event.Removed))
	for _, f := range event.Removed {
		removed[f.URI] = true
	}
	folders := make([]WorkspaceFolder, 0, len(s.folders)+len(event.Added))
	for _, f := range s.folders {
		if !removed[f.URI] {
			folders = append(folders, f)
		}
	}
	folders = append(folders, event.Added...)
	s.folders = folders
	s.mu.Unlock()

	s.logger.Info("Workspace folders changed", "added", len(event.Added), "removed", len(event.Removed))
	if s.onFolders != nil {
		s.onFolders(folders)
	}
	s.RetriggerAll()
}

// applyChanges applies content changes to the stored text of uri. A change
// without a range replaces the whole document.
func (s *Server) applyChanges(uri string, changes []lsp.TextDocumentContentChangeEvent) (string, error) {
	_, content, _ := s.store.CopySnapshot(uri)
	for _, change := range changes {
		if change.Range == nil {
			content = change.Text
			continue
		}

		doc := recon.NewSnapshot(uri, "", 0, content)
		start, err := doc.OffsetAt(change.Range.Start.Line+1, change.Range.Start.Character+1)
		if err != nil {
			return "", recon.NewProtocolError("invalid change range", err).WithFile(uri)
		}
		end, err := doc.OffsetAt(change.Range.End.Line+1, change.Range.End.Character+1)
		if err != nil || end < start {
			return "", recon.NewProtocolError("invalid change range", err).WithFile(uri)
		}
		content = content[:start] + change.Text + content[end:]
	}
	return content, nil
}

// workspaceFoldersFrom reads the workspace folders from initialize params.
// initializationOptions.workspaceFolders wins over the standard fields.
func workspaceFoldersFrom(params gjson.Result) []WorkspaceFolder {
	var folders []WorkspaceFolder
	collect := func(list gjson.Result) {
		list.ForEach(func(_, value gjson.Result) bool {
			if value.Type == gjson.String {
				folders = append(folders, WorkspaceFolder{URI: value.String()})
				return true
			}
			if uri := value.Get("uri").String(); uri != "" {
				folders = append(folders, WorkspaceFolder{URI: uri, Name: value.Get("name").String()})
			}
			return true
		})
	}

	collect(params.Get("initializationOptions.workspaceFolders"))
	if len(folders) == 0 {
		collect(params.Get("workspaceFolders"))
	}
	if len(folders) == 0 {
		if root := params.Get("rootUri").String(); root != "" {
			folders = append(folders, WorkspaceFolder{URI: root})
		} else if path := params.Get("rootPath").String(); path != "" {
			folders = append(folders, WorkspaceFolder{URI: recon.PathToURI(path)})
		}
	}
	return folders
}

func decodeParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

// toRPCError maps an error onto a JSON-RPC error code.
func toRPCError(err error) *jsonrpc2.Error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var code int64 = jsonrpc2.CodeInternalError
	if appErr, ok := recon.GetErrorInfo(err); ok {
		switch appErr.Type {
		case recon.ErrorTypeProtocol:
			code = jsonrpc2.CodeInvalidParams
		case recon.ErrorTypeFix, recon.ErrorTypeConfig, recon.ErrorTypeFS:
			code = CodeRequestFailed
		}
	}
	return &jsonrpc2.Error{Code: code, Message: err.Error()}
}
