package langserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	lsp "github.com/sourcegraph/go-lsp"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/robotcode-ls/robotcode-go/internal/imports"
)

var handlerLog = logrus.WithField("component", "langserver")

// NewHandler creates the language server's JSON-RPC handler.
func NewHandler(defaultCfg Config, introspector imports.Introspector) jsonrpc2.Handler {
	return lspHandler{jsonrpc2.HandlerWithError((&LangHandler{
		DefaultConfig: defaultCfg,
		introspector:  introspector,
		documents:     NewDocuments(),
	}).handle)}
}

// lspHandler enforces the LSP ordering rule: requests that could race with
// document/file-system state are dispatched serially; everything else runs
// concurrently.
type lspHandler struct {
	jsonrpc2.Handler
}

func (h lspHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if isDocumentSyncRequest(req.Method) {
		h.Handler.Handle(ctx, conn, req)
		return
	}
	go h.Handler.Handle(ctx, conn, req)
}

func isDocumentSyncRequest(method string) bool {
	switch method {
	case "textDocument/didOpen", "textDocument/didChange", "textDocument/didClose", "workspace/didChangeWatchedFiles":
		return true
	default:
		return false
	}
}

// LangHandler is the server's LSP/JSON-RPC handler, wired to an
// internal/imports.Manager.
type LangHandler struct {
	HandlerCommon

	mu        sync.Mutex
	init      *InitializeParams
	workspace *Workspace
	manager   *imports.Manager
	documents *Documents
	cancel    *cancel

	introspector imports.Introspector

	// DefaultConfig is combined with InitializationOptions after initialize.
	DefaultConfig Config
	config        *Config
}

func (h *LangHandler) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result interface{}, err error) {
	return h.Handle(ctx, conn, req)
}

// Handle dispatches one JSON-RPC request/notification.
func (h *LangHandler) Handle(ctx context.Context, conn jsonrpc2.JSONRPC2, req *jsonrpc2.Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			handlerLog.WithField("method", req.Method).WithField("panic", r).Error("langserver: recovered from panic")
			err = fmt.Errorf("panic handling %s: %v", req.Method, r)
		}
	}()

	h.mu.Lock()
	initialized := h.init != nil
	cancelMgr := h.cancel
	h.mu.Unlock()

	if req.Method != "initialize" && !initialized {
		return nil, errors.New("server must be initialized")
	}
	if err := h.CheckReady(); err != nil {
		if req.Method == "exit" {
			err = nil
		}
		return nil, err
	}

	if cancelMgr != nil && !req.Notif {
		var done func()
		ctx, done = cancelMgr.WithCancel(ctx, req.ID)
		defer done()
	}

	switch req.Method {
	case "initialize":
		return h.handleInitialize(ctx, req)

	case "initialized":
		return nil, nil

	case "shutdown":
		h.ShutDown()
		return nil, nil

	case "exit":
		if c, ok := conn.(*jsonrpc2.Conn); ok {
			c.Close()
		}
		return nil, nil

	case "$/cancelRequest":
		return h.handleCancelRequest(req, cancelMgr)

	case "textDocument/didOpen":
		return h.handleDidOpen(req)

	case "textDocument/didChange":
		return h.handleDidChange(req)

	case "textDocument/didClose":
		return h.handleDidClose(req)

	case "workspace/didChangeWatchedFiles":
		return h.handleDidChangeWatchedFiles(req)

	case "workspace/didChangeWorkspaceFolders":
		return h.handleDidChangeWorkspaceFolders(req)

	case "workspace/didChangeConfiguration":
		// The command-line variable cache depends on project configuration;
		// force a lazy rebuild on the next read.
		h.manager.InvalidateCLIVariables()
		return nil, nil

	case "textDocument/codeLens", "textDocument/inlayHint":
		// LSP feature handlers are out of scope for the Imports Manager
		//; they are wired here only so the server
		// advertises a response instead of "method not found".
		return nil, nil

	case robotcodeLibdocForLibrary:
		return h.handleLibdocForLibrary(ctx, req)

	case robotcodeLibdocForVariables:
		return h.handleLibdocForVariables(ctx, req)

	case robotcodeLibdocForResource:
		return h.handleLibdocForResource(ctx, req)

	case robotcodeResolveVariable:
		return h.handleResolveVariable(ctx, req)

	case robotcodeClearCache:
		return nil, h.manager.ClearCache()

	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("method not supported: %s", req.Method)}
	}
}

const (
	robotcodeLibdocForLibrary   = "robotcode/libdocForLibrary"
	robotcodeLibdocForVariables = "robotcode/libdocForVariables"
	robotcodeLibdocForResource  = "robotcode/libdocForResource"
	robotcodeResolveVariable    = "robotcode/resolveVariable"
	robotcodeClearCache         = "robotcode/clearCache"
)

func (h *LangHandler) handleInitialize(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}

	var params InitializeParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}

	h.mu.Lock()
	if h.init != nil {
		h.mu.Unlock()
		return nil, errors.New("language server is already initialized")
	}

	config := h.DefaultConfig.Apply(params.InitializationOptions)
	root := rootFromInitializeParams(&params)

	managerCfg := config.ToManagerConfig()
	if params.InitializationOptions != nil {
		managerCfg.WorkspaceStorageDir = params.InitializationOptions.WorkspaceStorageDir
	}

	workspace := NewWorkspace(root)
	documents := h.documents

	watcher, err := imports.NewFSNotifyWatcher()
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}

	managerCtx := &imports.ManagerContext{
		WorkspaceRoot: root,
		Config:        managerCfg,
		DomainVersion: imports.DomainVersion{Major: 6, Minor: 1},
		FileWatcher:       watcher,
		DocumentStore:     documents,
		NamespaceResolver: NewStructuralNamespaceResolver(),
	}

	manager := imports.NewManager(managerCtx, h.introspector)
	manager.OnLibrariesChanged(func(docs []imports.Doc) {
		handlerLog.WithField("count", len(docs)).Debug("langserver: libraries_changed")
	})
	manager.OnResourcesChanged(func(docs []imports.Doc) {
		handlerLog.WithField("count", len(docs)).Debug("langserver: resources_changed")
	})
	manager.OnVariablesChanged(func(docs []imports.Doc) {
		handlerLog.WithField("count", len(docs)).Debug("langserver: variables_changed")
	})

	h.init = &params
	h.workspace = workspace
	h.manager = manager
	h.cancel = NewCancel()
	h.config = &config
	h.mu.Unlock()

	kind := lsp.TDSKIncremental
	return lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: &lsp.TextDocumentSyncOptionsOrKind{
				Kind: &kind,
			},
		},
	}, nil
}

type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

func (h *LangHandler) handleCancelRequest(req *jsonrpc2.Request, cancelMgr *cancel) (interface{}, error) {
	if req.Params == nil || cancelMgr == nil {
		return nil, nil
	}
	var params cancelParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, nil
	}

	var num uint64
	if err := json.Unmarshal(params.ID, &num); err == nil {
		cancelMgr.Cancel(jsonrpc2.ID{Num: num})
		return nil, nil
	}
	var str string
	if err := json.Unmarshal(params.ID, &str); err == nil {
		cancelMgr.Cancel(jsonrpc2.ID{Str: str, IsString: true})
	}
	return nil, nil
}

func (h *LangHandler) handleDidOpen(req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, nil
	}
	var params lsp.DidOpenTextDocumentParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}
	h.documents.DidOpen(string(params.TextDocument.URI), params.TextDocument.Text, params.TextDocument.Version)
	return nil, nil
}

func (h *LangHandler) handleDidChange(req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, nil
	}
	var params lsp.DidChangeTextDocumentParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}

	var fullText string
	isFullReplace := false
	for _, change := range params.ContentChanges {
		if change.Range == nil {
			fullText = change.Text
			isFullReplace = true
		}
	}

	// The manager hears about this through its DocumentStore.OnDidChange
	// subscription; no direct call is needed here.
	h.documents.DidChange(string(params.TextDocument.URI), params.TextDocument.Version, fullText, isFullReplace)
	return nil, nil
}

func (h *LangHandler) handleDidClose(req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, nil
	}
	var params lsp.DidCloseTextDocumentParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}
	h.documents.DidClose(string(params.TextDocument.URI))
	return nil, nil
}

// wireFileEvent mirrors the wire shape of LSP's FileEvent (uri + numeric
// change type 1=created, 2=changed, 3=deleted) without depending on the
// exact Go type the lsp package exposes for it.
type wireFileEvent struct {
	URI  string `json:"uri"`
	Type int    `json:"type"`
}

type didChangeWatchedFilesParams struct {
	Changes []wireFileEvent `json:"changes"`
}

func (h *LangHandler) handleDidChangeWatchedFiles(req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, nil
	}
	var params didChangeWatchedFilesParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}

	events := make([]imports.FileEvent, 0, len(params.Changes))
	for _, c := range params.Changes {
		events = append(events, imports.FileEvent{URI: c.URI, Type: imports.FileChangeType(c.Type)})
	}
	h.manager.HandleFileEvents(events)
	return nil, nil
}

// didChangeWorkspaceFoldersParams mirrors the wire shape of
// workspace/didChangeWorkspaceFolders locally, the same way wireFileEvent
// does for didChangeWatchedFiles above, rather than relying on a specific
// lsp.WorkspaceFoldersChangeEvent shape.
type didChangeWorkspaceFoldersParams struct {
	Event struct {
		Added   []WorkspaceFolder `json:"added"`
		Removed []WorkspaceFolder `json:"removed"`
	} `json:"event"`
}

func (h *LangHandler) handleDidChangeWorkspaceFolders(req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, nil
	}
	var params didChangeWorkspaceFoldersParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}

	h.mu.Lock()
	workspace := h.workspace
	h.mu.Unlock()
	if workspace == nil {
		return nil, nil
	}

	removed := make(map[string]bool, len(params.Event.Removed))
	for _, f := range params.Event.Removed {
		removed[f.URI] = true
	}

	folders := make([]WorkspaceFolder, 0, len(workspace.Folders())+len(params.Event.Added))
	for _, f := range workspace.Folders() {
		if !removed[f.URI] {
			folders = append(folders, f)
		}
	}
	for _, f := range params.Event.Added {
		folders = append(folders, WorkspaceFolder{URI: f.URI, Name: f.Name})
	}

	workspace.SetFolders(folders)
	return nil, nil
}

type libdocForLibraryParams struct {
	Name      string            `json:"name"`
	Args      []string          `json:"args"`
	BaseDir   string            `json:"baseDir"`
	ExtraVars map[string]string `json:"extraVars"`
}

func (h *LangHandler) handleLibdocForLibrary(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}
	var params libdocForLibraryParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}
	return h.manager.LibdocForLibrary(ctx, params.Name, params.Args, params.BaseDir, nil, params.ExtraVars)
}

type libdocForVariablesParams struct {
	Name           string            `json:"name"`
	Args           []string          `json:"args"`
	BaseDir        string            `json:"baseDir"`
	ExtraVars      map[string]string `json:"extraVars"`
	ResolveVars    bool              `json:"resolveVars"`
	ResolveCLIVars bool              `json:"resolveCliVars"`
}

func (h *LangHandler) handleLibdocForVariables(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}
	var params libdocForVariablesParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}
	return h.manager.LibdocForVariables(ctx, params.Name, params.Args, params.BaseDir, nil, params.ExtraVars, params.ResolveVars, params.ResolveCLIVars)
}

type libdocForResourceParams struct {
	Name      string            `json:"name"`
	BaseDir   string            `json:"baseDir"`
	ExtraVars map[string]string `json:"extraVars"`
}

type libdocForResourceResult struct {
	Namespace *imports.Namespace  `json:"namespace"`
	Library   *imports.LibraryDoc `json:"library"`
}

func (h *LangHandler) handleLibdocForResource(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}
	var params libdocForResourceParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}
	ns, lib, err := h.manager.LibdocAndNamespaceForResource(ctx, params.Name, params.BaseDir, nil, params.ExtraVars)
	if err != nil {
		return nil, err
	}
	return libdocForResourceResult{Namespace: ns, Library: lib}, nil
}

type resolveVariableParams struct {
	Name      string            `json:"name"`
	BaseDir   string            `json:"baseDir"`
	ExtraVars map[string]string `json:"extraVars"`
}

func (h *LangHandler) handleResolveVariable(ctx context.Context, req *jsonrpc2.Request) (interface{}, error) {
	if req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams}
	}
	var params resolveVariableParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, err
	}
	value, err := h.manager.ResolveVariable(ctx, params.Name, params.BaseDir, params.ExtraVars)
	if err != nil {
		return nil, err
	}
	return value, nil
}
