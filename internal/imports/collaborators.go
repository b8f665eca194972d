package imports

import (
	"context"
	"time"
)

// FileChangeType mirrors the three-way LSP file change vocabulary the
// manager reasons about. The langserver
// package translates github.com/sourcegraph/go-lsp's FileChangeType into
// this one at the JSON-RPC boundary so that this package stays free of any
// wire-protocol dependency.
type FileChangeType int

const (
	FileCreated FileChangeType = 1
	FileChanged FileChangeType = 2
	FileDeleted FileChangeType = 3
)

// FileEvent is a single filesystem change notification.
type FileEvent struct {
	URI  string
	Type FileChangeType
}

// FileWatcherHandle is an opaque subscription handle returned by
// FileWatcher.Register and consumed by FileWatcher.Unregister.
type FileWatcherHandle interface{}

// FileWatcher is the WorkspaceFileWatcher collaborator:
// the File-Watcher Bridge (4.F) subscribes glob patterns against it and
// receives batched FileEvents through the supplied callback.
type FileWatcher interface {
	Register(globs []string, callback func([]FileEvent)) FileWatcherHandle
	Unregister(handle FileWatcherHandle)
}

// Document is the minimal view of an open or on-disk text document the
// manager needs: its identity, and whether it is under live editor
// synchronization. The manager does not consult Synced: resource entries
// get file-watcher subscriptions whether or not their document is synced.
type Document interface {
	URI() string
	Synced() bool
}

// DocumentStore is the DocumentStore collaborator:
// document open/read/text-synchronization lives outside the core, which
// only ever asks for a document by path and listens for change
// notifications on documents it has asked for.
type DocumentStore interface {
	GetOrOpen(path string) (Document, error)
	OnDidChange(handler func(Document))
}

// NamespaceResolver computes the symbol environment of a resource document
//. Parsing test-source is explicitly out of scope
// for the core; this is the seam where that collaborator
// plugs in.
type NamespaceResolver interface {
	ResourceNamespace(doc Document) (*Namespace, error)
}

// IntrospectRequest is the argument bundle passed to the black-box
// introspection routine, always across a subprocess boundary.
type IntrospectRequest struct {
	Kind       Kind
	Name       string
	Args       []string
	WorkingDir string
	BaseDir    string
	CLIVars    map[string]string
	ExtraVars  map[string]string

	// Env is the full effective environment for the worker process, as
	// snapshotted (plus robot.env overrides) by ManagerContext.Environment.
	// Empty means "inherit the parent's environment unchanged".
	Env map[string]string
}

// IntrospectResult carries the produced Doc plus anything captured on the
// worker's standard streams, which are surfaced as warnings without
// affecting correctness.
type IntrospectResult struct {
	Doc    Doc
	Stdout string
	Stderr string
}

// Introspect is the pure, possibly-hostile black-box function the core
// treats opaquely: "resolve a name to a module, extract keywords,
// variables, errors". It is never invoked directly by the manager, only
// through an Introspector, which is responsible for running it in an
// isolated subprocess.
type Introspect func(ctx context.Context, req IntrospectRequest) (IntrospectResult, error)

// Introspector runs the black-box introspection routine with process
// isolation and a hard deadline.
type Introspector interface {
	Run(ctx context.Context, req IntrospectRequest, timeout time.Duration) (IntrospectResult, error)
}

// VariableSearch is the domain-specific search collaborator the Path
// Resolver delegates to whenever an import name
// textually contains a variable sigil: it substitutes variables and scans
// the effective search path for a match. This is the one part of
// resolution the core cannot do itself, since variable substitution rules
// belong to the keyword-driven language, not to the manager.
type VariableSearch interface {
	FindLibrary(name, workspaceRoot, baseDir string, cliVars, extraVars map[string]string) (string, error)
	FindFile(name, workspaceRoot, baseDir string, cliVars, extraVars map[string]string, fileType string) (string, error)
	FindVariables(name, workspaceRoot, baseDir string, cliVars, extraVars map[string]string) (string, error)
}

// ModuleSpecResolver locates a module name's identity without executing it:
// the analogue of Python's importlib.util.find_spec, used by the
// Fingerprinter to obtain origin/member-name/
// submodule-search-locations for module-style imports. Unlike Introspector
// this never runs in a subprocess: locating a module is assumed safe, only
// running its top-level code is not.
type ModuleSpecResolver interface {
	Lookup(name string) (*ModuleSpec, error)
}
