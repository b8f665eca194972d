package langserver

import lsp "github.com/sourcegraph/go-lsp"

// This file contains the extensions to the bare LSP InitializeParams that
// this server recognizes.
//
// InitializationOptions are the options supported by the language server. It
// is the Config struct, but each field is optional.
type InitializationOptions struct {
	// CacheSaveLocation selects where the on-disk artifact cache is rooted:
	// "workspaceFolder" (default) or "workspaceStorage".
	CacheSaveLocation *string `json:"cacheSaveLocation"`

	// IgnoredLibraries is an optional version of Config.IgnoredLibraries.
	IgnoredLibraries []string `json:"ignoredLibraries"`

	// IgnoredVariables is an optional version of Config.IgnoredVariables.
	IgnoredVariables []string `json:"ignoredVariables"`

	// Env is an optional version of Config.Env.
	Env map[string]string `json:"env"`

	// Variables is an optional version of Config.Variables.
	Variables map[string]string `json:"variables"`

	// VariableFiles is an optional version of Config.VariableFiles.
	VariableFiles []string `json:"variableFiles"`

	// MaxParallelism is an optional version of Config.MaxParallelism.
	MaxParallelism *int `json:"maxParallelism"`

	// WorkspaceStorageDir is populated from the editor-provided per-workspace
	// storage path when CacheSaveLocation is "workspaceStorage"; it has no
	// standard LSP field, so editors supply it alongside the other options.
	WorkspaceStorageDir string `json:"workspaceStorageDir,omitempty"`
}

// InitializeParams wraps the wire-level lsp.InitializeParams with this
// server's InitializationOptions.
type InitializeParams struct {
	lsp.InitializeParams

	InitializationOptions *InitializationOptions `json:"initializationOptions,omitempty"`
}
