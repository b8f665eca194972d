package langserver

import (
	"runtime"

	"github.com/robotcode-ls/robotcode-go/internal/imports"
)

// Config adjusts the behaviour of the language server. Please keep in sync
// with InitializationOptions in initialization.go.
type Config struct {
	// CacheSaveLocation selects where the on-disk artifact cache is rooted
	//.
	//
	// Defaults to WorkspaceFolder if not specified.
	CacheSaveLocation imports.CacheSaveLocation

	// IgnoredLibraries are glob patterns matched against a library's name or
	// resolved origin; a match makes the import uncacheable.
	IgnoredLibraries []string

	// IgnoredVariables is the Variables-import analogue of IgnoredLibraries.
	IgnoredVariables []string

	// Env overrides/extends the process environment snapshot passed to
	// introspection subprocesses.
	Env map[string]string

	// Variables are project-config level variables, unioned into the
	// Command-line Variable Provider's flat map.
	Variables map[string]string

	// VariableFiles are paths to variable files introspected (with caching
	// disabled) to extend the variable set.
	VariableFiles []string

	// MaxParallelism is the configured maximum number of goroutines for
	// fulfilling requests. It is stored but not read by the handler or the
	// Manager: non-synchronizing requests each run in their own goroutine
	// without a limit.
	//
	// Defaults to half of your CPU cores if not specified.
	MaxParallelism int
}

// Apply sets the corresponding field in c for each non-nil field in o.
func (c Config) Apply(o *InitializationOptions) Config {
	if o == nil {
		return c
	}

	if o.CacheSaveLocation != nil {
		if *o.CacheSaveLocation == "workspaceStorage" {
			c.CacheSaveLocation = imports.CacheSaveWorkspaceStorage
		} else {
			c.CacheSaveLocation = imports.CacheSaveWorkspaceFolder
		}
	}

	if o.IgnoredLibraries != nil {
		c.IgnoredLibraries = o.IgnoredLibraries
	}

	if o.IgnoredVariables != nil {
		c.IgnoredVariables = o.IgnoredVariables
	}

	if o.Env != nil {
		c.Env = o.Env
	}

	if o.Variables != nil {
		c.Variables = o.Variables
	}

	if o.VariableFiles != nil {
		c.VariableFiles = o.VariableFiles
	}

	if o.MaxParallelism != nil {
		c.MaxParallelism = *o.MaxParallelism
	}

	return c
}

// NewDefaultConfig returns the default config. See the field comments for
// the defaults.
func NewDefaultConfig() Config {
	// Default max parallelism to half the CPU cores, but at least always one.
	maxparallelism := runtime.NumCPU() / 2
	if maxparallelism <= 0 {
		maxparallelism = 1
	}

	return Config{
		CacheSaveLocation: imports.CacheSaveWorkspaceFolder,
		MaxParallelism:    maxparallelism,
	}
}

// ToManagerConfig projects this Config onto the internal/imports.Config the
// Manager is constructed with.
func (c Config) ToManagerConfig() imports.Config {
	return imports.Config{
		CacheSaveLocation: c.CacheSaveLocation,
		IgnoredLibraries:  c.IgnoredLibraries,
		IgnoredVariables:  c.IgnoredVariables,
		Env:               c.Env,
		Variables:         c.Variables,
		VariableFiles:     c.VariableFiles,
	}
}
