package imports

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// CacheSaveLocation selects where the on-disk artifact store root is
// rooted, mirroring the `cache.save_location` configuration option
//.
type CacheSaveLocation int

const (
	// CacheSaveWorkspaceFolder roots the cache under the workspace folder
	// itself.
	CacheSaveWorkspaceFolder CacheSaveLocation = iota
	// CacheSaveWorkspaceStorage roots the cache under the editor-provided
	// per-workspace storage directory instead, when one is available.
	CacheSaveWorkspaceStorage
)

// Config is the recognized configuration surface of the Imports Manager.
type Config struct {
	CacheSaveLocation  CacheSaveLocation
	IgnoredLibraries   []string
	IgnoredVariables   []string
	Env                map[string]string
	Variables          map[string]string
	VariableFiles      []string
	WorkspaceStorageDir string // only consulted when CacheSaveLocation == CacheSaveWorkspaceStorage
}

// MetaVersion is the implementation version string embedded in every
// persisted Meta. Bumping it invalidates the entire on-disk cache, since a
// mismatch is treated as "absent".
const MetaVersion = "robotcode-go/1"

// DomainVersion selects the feature set of the keyword-driven language the
// manager is resolving imports for; it gates the resource extension
// allow-list.
type DomainVersion struct {
	Major int
	Minor int
}

func (v DomainVersion) atLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// String renders the directory component used in the Artifact Store layout
//.
func (v DomainVersion) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// ResourceExtensions returns the allow-list of file extensions a resource
// import may resolve to; .json and .rsrc joined the set in 6.1.
func (v DomainVersion) ResourceExtensions() []string {
	base := []string{".resource", ".robot", ".txt", ".tsv", ".rst", ".rest"}
	if v.atLeast(6, 1) {
		return append(base, ".json", ".rsrc")
	}
	return base
}

// ManagerContext bundles the shared, explicitly-passed state every
// component needs: the workspace root,
// configuration, environment, and the external collaborators. It is never
// held by an Entry through the registry (that would form a cycle); Entries
// hold only this back-pointer, never a pointer into the registry's map.
type ManagerContext struct {
	WorkspaceRoot string
	Config        Config
	DomainVersion DomainVersion

	FileWatcher        FileWatcher
	DocumentStore      DocumentStore
	NamespaceResolver  NamespaceResolver
	Introspector       Introspector
	ModuleSpecResolver ModuleSpecResolver
	VariableSearch     VariableSearch

	// StdlibNames and StdlibPackagePrefix implement the standard-library
	// rewrite: a library name found in StdlibNames is rewritten to
	// "<StdlibPackagePrefix>.<name>" before resolution.
	StdlibNames         map[string]bool
	StdlibPackagePrefix string

	// LangRuntimeVersion names the "<lang_runtime_version>" path segment in
	// the Artifact Store layout. Defaults to the running
	// Go toolchain's version, sanitized for use as a path component; tests
	// override it directly to assert on exact cache paths.
	LangRuntimeVersion string

	envOnce     sync.Once
	environment map[string]string

	// sentinels arms at most one reclamation finalizer per caller-supplied
	// sentinel, shared across every kind's registry.
	sentinels sentinelTable
}

// Environment returns the effective process environment for introspection
// subprocesses: the parent's own environment snapshot, overridden by
// Config.Env. The profile file's env section is not part of it. The
// snapshot is taken once, on first use of
// the context, so later changes to the process environment never leak into
// fingerprints or workers mid-session.
func (c *ManagerContext) Environment() map[string]string {
	c.envOnce.Do(func() {
		c.environment = snapshotEnvironment(c.Config.Env)
	})
	return c.environment
}

func snapshotEnvironment(overrides map[string]string) map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

// CacheRoot computes the base directory for the artifact store, honoring
// CacheSaveLocation and the versioned subtree layout:
// <cache_root>/.robotcode_cache/<lang_runtime_version>/<domain_version>/.
func (c *ManagerContext) CacheRoot() string {
	base := c.WorkspaceRoot
	if c.Config.CacheSaveLocation == CacheSaveWorkspaceStorage && c.Config.WorkspaceStorageDir != "" {
		base = c.Config.WorkspaceStorageDir
	}
	return filepath.Join(base, ".robotcode_cache", c.langRuntimeVersion(), c.DomainVersion.String())
}

func (c *ManagerContext) langRuntimeVersion() string {
	v := c.LangRuntimeVersion
	if v == "" {
		v = runtime.Version()
	}
	return sanitizePathComponent(v)
}

func sanitizePathComponent(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(s)
}
