package imports

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// resolverLRUSize is the default bound on the Path Resolver's memoization
// cache.
const resolverLRUSize = 256

// resolveCacheKey is the memoization key for a single find() call: name,
// base dir, a fingerprint of the extra variables in play, and any
// kind-specific flags (the file-type label for Resource lookups, the
// resolve-variables/resolve-CLI-variables pair for Variables lookups).
type resolveCacheKey struct {
	kind    Kind
	name    string
	baseDir string
	extra   string
	flag    string
}

type resolveCacheValue struct {
	source string
	err    error
}

// Resolver implements the Path Resolver: it resolves
// an import name, with variable expansion where needed, to a canonical
// source path, memoizing results in a bounded LRU.
type Resolver struct {
	ctx   *ManagerContext
	cache *lru.Cache[resolveCacheKey, resolveCacheValue]
}

func NewResolver(ctx *ManagerContext) *Resolver {
	cache, err := lru.New[resolveCacheKey, resolveCacheValue](resolverLRUSize)
	if err != nil {
		// Only returns an error for a non-positive size, which resolverLRUSize
		// never is.
		panic(err)
	}
	return &Resolver{ctx: ctx, cache: cache}
}

// Clear evicts every memoized resolution. Called after any registry removal
// for the corresponding kind.
func (r *Resolver) Clear() {
	r.cache.Purge()
}

// FindLibrary resolves a Library import name to a canonical source path or
// module name.
func (r *Resolver) FindLibrary(name, baseDir string, cliVars, extraVars map[string]string) (string, error) {
	key := resolveCacheKey{kind: KindLibrary, name: name, baseDir: baseDir, extra: fingerprintVars(extraVars)}
	if v, ok := r.cache.Get(key); ok {
		return v.source, v.err
	}

	source, err := r.findLibrary(name, baseDir, cliVars, extraVars)
	r.cache.Add(key, resolveCacheValue{source: source, err: err})
	return source, err
}

func (r *Resolver) findLibrary(name, baseDir string, cliVars, extraVars map[string]string) (string, error) {
	if containsVariable(name) {
		if r.ctx.VariableSearch == nil {
			return "", &ResolveFailed{Name: name, Reason: "no variable search collaborator configured"}
		}
		return r.ctx.VariableSearch.FindLibrary(name, r.ctx.WorkspaceRoot, baseDir, cliVars, extraVars)
	}

	resolved := name
	if r.ctx.StdlibNames[name] {
		resolved = r.ctx.StdlibPackagePrefix + "." + name
	}

	if isPathLike(KindLibrary, resolved, r.ctx.DomainVersion) {
		return findFileUpward(resolved, baseDir)
	}

	return resolved, nil
}

// FindResource resolves a Resource import name.
func (r *Resolver) FindResource(name, baseDir, fileType string, cliVars, extraVars map[string]string) (string, error) {
	key := resolveCacheKey{kind: KindResource, name: name, baseDir: baseDir, extra: fingerprintVars(extraVars), flag: fileType}
	if v, ok := r.cache.Get(key); ok {
		return v.source, v.err
	}

	source, err := r.findResource(name, baseDir, fileType, cliVars, extraVars)
	r.cache.Add(key, resolveCacheValue{source: source, err: err})
	return source, err
}

func (r *Resolver) findResource(name, baseDir, fileType string, cliVars, extraVars map[string]string) (string, error) {
	var (
		source string
		err    error
	)

	if containsVariable(name) {
		if r.ctx.VariableSearch == nil {
			return "", &ResolveFailed{Name: name, Reason: "no variable search collaborator configured"}
		}
		source, err = r.ctx.VariableSearch.FindFile(name, r.ctx.WorkspaceRoot, baseDir, cliVars, extraVars, fileType)
	} else {
		source, err = findFileUpward(name, baseDir)
	}
	if err != nil {
		return "", err
	}

	if err := r.checkResourceExtension(source); err != nil {
		return "", err
	}
	return source, nil
}

// checkResourceExtension rejects a resolved resource path whose extension
// falls outside the domain-version-gated allow-list rather than silently
// accepting it.
func (r *Resolver) checkResourceExtension(source string) error {
	allowed := r.ctx.DomainVersion.ResourceExtensions()
	ext := strings.ToLower(filepath.Ext(source))
	for _, a := range allowed {
		if ext == a {
			return nil
		}
	}
	return &InvalidResourceExtension{Path: source, Allowed: allowed}
}

// FindVariables resolves a Variables import name.
func (r *Resolver) FindVariables(name, baseDir string, cliVars, extraVars map[string]string, resolveVariables, resolveCLIVars bool) (string, error) {
	key := resolveCacheKey{
		kind: KindVariables, name: name, baseDir: baseDir, extra: fingerprintVars(extraVars),
		flag: fmt.Sprintf("%t:%t", resolveVariables, resolveCLIVars),
	}
	if v, ok := r.cache.Get(key); ok {
		return v.source, v.err
	}

	source, err := r.findVariables(name, baseDir, cliVars, extraVars, resolveVariables, resolveCLIVars)
	r.cache.Add(key, resolveCacheValue{source: source, err: err})
	return source, err
}

func (r *Resolver) findVariables(name, baseDir string, cliVars, extraVars map[string]string, resolveVariables, resolveCLIVars bool) (string, error) {
	if resolveVariables && containsVariable(name) {
		if r.ctx.VariableSearch == nil {
			return "", &ResolveFailed{Name: name, Reason: "no variable search collaborator configured"}
		}
		var effectiveCLI map[string]string
		if resolveCLIVars {
			effectiveCLI = cliVars
		}
		return r.ctx.VariableSearch.FindVariables(name, r.ctx.WorkspaceRoot, baseDir, effectiveCLI, extraVars)
	}

	if isPathLike(KindVariables, name, r.ctx.DomainVersion) {
		return findFileUpward(name, baseDir)
	}

	return name, nil
}

// findFileUpward implements the "find file" helper: it
// resolves name relative to baseDir, then scans upward toward the
// filesystem root before giving up, so a resource or path-literal library
// sitting a few directories above the importing file is still found.
func findFileUpward(name, baseDir string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", &ResolveFailed{Name: name, Reason: "file does not exist"}
		}
		return name, nil
	}

	dir := baseDir
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", &ResolveFailed{Name: name, Reason: "not found relative to or above " + baseDir}
}

// containsVariable reports whether name embeds a variable reference using
// one of the four sigils ($, @, &, %) followed by a brace group, e.g.
// "${VAR}".
func containsVariable(name string) bool {
	for i := 0; i < len(name)-1; i++ {
		switch name[i] {
		case '$', '@', '&', '%':
			if name[i+1] == '{' {
				if end := strings.IndexByte(name[i+2:], '}'); end >= 0 {
					return true
				}
			}
		}
	}
	return false
}

func fingerprintVars(vars map[string]string) string {
	if len(vars) == 0 {
		return ""
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sortStrings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(vars[k])
		b.WriteByte(';')
	}
	return b.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
