package imports

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Manager is the Public Facade: the single entry
// point the rest of the server calls into. It wires together the
// Fingerprinter, Path Resolver, Artifact Store, Subprocess Introspector,
// Entry Registries (one per Kind), File-Watcher Bridge and Invalidation &
// Change Dispatcher.
type Manager struct {
	ctx          *ManagerContext
	fingerprint  *Fingerprinter
	resolver     *Resolver
	store        *Store
	introspector Introspector
	registries   map[Kind]*Registry
	dispatcher   *Dispatcher
	clivars      *CLIVariableProvider

	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// NewManager assembles a Manager from a ManagerContext whose collaborator
// fields are already populated.
func NewManager(ctx *ManagerContext, introspector Introspector) *Manager {
	closeCtx, closeCancel := context.WithCancel(context.Background())

	m := &Manager{
		ctx:          ctx,
		fingerprint:  NewFingerprinter(ctx),
		resolver:     NewResolver(ctx),
		store:        NewStore(ctx),
		introspector: introspector,
		registries:   map[Kind]*Registry{},
		closeCtx:     closeCtx,
		closeCancel:  closeCancel,
	}

	m.registries[KindLibrary] = newRegistry(KindLibrary, ctx, m.libraryBuilder)
	m.registries[KindResource] = newRegistry(KindResource, ctx, m.resourceBuilder)
	m.registries[KindVariables] = newRegistry(KindVariables, ctx, m.variablesBuilder)

	m.dispatcher = NewDispatcher(m.registries, m.effectiveSearchPath())
	m.clivars = NewCLIVariableProvider(ctx, introspector)

	// Any removal from a registry may leave the resolver's memoized path
	// stale, so a removal of either kind flushes the LRU wholesale.
	for _, registry := range m.registries {
		registry.onRemove = m.resolver.Clear
	}

	if ctx.DocumentStore != nil {
		ctx.DocumentStore.OnDidChange(m.HandleResourceDocumentChanged)
	}

	return m
}

// Close tears down any in-flight subprocess introspections without waiting
// for them to finish. Safe to call more than once.
func (m *Manager) Close() {
	m.closeCancel()
}

// boundToClose merges ctx with the Manager's closing signal, so that a
// subprocess wait started under ctx is also cancelled by Close.
func (m *Manager) boundToClose(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := m.closeCtx
	done := make(chan struct{})
	go func() {
		select {
		case <-stop.Done():
			cancel()
		case <-done:
		}
	}()
	return merged, func() {
		close(done)
		cancel()
	}
}

func (m *Manager) effectiveSearchPath() []string {
	return []string{m.ctx.WorkspaceRoot}
}

// OnLibrariesChanged/OnResourcesChanged/OnVariablesChanged/OnImportsChanged
// register consumers of the coarse change events.
func (m *Manager) OnLibrariesChanged(h func([]Doc)) { m.dispatcher.OnLibrariesChanged(h) }
func (m *Manager) OnResourcesChanged(h func([]Doc)) { m.dispatcher.OnResourcesChanged(h) }
func (m *Manager) OnVariablesChanged(h func([]Doc)) { m.dispatcher.OnVariablesChanged(h) }
func (m *Manager) OnImportsChanged(h func(string))  { m.dispatcher.OnImportsChanged(h) }

// HandleFileEvents forwards a batch of filesystem notifications to the
// dispatcher.
func (m *Manager) HandleFileEvents(events []FileEvent) { m.dispatcher.Dispatch(events) }

// HandleResourceDocumentChanged forwards a single open-document edit
// notification into the debounced resource reconciliation path.
func (m *Manager) HandleResourceDocumentChanged(doc Document) {
	m.dispatcher.OnResourceDocumentChanged(doc)
}

// LibdocForLibrary resolves a Library import and returns its documentation,
// building and caching it on first use. A non-nil sentinel pins the entry
// for the sentinel's lifetime.
func (m *Manager) LibdocForLibrary(ctx context.Context, name string, args []string, baseDir string, sentinel any, extraVars map[string]string) (*LibraryDoc, error) {
	resolved, err := m.resolver.FindLibrary(name, baseDir, m.clivars.Map(ctx), extraVars)
	if err != nil {
		return nil, err
	}

	key := NewLibraryKey(resolved, args)
	doc, err := m.registries[KindLibrary].getOrBuild(ctx, key, name, m.ctx.WorkspaceRoot, baseDir, extraVars, sentinel, false)
	if err != nil {
		return nil, err
	}
	return doc.(*LibraryDoc), nil
}

// LibdocForVariables implements
// "libdoc_for_variables(name, args, base_dir, sentinel?, extra_vars?, resolve_vars?, resolve_cli_vars?)".
func (m *Manager) LibdocForVariables(ctx context.Context, name string, args []string, baseDir string, sentinel any, extraVars map[string]string, resolveVars, resolveCLIVars bool) (*VariablesDoc, error) {
	resolved, err := m.resolver.FindVariables(name, baseDir, m.clivars.Map(ctx), extraVars, resolveVars, resolveCLIVars)
	if err != nil {
		return nil, err
	}

	key := NewVariablesKey(resolved, args)
	doc, err := m.registries[KindVariables].getOrBuild(ctx, key, name, m.ctx.WorkspaceRoot, baseDir, extraVars, sentinel, false)
	if err != nil {
		return nil, err
	}
	return doc.(*VariablesDoc), nil
}

// LibdocAndNamespaceForResource implements
// "libdoc_and_namespace_for_resource(name, base_dir, sentinel?, extra_vars?) -> (Namespace, LibraryDoc)".
func (m *Manager) LibdocAndNamespaceForResource(ctx context.Context, name string, baseDir string, sentinel any, extraVars map[string]string) (*Namespace, *LibraryDoc, error) {
	resolved, err := m.resolver.FindResource(name, baseDir, "resource", m.clivars.Map(ctx), extraVars)
	if err != nil {
		return nil, nil, err
	}

	if m.ctx.DocumentStore == nil || m.ctx.NamespaceResolver == nil {
		return nil, nil, &ResolveFailed{Name: name, Reason: "no document store / namespace resolver configured"}
	}

	doc, err := m.ctx.DocumentStore.GetOrOpen(resolved)
	if err != nil {
		return nil, nil, err
	}

	ns, err := m.ctx.NamespaceResolver.ResourceNamespace(doc)
	if err != nil {
		return nil, nil, err
	}

	key := NewResourceKey(resolved)
	registry := m.registries[KindResource]
	entry := registry.getOrCreate(key, name, m.ctx.WorkspaceRoot, baseDir, extraVars, false)
	meta := &Meta{MetaVersion: MetaVersion, Name: name, Origin: resolved, ByPath: true}
	entry.SetResourceResult(ns.LibraryDoc(), meta, m.subscribeWatchers(registry, entry, meta), registry.unregisterWatcher)
	if sentinel != nil {
		registry.addReference(key, entry, sentinel)
	}

	return ns, ns.LibraryDoc(), nil
}

// CompleteLibraryImport/CompleteResourceImport/CompleteVariablesImport
// implement "complete_{library,resource,variables}_import(name?, base_dir,
// extra_vars?) -> [Completion]".
func (m *Manager) CompleteLibraryImport(ctx context.Context, namePrefix, baseDir string, extraVars map[string]string) []CompleteResult {
	return m.completeFromRegistry(KindLibrary, namePrefix)
}

func (m *Manager) CompleteResourceImport(ctx context.Context, namePrefix, baseDir string, extraVars map[string]string) []CompleteResult {
	return m.completeFromRegistry(KindResource, namePrefix)
}

func (m *Manager) CompleteVariablesImport(ctx context.Context, namePrefix, baseDir string, extraVars map[string]string) []CompleteResult {
	return m.completeFromRegistry(KindVariables, namePrefix)
}

func (m *Manager) completeFromRegistry(kind Kind, namePrefix string) []CompleteResult {
	var out []CompleteResult
	for _, entry := range m.registries[kind].snapshot() {
		if namePrefix != "" && !strings.HasPrefix(entry.Name, namePrefix) {
			continue
		}
		detail := ""
		if meta := entry.Meta(); meta != nil {
			detail = meta.Origin
		}
		out = append(out, CompleteResult{Label: entry.Name, Detail: detail})
	}
	return out
}

// ResolveVariable implements "resolve_variable(name, base_dir, extra_vars?) -> Value".
func (m *Manager) ResolveVariable(ctx context.Context, name, baseDir string, extraVars map[string]string) (string, error) {
	merged := m.clivars.Map(ctx)
	for k, v := range extraVars {
		merged[k] = v
	}
	if v, ok := merged[name]; ok {
		return v, nil
	}
	return "", &ResolveFailed{Name: name, Reason: "variable not found in command-line/project/profile scope"}
}

// MetaForLibrary/MetaForVariables implement
// "meta_for_library(name, base_dir, extra_vars?) -> (Meta?, resolved_name)".
func (m *Manager) MetaForLibrary(ctx context.Context, name, baseDir string, extraVars map[string]string) (*Meta, string, error) {
	resolved, err := m.resolver.FindLibrary(name, baseDir, m.clivars.Map(ctx), extraVars)
	if err != nil {
		return nil, "", err
	}
	meta, err := m.fingerprint.Fingerprint(KindLibrary, name, resolved)
	return meta, resolved, err
}

func (m *Manager) MetaForVariables(ctx context.Context, name, baseDir string, extraVars map[string]string) (*Meta, string, error) {
	resolved, err := m.resolver.FindVariables(name, baseDir, m.clivars.Map(ctx), extraVars, true, true)
	if err != nil {
		return nil, "", err
	}
	meta, err := m.fingerprint.Fingerprint(KindVariables, name, resolved)
	return meta, resolved, err
}

// ClearCache implements "clear_cache()": removes the on-disk cache root;
// in-memory entries are left intact.
func (m *Manager) ClearCache() error {
	return m.store.Clear()
}

// CLIVariables exposes the full, position-annotated command-line variable
// view for diagnostics consumers.
func (m *Manager) CLIVariables(ctx context.Context) []CLIVariable {
	return m.clivars.List(ctx)
}

// InvalidateCLIVariables forces the command-line variable cache to rebuild
// on its next read, used when project configuration changes.
func (m *Manager) InvalidateCLIVariables() {
	m.clivars.Invalidate()
}

// libraryBuilder/variablesBuilder/resourceBuilder are the buildFunc
// implementations wired into each Registry: Fingerprinter -> Artifact Store
// read -> (miss) Subprocess Introspector -> Artifact Store write -> watcher
// subscription.
func (m *Manager) libraryBuilder(registry *Registry) buildFunc {
	return func(ctx context.Context, entry *Entry) error {
		return m.buildViaStore(ctx, registry, entry, KindLibrary, DefaultLibraryTimeout)
	}
}

func (m *Manager) variablesBuilder(registry *Registry) buildFunc {
	return func(ctx context.Context, entry *Entry) error {
		return m.buildViaStore(ctx, registry, entry, KindVariables, DefaultLibraryTimeout)
	}
}

func (m *Manager) resourceBuilder(registry *Registry) buildFunc {
	return func(ctx context.Context, entry *Entry) error {
		return m.buildViaStore(ctx, registry, entry, KindResource, DefaultResourceTimeout)
	}
}

func (m *Manager) buildViaStore(ctx context.Context, registry *Registry, entry *Entry, kind Kind, timeout time.Duration) error {
	meta, err := m.fingerprint.Fingerprint(kind, entry.Name, entry.Key.Source)
	if err != nil {
		return err
	}

	cacheable := meta != nil && kind != KindResource

	if cacheable {
		if base, err := meta.FilepathBase(); err == nil {
			if cachedMeta, rawDoc, err := m.store.Read(kind, base); err == nil && cachedMeta != nil && cachedMeta.Equal(meta) {
				doc, decodeErr := decodeDoc(kind, rawDoc)
				if decodeErr == nil {
					entry.setBuiltResult(doc, cachedMeta, m.subscribeWatchers(registry, entry, cachedMeta))
					return nil
				}
			}
		}
	}

	runCtx, done := m.boundToClose(ctx)
	defer done()

	result, err := m.introspector.Run(runCtx, IntrospectRequest{
		Kind: kind, Name: entry.Key.Source, Args: entry.Key.Args(),
		WorkingDir: entry.WorkingDir, BaseDir: entry.BaseDir,
		CLIVars: m.clivars.Map(ctx), ExtraVars: entry.ExtraVars,
		Env: m.ctx.Environment(),
	}, timeout)
	if err != nil {
		return err
	}

	// Anything the worker printed is a warning, never a failure.
	if result.Stdout != "" {
		registryLog.WithField("name", entry.Name).Warnf("imports: introspection stdout: %s", result.Stdout)
	}
	if result.Stderr != "" {
		registryLog.WithField("name", entry.Name).Warnf("imports: introspection stderr: %s", result.Stderr)
	}

	if cacheable {
		if base, baseErr := meta.FilepathBase(); baseErr == nil {
			if writeErr := m.store.Write(kind, base, meta, result.Doc); writeErr != nil {
				registryLog.WithError(writeErr).Debug("imports: cache write failed, continuing uncached")
			}
		}
	}

	entry.setBuiltResult(result.Doc, meta, m.subscribeWatchers(registry, entry, meta))
	return nil
}

func (m *Manager) subscribeWatchers(registry *Registry, entry *Entry, meta *Meta) []FileWatcherHandle {
	if m.ctx.FileWatcher == nil {
		return nil
	}
	globs := watchGlobsForEntry(meta, m.effectiveSearchPath())
	if len(globs) == 0 {
		return nil
	}
	handle := m.ctx.FileWatcher.Register(globs, func(events []FileEvent) {
		m.dispatcher.Dispatch(events)
	})
	return []FileWatcherHandle{handle}
}

func decodeDoc(kind Kind, raw []byte) (Doc, error) {
	switch kind {
	case KindLibrary:
		var doc LibraryDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		return &doc, nil
	case KindVariables:
		var doc VariablesDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		return &doc, nil
	default:
		return nil, &ResolveFailed{Name: "", Reason: "resources are never persisted"}
	}
}
