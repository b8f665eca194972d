package imports

import (
	"sync"
	"time"
)

// debounceWindow is the fixed coalescing interval for open-resource-document
// edits.
const debounceWindow = 1 * time.Second

// Dispatcher applies FileEvent batches to every Registry and emits the
// three coarse change events. It owns the debounce
// state for open-document edits to resource files.
type Dispatcher struct {
	registries map[Kind]*Registry
	searchPath []string

	librariesChanged  docsEvent[[]Doc]
	resourcesChanged  docsEvent[[]Doc]
	variablesChanged  docsEvent[[]Doc]
	importsChanged    docsEvent[string]

	debounceMu sync.Mutex
	pending    map[string]Document // uri -> latest document
	timer      *time.Timer
}

func NewDispatcher(registries map[Kind]*Registry, searchPath []string) *Dispatcher {
	return &Dispatcher{
		registries: registries,
		searchPath: searchPath,
		pending:    map[string]Document{},
	}
}

func (d *Dispatcher) OnLibrariesChanged(h func([]Doc)) { d.librariesChanged.Add(h) }
func (d *Dispatcher) OnResourcesChanged(h func([]Doc)) { d.resourcesChanged.Add(h) }
func (d *Dispatcher) OnVariablesChanged(h func([]Doc)) { d.variablesChanged.Add(h) }
func (d *Dispatcher) OnImportsChanged(h func(string))  { d.importsChanged.Add(h) }

// Dispatch applies a batch of FileEvents to every kind's registry. Invalidation of every matching entry completes before any
// event fires, giving consumers a consistent per-kind snapshot.
func (d *Dispatcher) Dispatch(events []FileEvent) {
	affected := map[Kind][]Doc{}

	for kind, registry := range d.registries {
		for _, entry := range registry.snapshot() {
			for _, event := range events {
				previous, matched := entry.checkFileChanged(event, func(e *Entry, ev FileEvent) bool {
					return matchesEntry(e, ev, d.searchPath)
				}, registry.unregisterWatcher)
				if !matched {
					continue
				}
				if previous != nil {
					affected[kind] = append(affected[kind], previous)
				}
				if event.Type == FileDeleted {
					registry.remove(entry.Key, entry, true)
				}
				break
			}
		}
	}

	for _, event := range events {
		if event.Type == FileCreated {
			d.importsChanged.Fire(event.URI)
		}
	}

	if docs, ok := affected[KindLibrary]; ok {
		d.librariesChanged.Fire(docs)
	}
	if docs, ok := affected[KindResource]; ok {
		d.resourcesChanged.Fire(docs)
	}
	if docs, ok := affected[KindVariables]; ok {
		d.variablesChanged.Fire(docs)
	}
}

// OnResourceDocumentChanged debounces did_change notifications for open
// resource documents: a burst within debounceWindow coalesces to exactly one
// reconciliation, which invalidates each affected resource entry and fires
// resources_changed once.
func (d *Dispatcher) OnResourceDocumentChanged(doc Document) {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()

	d.pending[doc.URI()] = doc
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(debounceWindow, d.flushDebounce)
}

func (d *Dispatcher) flushDebounce() {
	d.debounceMu.Lock()
	pending := d.pending
	d.pending = map[string]Document{}
	d.timer = nil
	d.debounceMu.Unlock()

	if len(pending) == 0 {
		return
	}

	registry := d.registries[KindResource]
	if registry == nil {
		return
	}

	var affected []Doc
	for uri := range pending {
		for _, entry := range registry.snapshot() {
			meta := entry.Meta()
			if meta == nil || meta.Origin == "" || "file://"+meta.Origin != uri {
				continue
			}
			previous := entry.Doc()
			entry.invalidate(registry.unregisterWatcher)
			if previous != nil {
				affected = append(affected, previous)
			}
		}
	}

	if len(affected) > 0 {
		d.resourcesChanged.Fire(affected)
	}
}
