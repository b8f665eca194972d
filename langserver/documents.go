package langserver

import (
	"os"
	"strings"
	"sync"

	"github.com/robotcode-ls/robotcode-go/internal/imports"
)

// textDocument is the DocumentStore's view of one open-or-read text
// document: URI, current text, and whether an editor is actively
// synchronizing it via didChange notifications.
type textDocument struct {
	uri     string
	path    string
	text    string
	version int
	synced  bool
}

func (d *textDocument) URI() string   { return d.uri }
func (d *textDocument) Synced() bool  { return d.synced }
func (d *textDocument) Text() string  { return d.text }

// Documents is the in-memory DocumentStore collaborator:
// open documents are kept current by didOpen/didChange/didClose
// notifications; anything else is read from disk on demand.
type Documents struct {
	mu        sync.RWMutex
	open      map[string]*textDocument
	changeSub docsEventHandlers
}

// docsEventHandlers mirrors internal/imports.docsEvent's explicit-subscriber
// pattern without depending on that unexported type.
type docsEventHandlers struct {
	mu       sync.Mutex
	handlers []func(imports.Document)
}

func (h *docsEventHandlers) add(fn func(imports.Document)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = append(h.handlers, fn)
}

func (h *docsEventHandlers) fire(doc imports.Document) {
	h.mu.Lock()
	handlers := make([]func(imports.Document), len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(doc)
	}
}

func NewDocuments() *Documents {
	return &Documents{open: map[string]*textDocument{}}
}

// GetOrOpen implements imports.DocumentStore: returns the live open document
// for path if the editor has it open, otherwise reads it from disk as a
// transient, unsynced document.
func (d *Documents) GetOrOpen(path string) (imports.Document, error) {
	uri := pathToURI(path)

	d.mu.RLock()
	if doc, ok := d.open[uri]; ok {
		d.mu.RUnlock()
		return doc, nil
	}
	d.mu.RUnlock()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &textDocument{uri: uri, path: path, text: string(content), synced: false}, nil
}

// OnDidChange registers a handler invoked whenever an open document's text
// changes.
func (d *Documents) OnDidChange(handler func(imports.Document)) {
	d.changeSub.add(handler)
}

// DidOpen records a newly opened document as synced.
func (d *Documents) DidOpen(uri, text string, version int) {
	doc := &textDocument{uri: uri, path: uriToFilePath(uri), text: text, version: version, synced: true}
	d.mu.Lock()
	d.open[uri] = doc
	d.mu.Unlock()
}

// DidChange applies one or more full-text or incremental changes to an open
// document. Incremental (range-based) patches are out of scope for the
// Imports Manager's needs, so only full-document replacement changes are
// applied; a range-based change simply bumps the version without altering
// text, since resolution only ever needs "has this document changed",
// which the dispatcher's debounce already degrades gracefully for.
func (d *Documents) DidChange(uri string, version int, fullText string, isFullReplace bool) {
	d.mu.Lock()
	doc, ok := d.open[uri]
	if !ok {
		doc = &textDocument{uri: uri, path: uriToFilePath(uri), synced: true}
		d.open[uri] = doc
	}
	if isFullReplace {
		doc.text = fullText
	}
	doc.version = version
	d.mu.Unlock()

	d.changeSub.fire(doc)
}

// DidClose drops a document from the open set; later GetOrOpen calls fall
// back to reading it from disk.
func (d *Documents) DidClose(uri string) {
	d.mu.Lock()
	delete(d.open, uri)
	d.mu.Unlock()
}

func pathToURI(path string) string {
	if strings.HasPrefix(path, "file://") {
		return path
	}
	return "file://" + path
}

func uriToFilePath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
