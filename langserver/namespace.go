package langserver

import (
	"strings"

	"github.com/robotcode-ls/robotcode-go/internal/imports"
)

// textProvider is satisfied by *textDocument; it is a local, unexported
// seam rather than a method added to imports.Document, since reading raw
// text is a langserver-only need the core never touches.
type textProvider interface {
	Text() string
}

// StructuralNamespaceResolver implements imports.NamespaceResolver with the
// same shallow, non-parsing heuristic cmd/worker.go uses for black-box
// introspection: a "*** Keywords ***" section header followed by
// non-indented lines is treated as a keyword name. Full keyword-language
// parsing is explicitly out of scope; this
// gives robotcode/libdocForResource something real to return without
// crossing that line.
type StructuralNamespaceResolver struct{}

func NewStructuralNamespaceResolver() *StructuralNamespaceResolver {
	return &StructuralNamespaceResolver{}
}

func (r *StructuralNamespaceResolver) ResourceNamespace(doc imports.Document) (*imports.Namespace, error) {
	ns := &imports.Namespace{Source: doc.URI()}

	tp, ok := doc.(textProvider)
	if !ok {
		return ns, nil
	}

	inKeywordsSection := false
	for _, line := range strings.Split(tp.Text(), "\n") {
		trimmed := strings.TrimRight(line, "\r")
		upper := strings.ToUpper(strings.TrimSpace(trimmed))

		switch {
		case strings.HasPrefix(upper, "*** KEYWORD") || strings.HasPrefix(upper, "*** KEYWORDS"):
			inKeywordsSection = true
			continue
		case strings.HasPrefix(upper, "***"):
			inKeywordsSection = false
			continue
		}

		if !inKeywordsSection {
			continue
		}
		// A keyword name starts at column zero; its settings/steps are
		// indented beneath it.
		if trimmed == "" || trimmed[0] == ' ' || trimmed[0] == '\t' {
			continue
		}
		name := strings.TrimSpace(trimmed)
		ns.Keywords = append(ns.Keywords, imports.KeywordDoc{Name: name, Source: doc.URI()})
	}

	return ns, nil
}
