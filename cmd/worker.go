package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/robotcode-ls/robotcode-go/internal/imports"
	"github.com/spf13/cobra"
)

// workerRequest/workerResponse mirror the private wire types in
// internal/imports/introspect.go: this process only ever talks to its own
// parent, so the envelope is duplicated rather than exported.
type workerRequest struct {
	Kind       imports.Kind      `json:"kind"`
	Name       string            `json:"name"`
	Args       []string          `json:"args"`
	WorkingDir string            `json:"workingDir"`
	BaseDir    string            `json:"baseDir"`
	CLIVars    map[string]string `json:"cliVars"`
	ExtraVars  map[string]string `json:"extraVars"`
}

type workerResponse struct {
	LibraryDoc    *imports.LibraryDoc     `json:"libraryDoc,omitempty"`
	VariablesDoc  *imports.VariablesDoc   `json:"variablesDoc,omitempty"`
	Stdout        string                  `json:"stdout"`
	Stderr        string                  `json:"stderr"`
	ErrorKind     string                  `json:"errorKind,omitempty"`
	ErrorMessage  string                  `json:"errorMessage,omitempty"`
	ErrorLocation *imports.SourceLocation `json:"errorLocation,omitempty"`
}

// runWorker is the entrypoint entered when ROBOTCODE_INTROSPECT_WORKER is
// set in the environment (internal/imports.WorkerEnvVar): it reads a single
// workerRequest from stdin, introspects it in-process (this process is the
// isolation boundary; its parent only ever observes it through exit status,
// stdout, stderr and a hard deadline), and writes one workerResponse to stdout.
//
// This never recurses: a worker process does exactly one introspection and
// exits, so state from one user library can never leak into the next build.
func runWorker() int {
	var req workerRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeWorkerError(os.Stdout, "", "malformed worker request: "+err.Error())
		return 1
	}

	var capturedOut, capturedErr bytes.Buffer
	resp := introspectInWorker(&req, &capturedOut, &capturedErr)
	resp.Stdout = capturedOut.String()
	resp.Stderr = capturedErr.String()

	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		fmt.Fprintln(os.Stderr, "worker: failed to encode response:", err)
		return 1
	}
	return 0
}

func writeWorkerError(w io.Writer, kind, message string) {
	json.NewEncoder(w).Encode(workerResponse{ErrorKind: kind, ErrorMessage: message}) //nolint:errcheck
}

// introspectInWorker is the black-box introspection function itself: the
// possibly-hostile routine that resolves a name and extracts keywords or
// variables from it. The manager treats it opaquely and is built against
// the Introspector interface, not this function. It performs best-effort
// structural introspection of the resolved source file: enough to populate
// a usable Doc without parsing the keyword-driven language itself.
func introspectInWorker(req *workerRequest, stdout, stderr io.Writer) workerResponse {
	switch req.Kind {
	case imports.KindLibrary:
		doc, err := introspectLibrary(req.Name, req.Args, stderr)
		if err != nil {
			return workerResponse{ErrorKind: "IntrospectionError", ErrorMessage: err.Error()}
		}
		return workerResponse{LibraryDoc: doc}
	case imports.KindVariables:
		doc, err := introspectVariables(req.Name, stderr)
		if err != nil {
			return workerResponse{ErrorKind: "IntrospectionError", ErrorMessage: err.Error()}
		}
		return workerResponse{VariablesDoc: doc}
	default:
		return workerResponse{ErrorKind: "IntrospectionError", ErrorMessage: "resource introspection is never isolated"}
	}
}

// introspectLibrary scans the source file line by line for def-style keyword
// declarations ("def some_keyword(arg1, arg2=default):", recognized by
// parseKeywordSignature). Detection is deliberately shallow; this is
// structural scanning, not parsing.
func introspectLibrary(name string, args []string, stderr io.Writer) (*imports.LibraryDoc, error) {
	doc := &imports.LibraryDoc{
		Name:    filepath.Base(name),
		Source:  name,
		Type:    "LIBRARY",
		Scope:   "TEST",
		Version: "",
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q for introspection: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if kw, ok := parseKeywordSignature(trimmed); ok {
			kwDoc := imports.KeywordDoc{Name: kw.name, Source: name, LineNo: lineNo}
			for _, a := range kw.args {
				arg := imports.ArgumentDoc{Name: a, Kind: "POSITIONAL_OR_NAMED"}
				if eq := strings.IndexByte(a, '='); eq > 0 {
					arg.Name = strings.TrimSpace(a[:eq])
					arg.DefaultValue = strings.TrimSpace(a[eq+1:])
				}
				kwDoc.Arguments = append(kwDoc.Arguments, arg)
			}
			doc.Keywords = append(doc.Keywords, kwDoc)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(stderr, "warning: truncated scan of %s: %v\n", name, err)
	}

	if len(doc.Keywords) == 0 {
		fmt.Fprintf(stderr, "no keyword signatures found in %s\n", name)
	}

	return doc, nil
}

func introspectVariables(name string, stderr io.Writer) (*imports.VariablesDoc, error) {
	doc := &imports.VariablesDoc{Name: filepath.Base(name), Source: name}

	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q for introspection: %w", name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		trimmed := strings.TrimSpace(scanner.Text())
		if v, ok := parseAssignment(trimmed); ok {
			doc.Variables = append(doc.Variables, imports.VariableDoc{
				Name: v.name, Value: []string{v.value}, HasValue: true, LineNo: lineNo, Source: name,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(stderr, "warning: truncated scan of %s: %v\n", name, err)
	}

	return doc, nil
}

type keywordSig struct {
	name string
	args []string
}

func parseKeywordSignature(line string) (keywordSig, bool) {
	if !strings.HasPrefix(line, "def ") {
		return keywordSig{}, false
	}
	rest := strings.TrimPrefix(line, "def ")
	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return keywordSig{}, false
	}
	name := strings.TrimSpace(rest[:open])
	if name == "" || strings.HasPrefix(name, "_") {
		return keywordSig{}, false
	}
	close := strings.IndexByte(rest, ')')
	var argList []string
	if close > open {
		for _, a := range strings.Split(rest[open+1:close], ",") {
			a = strings.TrimSpace(a)
			if a != "" && a != "self" {
				argList = append(argList, a)
			}
		}
	}
	return keywordSig{name: name, args: argList}, true
}

type assignment struct {
	name  string
	value string
}

func parseAssignment(line string) (assignment, bool) {
	if line == "" || strings.HasPrefix(line, "#") {
		return assignment{}, false
	}
	eq := strings.IndexByte(line, '=')
	if eq <= 0 {
		return assignment{}, false
	}
	name := strings.TrimSpace(line[:eq])
	if strings.ContainsAny(name, " \t()[]") {
		return assignment{}, false
	}
	value := strings.TrimSpace(line[eq+1:])
	return assignment{name: name, value: value}, true
}

// WorkerCommand returns the hidden cobra command registered under root:
// invisible in --help, but reachable so "go run . __introspect-worker" can
// be used for manual debugging. The normal path never invokes it by name:
// internal/imports.SubprocessIntrospector re-execs the binary with
// internal/imports.WorkerEnvVar set, and RunE here is never reached in that
// path because main() intercepts the env var before cobra parses argv.
func WorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "__introspect-worker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runWorker())
			return nil
		},
	}
}

// RunWorkerIfRequested checks WorkerEnvVar and, if set, runs the worker and
// exits the process without ever constructing the cobra command tree. This
// must be called at the very top of main(), before flag/command parsing,
// since the worker's stdin/stdout protocol (internal/imports.workerRequest)
// has nothing to do with CLI argv.
func RunWorkerIfRequested() (handled bool) {
	if os.Getenv(imports.WorkerEnvVar) == "" {
		return false
	}
	os.Exit(runWorker())
	return true
}
