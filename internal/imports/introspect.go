package imports

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

var introspectLog = logrus.WithField("component", "imports.introspector")

// WorkerEnvVar names the environment variable a re-exec'd worker process
// checks to enter introspection-worker mode instead of its normal entrypoint
//. cmd/worker.go reads it.
const WorkerEnvVar = "ROBOTCODE_INTROSPECT_WORKER"

// workerRequest/workerResponse are the JSON envelope exchanged with the
// introspection worker over stdin/stdout. They mirror IntrospectRequest and
// IntrospectResult but stay private to the wire format, since Doc is
// transmitted as a raw, kind-tagged payload rather than the Go interface
// value.
type workerRequest struct {
	Kind       Kind              `json:"kind"`
	Name       string            `json:"name"`
	Args       []string          `json:"args"`
	WorkingDir string            `json:"workingDir"`
	BaseDir    string            `json:"baseDir"`
	CLIVars    map[string]string `json:"cliVars"`
	ExtraVars  map[string]string `json:"extraVars"`
}

type workerResponse struct {
	LibraryDoc    *LibraryDoc     `json:"libraryDoc,omitempty"`
	VariablesDoc  *VariablesDoc   `json:"variablesDoc,omitempty"`
	Stdout        string          `json:"stdout"`
	Stderr        string          `json:"stderr"`
	ErrorKind     string          `json:"errorKind,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	ErrorLocation *SourceLocation `json:"errorLocation,omitempty"`
}

// SubprocessIntrospector runs the black-box introspection routine
// by re-exec'ing the current binary with
// WorkerEnvVar set, feeding it a workerRequest on stdin and reading a
// workerResponse from stdout. Isolation means a hostile or crashing
// third-party library under introspection can never bring down the manager
// process itself.
type SubprocessIntrospector struct {
	// ExecPath is the binary to re-exec; defaults to os.Executable() when
	// empty, overridable in tests.
	ExecPath string
}

func NewSubprocessIntrospector() *SubprocessIntrospector {
	return &SubprocessIntrospector{}
}

// Run spawns one worker process per call, with no pooling or reuse: user
// library initialization is not idempotent and a poisoned process must
// never serve a second build.
func (s *SubprocessIntrospector) Run(ctx context.Context, req IntrospectRequest, timeout time.Duration) (IntrospectResult, error) {
	execPath := s.ExecPath
	if execPath == "" {
		p, err := os.Executable()
		if err != nil {
			return IntrospectResult{}, &ResolveFailed{Name: req.Name, Reason: "cannot locate own executable: " + err.Error()}
		}
		execPath = p
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(workerRequest{
		Kind: req.Kind, Name: req.Name, Args: req.Args,
		WorkingDir: req.WorkingDir, BaseDir: req.BaseDir,
		CLIVars: req.CLIVars, ExtraVars: req.ExtraVars,
	})
	if err != nil {
		return IntrospectResult{}, err
	}

	cmd := exec.CommandContext(runCtx, execPath)
	if len(req.Env) > 0 {
		env := make([]string, 0, len(req.Env)+1)
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, WorkerEnvVar+"=1")
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		introspectLog.WithFields(logrus.Fields{"name": req.Name, "timeout": timeout}).Warn("imports: introspection timed out")
		return IntrospectResult{}, &IntrospectionTimeout{Name: req.Name, Args: req.Args, Deadline: timeout}
	}

	if runErr != nil {
		exitStatus := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitStatus = exitErr.ExitCode()
		}
		tail := stderr.String()
		if len(tail) > 4096 {
			tail = tail[len(tail)-4096:]
		}
		return IntrospectResult{}, &IntrospectionCrashed{Name: req.Name, Args: req.Args, ExitStatus: exitStatus, StderrTail: tail}
	}

	var resp workerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return IntrospectResult{}, &IntrospectionCrashed{Name: req.Name, Args: req.Args, ExitStatus: 0, StderrTail: "malformed worker response: " + err.Error()}
	}

	if resp.ErrorKind != "" {
		return IntrospectResult{Stdout: resp.Stdout, Stderr: resp.Stderr}, &IntrospectionError{
			Name: req.Name, Args: req.Args, Kind: resp.ErrorKind, Message: resp.ErrorMessage,
			Location: resp.ErrorLocation,
		}
	}

	var doc Doc
	switch {
	case resp.LibraryDoc != nil:
		doc = resp.LibraryDoc
	case resp.VariablesDoc != nil:
		doc = resp.VariablesDoc
	}

	return IntrospectResult{Doc: doc, Stdout: resp.Stdout, Stderr: resp.Stderr}, nil
}
