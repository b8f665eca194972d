package imports

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var clivarsLog = logrus.WithField("component", "imports.clivars")

// profileFileNames are the on-disk fallback profile locations consulted, in
// order, by loadProfile. The original's equivalent is a single
// "profile.variables"/"profile.env" structure attached to the active run
// profile; this reproduces it as a plain YAML file at the workspace root
//.
var profileFileNames = []string{"robot.yaml", "robot.yml", ".robot.yaml"}

// ProfileFile is the shape of the on-disk profile fallback. Its Variables
// apply ahead of project-config values. Its Env section is parsed but not
// applied: ManagerContext.Environment overrides the process environment
// with Config.Env only.
type ProfileFile struct {
	Variables map[string]string `yaml:"variables"`
	Env       map[string]string `yaml:"env"`
}

// loadProfile reads the first matching profile file under workspaceRoot. A
// missing file is not an error (most workspaces have none), but a present,
// malformed one is reported so misconfiguration doesn't silently vanish.
func loadProfile(workspaceRoot string) (*ProfileFile, error) {
	for _, name := range profileFileNames {
		data, err := os.ReadFile(filepath.Join(workspaceRoot, name))
		if err != nil {
			continue
		}
		var p ProfileFile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
	return nil, nil
}

// CLIVariable is one entry in the full, position-annotated variable view
//.
type CLIVariable struct {
	Name     string
	Value    string
	Source   string // "profile", "project", or the variable file path
	FilePath string
	LineNo   int
}

// CLIVariableProvider computes and memoizes the set of variables visible to
// every import resolution: profile-level variables, project-config
// variables, and values extracted from configured variable files.
type CLIVariableProvider struct {
	ctx          *ManagerContext
	introspector Introspector

	mu      sync.Mutex
	built   bool
	list    []CLIVariable
	flatMap map[string]string
}

func NewCLIVariableProvider(ctx *ManagerContext, introspector Introspector) *CLIVariableProvider {
	return &CLIVariableProvider{ctx: ctx, introspector: introspector}
}

// Invalidate forces a rebuild on next read, called when project
// configuration changes.
func (p *CLIVariableProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.built = false
	p.list = nil
	p.flatMap = nil
}

// List returns the full, diagnostics-oriented view, building it lazily on
// first call.
func (p *CLIVariableProvider) List(ctx context.Context) []CLIVariable {
	p.ensureBuilt(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CLIVariable, len(p.list))
	copy(out, p.list)
	return out
}

// Map returns the flat name -> value view used for resolution.
func (p *CLIVariableProvider) Map(ctx context.Context) map[string]string {
	p.ensureBuilt(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.flatMap))
	for k, v := range p.flatMap {
		out[k] = v
	}
	return out
}

func (p *CLIVariableProvider) ensureBuilt(ctx context.Context) {
	p.mu.Lock()
	if p.built {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	list, flat := p.build(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.built {
		return
	}
	p.list = list
	p.flatMap = flat
	p.built = true
}

// build unions profile variables, project-config variables, and variable
// file contents in that order, with later sources overriding earlier ones
// on name collision.
func (p *CLIVariableProvider) build(ctx context.Context) ([]CLIVariable, map[string]string) {
	flat := map[string]string{}
	var list []CLIVariable

	if profile, err := loadProfile(p.ctx.WorkspaceRoot); err != nil {
		clivarsLog.WithError(err).Debug("imports: profile file present but malformed, skipping")
	} else if profile != nil {
		for name, value := range profile.Variables {
			flat[name] = value
			list = append(list, CLIVariable{Name: name, Value: value, Source: "profile"})
		}
	}

	for name, value := range p.ctx.Config.Variables {
		flat[name] = value
		list = append(list, CLIVariable{Name: name, Value: value, Source: "project"})
	}

	for _, file := range p.ctx.Config.VariableFiles {
		vars, err := p.introspectVariableFile(ctx, file)
		if err != nil {
			clivarsLog.WithError(err).WithField("file", file).Debug("imports: variable file introspection failed, skipping")
			continue
		}
		for _, v := range vars.Variables {
			value := ""
			if len(v.Value) > 0 {
				value = v.Value[0]
			}
			flat[v.Name] = value
			list = append(list, CLIVariable{
				Name: v.Name, Value: value, Source: file, FilePath: file, LineNo: v.LineNo,
			})
		}
	}

	return list, flat
}

// introspectVariableFile loads one variable file via the Subprocess
// Introspector, with caching explicitly disabled: this calls
// the Introspector directly, bypassing the Entry Registry and Artifact
// Store entirely.
func (p *CLIVariableProvider) introspectVariableFile(ctx context.Context, file string) (*VariablesDoc, error) {
	if p.introspector == nil {
		return nil, &ResolveFailed{Name: file, Reason: "no introspector configured"}
	}

	result, err := p.introspector.Run(ctx, IntrospectRequest{
		Kind:       KindVariables,
		Name:       file,
		WorkingDir: p.ctx.WorkspaceRoot,
		BaseDir:    p.ctx.WorkspaceRoot,
		Env:        p.ctx.Environment(),
	}, DefaultLibraryTimeout)
	if err != nil {
		return nil, err
	}

	doc, ok := result.Doc.(*VariablesDoc)
	if !ok {
		return nil, &ResolveFailed{Name: file, Reason: "introspector returned unexpected doc type"}
	}
	return doc, nil
}
