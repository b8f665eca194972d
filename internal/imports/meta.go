package imports

import (
	"hash/adler32"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var metaLog = logrus.WithField("component", "imports.fingerprinter")

// sourceGlob is the file extension of the files whose mtimes are collected,
// recursively, under a submodule search location; isPathLike also treats a
// library or variables name with this extension as a path.
const sourceGlob = ".py"

// Meta is the identity-plus-freshness descriptor persisted alongside each
// artifact. Two Meta values are equal iff every field matches, including
// the full Mtimes map; callers compare with Equal.
type Meta struct {
	MetaVersion              string           `json:"metaVersion"`
	Name                     string           `json:"name,omitempty"`
	MemberName               string           `json:"memberName,omitempty"`
	Origin                   string           `json:"origin,omitempty"`
	SubmoduleSearchLocations []string         `json:"submoduleSearchLocations,omitempty"`
	ByPath                   bool             `json:"byPath"`
	Mtimes                   map[string]int64 `json:"mtimes,omitempty"`
}

// Equal reports whether two Meta values are identical, including the full
// Mtimes map.
func (m *Meta) Equal(other *Meta) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.MetaVersion != other.MetaVersion ||
		m.Name != other.Name ||
		m.MemberName != other.MemberName ||
		m.Origin != other.Origin ||
		m.ByPath != other.ByPath {
		return false
	}
	if !equalStringSlices(m.SubmoduleSearchLocations, other.SubmoduleSearchLocations) {
		return false
	}
	if len(m.Mtimes) != len(other.Mtimes) {
		return false
	}
	for k, v := range m.Mtimes {
		if ov, ok := other.Mtimes[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FilepathBase is the deterministic stem the Artifact Store uses to name a
// pair of meta/spec files: for path imports, the Adler-32 of the parent
// directory plus the origin's stem; for module imports, the dotted name
// with "." mapped to "/", optionally suffixed by the member name.
func (m *Meta) FilepathBase() (string, error) {
	if m.ByPath {
		if m.Origin == "" {
			return "", &ResolveFailed{Name: m.Name, Reason: "path import has no origin"}
		}
		parent := filepath.Dir(m.Origin)
		stem := strings.TrimSuffix(filepath.Base(m.Origin), filepath.Ext(m.Origin))
		sum := adler32.Checksum([]byte(parent))
		return hex32(sum) + "_" + stem, nil
	}

	if m.Name == "" {
		return "", &ResolveFailed{Name: m.Name, Reason: "cannot determine filepath base"}
	}
	base := strings.ReplaceAll(m.Name, ".", "/")
	if m.MemberName != "" {
		base += "." + m.MemberName
	}
	return base, nil
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = digits[v&0xf]
		v >>= 4
	}
	return string(out)
}

// isPathLike decides whether name should be treated as a filesystem path
// literal rather than a module name: it has a path
// separator, or a known extension for the kind.
func isPathLike(kind Kind, name string, domain DomainVersion) bool {
	if strings.ContainsAny(name, "/\\") {
		return true
	}
	switch kind {
	case KindResource:
		ext := strings.ToLower(filepath.Ext(name))
		for _, allowed := range domain.ResourceExtensions() {
			if ext == allowed {
				return true
			}
		}
		return false
	default:
		return strings.EqualFold(filepath.Ext(name), sourceGlob)
	}
}

// Fingerprinter computes a Meta for an import target and decides whether it
// is cacheable.
type Fingerprinter struct {
	ctx *ManagerContext
}

func NewFingerprinter(ctx *ManagerContext) *Fingerprinter {
	return &Fingerprinter{ctx: ctx}
}

// Fingerprint resolves identity for name and produces a Meta, or reports the
// import as ignored or uncacheable by returning (nil, nil): still usable for
// a transient build, never persisted to disk.
func (f *Fingerprinter) Fingerprint(kind Kind, name string, resolvedName string) (*Meta, error) {
	var meta *Meta

	if isPathLike(kind, resolvedName, f.ctx.DomainVersion) {
		info, err := os.Stat(resolvedName)
		if err != nil {
			metaLog.WithFields(logrus.Fields{"name": name, "origin": resolvedName}).Debug("imports: identity could not be established, uncacheable")
			return nil, nil
		}
		if info.IsDir() {
			return nil, nil
		}
		stem := strings.TrimSuffix(filepath.Base(resolvedName), filepath.Ext(resolvedName))
		meta = &Meta{MetaVersion: MetaVersion, Name: stem, Origin: resolvedName, ByPath: true}
	} else {
		if f.ctx.ModuleSpecResolver == nil {
			return nil, nil
		}
		spec, err := f.ctx.ModuleSpecResolver.Lookup(resolvedName)
		if err != nil || spec == nil || spec.Origin == "" {
			metaLog.WithFields(logrus.Fields{"name": name}).Debug("imports: identity could not be established, uncacheable")
			return nil, nil
		}
		meta = &Meta{
			MetaVersion:              MetaVersion,
			Name:                     spec.Name,
			MemberName:               spec.MemberName,
			Origin:                   spec.Origin,
			SubmoduleSearchLocations: spec.SubmoduleSearchLocations,
			ByPath:                   false,
		}
	}

	if f.isIgnored(kind, meta) {
		metaLog.WithFields(logrus.Fields{"name": meta.Name, "origin": meta.Origin}).Debug("imports: ignored by configured pattern, uncacheable")
		return nil, nil
	}

	mtimes, err := f.collectMtimes(meta)
	if err != nil {
		metaLog.WithError(err).WithFields(logrus.Fields{"name": meta.Name, "origin": meta.Origin}).Debug("imports: mtimes could not be collected, uncacheable")
		return nil, nil
	}
	meta.Mtimes = mtimes

	return meta, nil
}

func (f *Fingerprinter) isIgnored(kind Kind, meta *Meta) bool {
	var patterns []string
	switch kind {
	case KindLibrary:
		patterns = f.ctx.Config.IgnoredLibraries
	case KindVariables:
		patterns = f.ctx.Config.IgnoredVariables
	}
	for _, p := range patterns {
		if globMatch(p, meta.Name) || globMatch(p, meta.Origin) {
			return true
		}
	}
	return false
}

func globMatch(pattern, value string) bool {
	if pattern == "" || value == "" {
		return false
	}
	ok, err := filepath.Match(pattern, value)
	return err == nil && ok
}

func (f *Fingerprinter) collectMtimes(meta *Meta) (map[string]int64, error) {
	mtimes := map[string]int64{}

	if meta.Origin != "" {
		info, err := os.Stat(meta.Origin)
		if err != nil {
			return nil, &CacheIoError{Path: meta.Origin, Cause: err}
		}
		mtimes[meta.Origin] = info.ModTime().UnixNano()
	}

	for _, loc := range meta.SubmoduleSearchLocations {
		_ = filepath.WalkDir(loc, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(path), sourceGlob) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			mtimes[path] = info.ModTime().UnixNano()
			return nil
		})
	}

	return mtimes, nil
}
