package imports

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

var watcherLog = logrus.WithField("component", "imports.watcher")

// watchGlobsForEntry computes the glob set an Entry should subscribe to
// after a successful build.
func watchGlobsForEntry(meta *Meta, searchPath []string) []string {
	if meta == nil {
		globs := make([]string, 0, len(searchPath))
		for _, dir := range searchPath {
			globs = append(globs, filepath.Join(dir, "**"))
		}
		return globs
	}

	if len(meta.SubmoduleSearchLocations) > 0 {
		globs := make([]string, 0, len(meta.SubmoduleSearchLocations))
		for _, loc := range meta.SubmoduleSearchLocations {
			globs = append(globs, filepath.Join(loc, "**"))
		}
		return globs
	}

	if meta.Origin != "" {
		return []string{filepath.Join(filepath.Dir(meta.Origin), "**")}
	}

	globs := make([]string, 0, len(searchPath))
	for _, dir := range searchPath {
		globs = append(globs, filepath.Join(dir, "**"))
	}
	return globs
}

// matchesEntry decides whether a file event falls inside an Entry's watched
// roots, with per-kind rules: a library matches anything under its submodule
// search locations or its origin's parent, a resource only its own file, a
// variables import only its origin. The caller holds e.mu (checkFileChanged),
// so e.meta is read directly rather than through e.Meta().
func matchesEntry(e *Entry, event FileEvent, searchPath []string) bool {
	path := uriToPath(event.URI)
	if path == "" {
		return false
	}

	meta := e.meta

	switch e.Kind {
	case KindResource:
		return meta != nil && meta.Origin != "" && samePath(path, meta.Origin)
	case KindVariables:
		if meta == nil || meta.Origin == "" {
			return withinAny(path, searchPath)
		}
		return samePath(path, meta.Origin)
	default: // KindLibrary
		if meta == nil {
			return withinAny(path, searchPath)
		}
		for _, loc := range meta.SubmoduleSearchLocations {
			if withinDir(path, loc) {
				return true
			}
		}
		if meta.Origin != "" && withinDir(path, filepath.Dir(meta.Origin)) {
			return true
		}
		if meta.Origin == "" {
			return withinAny(path, searchPath)
		}
		return false
	}
}

func withinAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if withinDir(path, d) {
			return true
		}
	}
	return false
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

func uriToPath(uri string) string {
	const filePrefix = "file://"
	if !strings.HasPrefix(uri, filePrefix) {
		return ""
	}
	return strings.TrimPrefix(uri, filePrefix)
}

// FSNotifyWatcher is a concrete FileWatcher backed by fsnotify. It is the langserver-facing
// collaborator the Imports Manager core is built against only through the
// FileWatcher interface.
type FSNotifyWatcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchedBy map[string]int // directory -> subscriber count
	subs      map[*watchSubscription]struct{}
}

type watchSubscription struct {
	globs    []string
	callback func([]FileEvent)
}

func NewFSNotifyWatcher() (*FSNotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FSNotifyWatcher{
		watcher:   w,
		watchedBy: map[string]int{},
		subs:      map[*watchSubscription]struct{}{},
	}
	go fw.loop()
	return fw, nil
}

func (fw *FSNotifyWatcher) loop() {
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.dispatch(ev)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			watcherLog.WithError(err).Warn("imports: fsnotify error")
		}
	}
}

func (fw *FSNotifyWatcher) dispatch(ev fsnotify.Event) {
	var changeType FileChangeType
	switch {
	case ev.Op&fsnotify.Create != 0:
		changeType = FileCreated
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		changeType = FileDeleted
	case ev.Op&fsnotify.Write != 0:
		changeType = FileChanged
	default:
		return
	}

	event := FileEvent{URI: "file://" + ev.Name, Type: changeType}

	fw.mu.Lock()
	subs := make([]*watchSubscription, 0, len(fw.subs))
	for s := range fw.subs {
		subs = append(subs, s)
	}
	fw.mu.Unlock()

	for _, s := range subs {
		if s.matches(ev.Name) {
			s.callback([]FileEvent{event})
		}
	}
}

func (s *watchSubscription) matches(path string) bool {
	for _, g := range s.globs {
		dir := strings.TrimSuffix(g, "**")
		dir = strings.TrimSuffix(dir, string(filepath.Separator))
		if withinDir(path, dir) {
			return true
		}
	}
	return false
}

// Register subscribes globs by watching each glob's root directory only
// (fsnotify has no native recursive watch). Subdirectories of that root are
// not added, so changes to files nested below it produce no events.
func (fw *FSNotifyWatcher) Register(globs []string, callback func([]FileEvent)) FileWatcherHandle {
	sub := &watchSubscription{globs: globs, callback: callback}

	fw.mu.Lock()
	fw.subs[sub] = struct{}{}
	for _, g := range globs {
		dir := strings.TrimSuffix(g, "**")
		dir = strings.TrimSuffix(dir, string(filepath.Separator))
		fw.watchedBy[dir]++
		if fw.watchedBy[dir] == 1 {
			if err := fw.watcher.Add(dir); err != nil {
				watcherLog.WithError(err).WithField("dir", dir).Debug("imports: failed to watch directory")
			}
		}
	}
	fw.mu.Unlock()

	return sub
}

func (fw *FSNotifyWatcher) Unregister(handle FileWatcherHandle) {
	sub, ok := handle.(*watchSubscription)
	if !ok {
		return
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	delete(fw.subs, sub)
	for _, g := range sub.globs {
		dir := strings.TrimSuffix(g, "**")
		dir = strings.TrimSuffix(dir, string(filepath.Separator))
		fw.watchedBy[dir]--
		if fw.watchedBy[dir] <= 0 {
			delete(fw.watchedBy, dir)
			fw.watcher.Remove(dir) //nolint:errcheck
		}
	}
}

func (fw *FSNotifyWatcher) Close() error {
	return fw.watcher.Close()
}
