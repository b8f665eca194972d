package imports

import (
	"reflect"
	"runtime"
	"sync"
)

// sentinelTable arms at most one finalizer per sentinel object and fans the
// reclamation out to every reference that sentinel pins, across all kinds.
// runtime.SetFinalizer panics on a second registration for the same object,
// so the table is shared by all registries through ManagerContext.
//
// The table is keyed by the sentinel's pointer value, which does not keep
// the sentinel alive; the entry is dropped inside the finalizer, before the
// runtime can ever reuse the address for a new allocation.
type sentinelTable struct {
	mu    sync.Mutex
	hooks map[uintptr][]func()
}

// add records release to run when sentinel is reclaimed. It reports false
// for a sentinel the runtime cannot finalize (a non-pointer value); such a
// sentinel never releases its references, which degrades to a pin.
func (t *sentinelTable) add(sentinel any, release func()) bool {
	p := sentinelPointer(sentinel)
	if p == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hooks == nil {
		t.hooks = map[uintptr][]func(){}
	}
	if _, armed := t.hooks[p]; armed {
		t.hooks[p] = append(t.hooks[p], release)
		return true
	}
	t.hooks[p] = []func(){release}
	runtime.SetFinalizer(sentinel, func(any) {
		t.reclaim(p)
	})
	return true
}

func (t *sentinelTable) reclaim(p uintptr) {
	t.mu.Lock()
	releases := t.hooks[p]
	delete(t.hooks, p)
	t.mu.Unlock()

	for _, release := range releases {
		release()
	}
}

func sentinelPointer(sentinel any) uintptr {
	v := reflect.ValueOf(sentinel)
	if v.Kind() == reflect.Pointer {
		return v.Pointer()
	}
	return 0
}
