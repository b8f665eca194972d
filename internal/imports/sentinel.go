package imports

import "github.com/google/uuid"

// Sentinel is a ready-made opaque pin for callers that have no natural
// AST-node-like object to hand the Facade as the "sentinel" that lifetime-
// pins an Entry. It is a pointer type so
// runtime.SetFinalizer can arm a reclamation hook on it exactly as it would
// on a caller's own object.
//
// Call sites that need a throwaway sentinel identity can use NewSentinel
// instead of inventing their own marker type; any pointer value works as a
// sentinel (the package's own tests use new(int)).
type Sentinel struct {
	id uuid.UUID
}

// NewSentinel mints a fresh, globally unique Sentinel.
func NewSentinel() *Sentinel {
	return &Sentinel{id: uuid.New()}
}

// String returns the Sentinel's underlying UUID, useful for log correlation.
func (s *Sentinel) String() string {
	return s.id.String()
}
