package imports

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// docsEvent is the explicit subscriber-list multicast primitive the original
// source used a small "multicast" decorator for. Handlers are invoked outside the guarding mutex and a
// panicking handler never prevents its siblings from running.
type docsEvent[T any] struct {
	mu       sync.Mutex
	handlers []func(T)
}

func (e *docsEvent[T]) Add(handler func(T)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

func (e *docsEvent[T]) Fire(value T) {
	e.mu.Lock()
	handlers := make([]func(T), len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	for _, h := range handlers {
		invokeEventHandler(h, value)
	}
}

func invokeEventHandler[T any](handler func(T), value T) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("imports: event handler panicked")
		}
	}()
	handler(value)
}
