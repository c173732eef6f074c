package convert

import (
	"context"
	"sync"
)

// Loader builds a converter, loading whatever models it needs.
type Loader func(ctx context.Context) (Converter, error)

// Lazy memoizes the first successful Loader result for the lifetime of the
// process. A failed load is not remembered; the next Get tries again.
//
// loadMu serializes loads; mu only guards the result, so Loaded and Loads
// answer while a slow load is in progress.
type Lazy struct {
	load Loader

	loadMu sync.Mutex

	mu    sync.RWMutex
	conv  Converter
	loads int
}

func NewLazy(load Loader) *Lazy {
	return &Lazy{load: load}
}

// Ready wraps an already constructed converter.
func Ready(c Converter) *Lazy {
	return &Lazy{conv: c, loads: 1}
}

func (l *Lazy) current() Converter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conv
}

func (l *Lazy) Get(ctx context.Context) (Converter, error) {
	if c := l.current(); c != nil {
		return c, nil
	}

	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	// another caller may have finished loading while we waited
	if c := l.current(); c != nil {
		return c, nil
	}
	c, err := l.load(ctx)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.conv = c
	l.loads++
	l.mu.Unlock()
	return c, nil
}

// Loaded reports whether the converter has been created. It never waits for a load.
func (l *Lazy) Loaded() bool {
	return l.current() != nil
}

// Loads returns how many times the loader succeeded. It never exceeds 1.
func (l *Lazy) Loads() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loads
}
