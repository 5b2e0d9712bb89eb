package routine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Routine is a long-running unit of work.
// Start blocks until the routine has finished; Stop signals it to finish and
// blocks until Start has returned.
type Routine interface {
	Start()
	Stop()
}

// Group runs several routines side by side.
type Group struct {
	routines []Routine
}

// NewGroup builds a group. Nil routines are ignored.
func NewGroup(routines ...Routine) *Group {
	g := &Group{routines: make([]Routine, 0, len(routines))}
	for _, r := range routines {
		if r != nil {
			g.routines = append(g.routines, r)
		}
	}
	return g
}

// Start starts every member in its own goroutine and blocks until all of them returned.
func (g *Group) Start() {
	var wg sync.WaitGroup
	for _, r := range g.routines {
		wg.Add(1)
		go func(r Routine) {
			defer wg.Done()
			r.Start()
		}(r)
	}
	wg.Wait()
}

// Stop stops every member concurrently and blocks until all of them acknowledged.
func (g *Group) Stop() {
	var wg sync.WaitGroup
	for _, r := range g.routines {
		wg.Add(1)
		go func(r Routine) {
			defer wg.Done()
			r.Stop()
		}(r)
	}
	wg.Wait()
}

// Run starts the routines as a group and stops them once ctx is done.
// It returns when every routine has returned.
func Run(ctx context.Context, routines ...Routine) error {
	group := NewGroup(routines...)
	done := make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		group.Start()
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			group.Stop()
		case <-done:
		}
		return nil
	})

	return g.Wait()
}
