package schemadb

import "context"

// gate runs a one-time initialization in the background and lets any number
// of callers wait for its outcome.
type gate struct {
	done chan struct{}
	err  error
}

func startGate(init func() error) *gate {
	g := &gate{done: make(chan struct{})}
	go func() {
		defer close(g.done)
		g.err = init()
	}()
	return g
}

// wait blocks until initialization finishes and returns its error. After
// completion it returns immediately.
func (g *gate) wait(ctx context.Context) error {
	select {
	case <-g.done:
		return g.err
	default:
	}
	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) isDone() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}
