// Package loader is the progress indicator capability invoked around
// every outbound call. Implementations MUST be safe to no-op.
package loader

import "sync"

// Token identifies one unit of in-flight work.
type Token uint64

// Loader brackets an outbound call: Work when it starts, Terminate when
// it resolves or fails.
type Loader interface {
	Work() Token
	Terminate(tok Token)
}

// Noop is the silent loader.
type Noop struct{}

func (Noop) Work() Token     { return 0 }
func (Noop) Terminate(Token) {}

// Counting tracks in-flight work, e.g. to drive a spinner or assert
// loader bracketing in tests.
type Counting struct {
	lk     sync.Mutex
	next   Token
	active map[Token]struct{}
	worked int
}

func NewCounting() *Counting {
	return &Counting{active: make(map[Token]struct{})}
}

func (c *Counting) Work() Token {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.next++
	c.active[c.next] = struct{}{}
	c.worked++
	return c.next
}

func (c *Counting) Terminate(tok Token) {
	c.lk.Lock()
	defer c.lk.Unlock()
	delete(c.active, tok)
}

// Active is how many units of work are currently in flight.
func (c *Counting) Active() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return len(c.active)
}

// Worked is how many units of work have ever started.
func (c *Counting) Worked() int {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.worked
}
