package runtime

import (
	"bytes"
	stdruntime "runtime"
	"strconv"
	"sync"

	"github.com/wippyai/js-runtime/errors"
)

// gate serializes engine access. Waiters are handed the gate in arrival
// order, so a steady stream of short holders cannot starve a long waiter.
// The owning goroutine is recorded so a nested Enter from inside a host
// callback recognizes the lock is already its own.
type gate struct {
	mu      sync.Mutex
	held    bool
	owner   uint64
	waiters []chan struct{}
}

func (g *gate) acquire() {
	id := goid()
	g.mu.Lock()
	if !g.held {
		g.held = true
		g.owner = id
		g.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()
	<-ch
	g.mu.Lock()
	g.owner = id
	g.mu.Unlock()
}

func (g *gate) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return false
	}
	g.held = true
	g.owner = goid()
	return true
}

// release either parks the gate or hands it directly to the oldest waiter.
// Handoff keeps held set, so a late tryAcquire cannot jump the queue; the
// waiter stamps itself as owner when it wakes.
func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.owner = 0
	if len(g.waiters) > 0 {
		ch := g.waiters[0]
		g.waiters = g.waiters[1:]
		close(ch)
		return
	}
	g.held = false
}

func (g *gate) heldBy(id uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held && g.owner == id
}

// goid reads the current goroutine id out of the stack trace header, which
// starts "goroutine N [state]:". There is no exported accessor for it.
func goid() uint64 {
	var buf [64]byte
	n := stdruntime.Stack(buf[:], false)
	s := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, _ := strconv.ParseUint(string(s), 10, 64)
	return id
}

// Guard is the token proving exclusive engine access. It is only valid
// inside the Enter callback that produced it; storing one past the
// callback and using it later is a caller bug.
type Guard struct {
	rt *Runtime
}

// Runtime returns the runtime this guard locks.
func (g *Guard) Runtime() *Runtime {
	return g.rt
}

// Enter runs fn with exclusive access to the engine. Concurrent callers
// queue and are admitted in FIFO order. Enter is reentrant on the owning
// goroutine: a host callback fired mid-evaluation can call back into the
// public API and fn runs directly under the already-held gate.
func (r *Runtime) Enter(fn func(*Guard) error) error {
	if r.gate.heldBy(goid()) {
		return fn(r.currentGuard())
	}
	if r.isClosed() {
		return errors.Shutdown("enter")
	}

	r.gate.acquire()
	g := &Guard{rt: r}
	r.setActive(g)
	defer func() {
		r.setActive(nil)
		r.gate.release()
	}()
	return fn(g)
}

// TryEnter is Enter without blocking: if another goroutine holds the
// engine it returns a busy error immediately. The owning goroutine is
// never busy against itself.
func (r *Runtime) TryEnter(fn func(*Guard) error) error {
	if r.gate.heldBy(goid()) {
		return fn(r.currentGuard())
	}
	if r.isClosed() {
		return errors.Shutdown("enter")
	}

	if !r.gate.tryAcquire() {
		return errors.Busy("engine held by another goroutine")
	}
	g := &Guard{rt: r}
	r.setActive(g)
	defer func() {
		r.setActive(nil)
		r.gate.release()
	}()
	return fn(g)
}

func (r *Runtime) setActive(g *Guard) {
	r.mu.Lock()
	r.active = g
	r.mu.Unlock()
}

func (r *Runtime) currentGuard() *Guard {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// reenter runs fn on behalf of a host callback fired by the engine. The
// engine only executes while some goroutine holds the gate, so the lock
// is already ours and fn runs directly; re-acquiring would deadlock.
func (r *Runtime) reenter(fn func() error) error {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == nil {
		return errors.InvalidInput(errors.PhaseEval, "host callback invoked outside engine execution")
	}
	return fn()
}
