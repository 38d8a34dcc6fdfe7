// Package comm provides the communication substrate for the lattice
// runtime: a world of ranks with tagged point-to-point messaging,
// non-blocking send/receive requests, barriers, and cross-rank reductions.
//
// The in-process World runs every rank as a goroutine over channel
// mailboxes. The Transport surface is the same rank/size/send/receive shape
// an MPI-backed transport would present, so a networked implementation can
// be substituted without touching the callers.
package comm

import (
	"fmt"
	"sync"
)

// CommunicationError reports a transport failure or a payload that does not
// match what the receiver expected. There is no degraded continuation for a
// broken exchange; callers treat it as fatal to the run.
type CommunicationError struct {
	Op     string
	Detail string
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication: %s: %s", e.Op, e.Detail)
}

// World is an in-process group of ranks connected by channel mailboxes.
// Create one per run; each rank's view is a *Comm.
type World struct {
	size  int
	comms []*Comm

	mu    sync.Mutex
	boxes map[msgKey]chan []byte

	bar barrier
}

type msgKey struct {
	src, dst, tag int
}

// mailboxDepth bounds outstanding messages per (src, dst, tag) channel. The
// exchange protocol keeps at most one message in flight per key.
const mailboxDepth = 4

// NewWorld creates a world of the given size.
func NewWorld(size int) *World {
	if size < 1 {
		panic(fmt.Sprintf("comm: world size %d", size))
	}
	w := &World{
		size:  size,
		boxes: make(map[msgKey]chan []byte),
	}
	w.bar.size = size
	w.bar.cond = sync.NewCond(&w.bar.mu)
	w.comms = make([]*Comm, size)
	for r := 0; r < size; r++ {
		w.comms[r] = &Comm{world: w, rank: r}
	}
	return w
}

// Size returns the number of ranks.
func (w *World) Size() int { return w.size }

// Comm returns the view for one rank.
func (w *World) Comm(rank int) *Comm {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("comm: rank %d out of range [0,%d)", rank, w.size))
	}
	return w.comms[rank]
}

// Run executes fn once per rank, each in its own goroutine, and waits for
// all of them. This is the standard driver for tests and in-process runs.
func (w *World) Run(fn func(c *Comm)) {
	var wg sync.WaitGroup
	wg.Add(w.size)
	for r := 0; r < w.size; r++ {
		go func(c *Comm) {
			defer wg.Done()
			fn(c)
		}(w.comms[r])
	}
	wg.Wait()
}

func (w *World) box(k msgKey) chan []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.boxes[k]
	if !ok {
		ch = make(chan []byte, mailboxDepth)
		w.boxes[k] = ch
	}
	return ch
}

// Comm is one rank's endpoint in a World. Methods may be called from the
// rank's goroutine; a Comm must not be shared between ranks.
type Comm struct {
	world *World
	rank  int

	collSeq   int          // collective sequence number, advanced lockstep on every rank
	pending   []*Reduction // delayed reductions queued for one batched combine
	tagCursor int
}

// AllocTagBlock reserves n consecutive message tags for a higher layer
// (one field's exchange channels, for example). Ranks that allocate blocks
// in the same order receive matching tags; that ordering is part of the
// collective caller contract.
func (c *Comm) AllocTagBlock(n int) int {
	base := c.tagCursor
	c.tagCursor += n
	if c.tagCursor >= tagCollective {
		panic("comm: tag space exhausted")
	}
	return base
}

// Rank returns this endpoint's rank.
func (c *Comm) Rank() int { return c.rank }

// Size returns the world size.
func (c *Comm) Size() int { return c.world.size }

// Send delivers buf to the destination rank under the given tag. The buffer
// is copied; the caller may reuse it immediately.
func (c *Comm) Send(to, tag int, buf []byte) error {
	if to < 0 || to >= c.world.size {
		return &CommunicationError{Op: "send", Detail: fmt.Sprintf("destination rank %d", to)}
	}
	payload := append([]byte(nil), buf...)
	c.world.box(msgKey{src: c.rank, dst: to, tag: tag}) <- payload
	return nil
}

// Recv blocks until a message from the source rank under the given tag
// arrives and returns its payload.
func (c *Comm) Recv(from, tag int) ([]byte, error) {
	if from < 0 || from >= c.world.size {
		return nil, &CommunicationError{Op: "recv", Detail: fmt.Sprintf("source rank %d", from)}
	}
	return <-c.world.box(msgKey{src: from, dst: c.rank, tag: tag}), nil
}

// Request is the handle of a non-blocking send or receive. A request always
// eventually completes; there is no cancellation.
type Request struct {
	done chan struct{}
	data []byte
	err  error
}

func newRequest() *Request { return &Request{done: make(chan struct{})} }

// Wait blocks until the operation completes. For receives it returns the
// payload.
func (r *Request) Wait() ([]byte, error) {
	<-r.done
	return r.data, r.err
}

// Done reports whether the request has completed without blocking.
func (r *Request) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Isend starts a non-blocking send and returns its request handle.
func (c *Comm) Isend(to, tag int, buf []byte) *Request {
	req := newRequest()
	payload := append([]byte(nil), buf...)
	go func() {
		defer close(req.done)
		if to < 0 || to >= c.world.size {
			req.err = &CommunicationError{Op: "isend", Detail: fmt.Sprintf("destination rank %d", to)}
			return
		}
		c.world.box(msgKey{src: c.rank, dst: to, tag: tag}) <- payload
	}()
	return req
}

// Irecv starts a non-blocking receive and returns its request handle.
func (c *Comm) Irecv(from, tag int) *Request {
	req := newRequest()
	go func() {
		defer close(req.done)
		if from < 0 || from >= c.world.size {
			req.err = &CommunicationError{Op: "irecv", Detail: fmt.Sprintf("source rank %d", from)}
			return
		}
		req.data = <-c.world.box(msgKey{src: from, dst: c.rank, tag: tag})
	}()
	return req
}

// Barrier blocks until every rank in the world has entered it.
func (c *Comm) Barrier() {
	c.world.bar.await()
}

// barrier is a reusable generation-counting barrier.
type barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	size  int
	count int
	gen   int
}

func (b *barrier) await() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.count++
	if b.count == b.size {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}
