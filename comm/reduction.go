package comm

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Op is the associative combine applied across ranks.
type Op int

const (
	OpSum Op = iota
	OpMin
	OpMax
	OpProd
)

func (op Op) String() string {
	switch op {
	case OpSum:
		return "sum"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpProd:
		return "prod"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

func (op Op) combine(a, b float64) float64 {
	switch op {
	case OpMin:
		return math.Min(a, b)
	case OpMax:
		return math.Max(a, b)
	case OpProd:
		return a * b
	}
	return a + b
}

// Root is the rank holding the combined value when allreduce is off.
const Root = 0

// tagCollective reserves a tag block for internal collectives, away from
// field-exchange tags.
const tagCollective = 1 << 24

// nextCollTag advances the collective sequence number. Every rank must
// enter collectives the same number of times in the same order; the
// sequence numbers then agree across ranks and each collective gets a
// matched tag.
func (c *Comm) nextCollTag() int {
	c.collSeq++
	return tagCollective + c.collSeq
}

// ReduceFloats combines one value vector across all ranks. The combine is a
// fixed linear gather to Root in rank order followed by a broadcast when
// allreduce is set; the tree shape never varies between runs, so results
// are bit-reproducible for a fixed world size. ops holds the combine per
// element; a single-element ops slice applies to the whole vector.
//
// Every rank must call ReduceFloats the same number of times in the same
// relative order; that discipline is a caller contract, not checked here.
func (c *Comm) ReduceFloats(vals []float64, ops []Op, allreduce bool) ([]float64, error) {
	out := append([]float64(nil), vals...)
	if c.world.size == 1 {
		return out, nil
	}
	opAt := func(i int) Op {
		if len(ops) == 1 {
			return ops[0]
		}
		return ops[i]
	}
	tag := c.nextCollTag()
	if c.rank == Root {
		for src := 1; src < c.world.size; src++ {
			buf, err := c.Recv(src, tag)
			if err != nil {
				return nil, err
			}
			part, err := bytesToFloats(buf)
			if err != nil {
				return nil, err
			}
			if len(part) != len(out) {
				return nil, &CommunicationError{
					Op:     "reduce",
					Detail: fmt.Sprintf("rank %d sent %d values, expected %d", src, len(part), len(out)),
				}
			}
			if allSum(ops) {
				floats.Add(out, part)
			} else {
				for i := range out {
					out[i] = opAt(i).combine(out[i], part[i])
				}
			}
		}
		if allreduce {
			buf := floatsToBytes(out)
			for dst := 1; dst < c.world.size; dst++ {
				if err := c.Send(dst, tag, buf); err != nil {
					return nil, err
				}
			}
		}
		return out, nil
	}
	if err := c.Send(Root, tag, floatsToBytes(out)); err != nil {
		return nil, err
	}
	if allreduce {
		buf, err := c.Recv(Root, tag)
		if err != nil {
			return nil, err
		}
		res, err := bytesToFloats(buf)
		if err != nil {
			return nil, err
		}
		if len(res) != len(out) {
			return nil, &CommunicationError{
				Op:     "reduce",
				Detail: fmt.Sprintf("broadcast carried %d values, expected %d", len(res), len(out)),
			}
		}
		return res, nil
	}
	// allreduce off: only Root holds the combined value, others keep the
	// local partial.
	return out, nil
}

func allSum(ops []Op) bool {
	for _, op := range ops {
		if op != OpSum {
			return false
		}
	}
	return true
}

func floatsToBytes(vals []float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func bytesToFloats(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, &CommunicationError{Op: "decode", Detail: fmt.Sprintf("payload of %d bytes", len(buf))}
	}
	vals := make([]float64, len(buf)/8)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return vals, nil
}

// Reduction accumulates a rank-local scalar partial and combines it across
// all ranks on Value. By default every Value call is its own collective and
// the result lands on every rank.
//
// With SetDelayed(true) the combine is queued by StartReduce and merged
// with every other queued reduction into a single collective when any of
// their Values is read, amortizing latency in inner loops.
type Reduction struct {
	c  *Comm
	op Op

	local     float64
	allreduce bool
	delayed   bool

	queued bool
	valid  bool
	result float64
}

// NewReduction creates a sum reduction over the given endpoint.
func NewReduction(c *Comm) *Reduction { return NewReductionOp(c, OpSum) }

// NewReductionOp creates a reduction with an explicit combine op.
func NewReductionOp(c *Comm, op Op) *Reduction {
	r := &Reduction{c: c, op: op, allreduce: true}
	r.Reset()
	return r
}

// SetAllreduce controls whether the combined value is broadcast to every
// rank (default) or left on Root only, with other ranks reading their local
// partial.
func (r *Reduction) SetAllreduce(on bool) { r.allreduce = on }

// SetDelayed switches the reduction to batched combining.
func (r *Reduction) SetDelayed(on bool) { r.delayed = on }

// Reset clears the local partial to the op's identity.
func (r *Reduction) Reset() {
	switch r.op {
	case OpMin:
		r.local = math.Inf(1)
	case OpMax:
		r.local = math.Inf(-1)
	case OpProd:
		r.local = 1
	default:
		r.local = 0
	}
	r.queued = false
	r.valid = false
}

// Add folds a per-site contribution into the rank-local partial.
func (r *Reduction) Add(v float64) {
	r.local = r.op.combine(r.local, v)
	r.valid = false
}

// Local returns the rank-local partial without any communication.
func (r *Reduction) Local() float64 { return r.local }

// StartReduce queues a delayed reduction for the next batched combine. It
// is a no-op for immediate reductions and for already-queued ones.
func (r *Reduction) StartReduce() {
	if !r.delayed || r.queued || r.valid {
		return
	}
	r.queued = true
	r.c.pending = append(r.c.pending, r)
}

// Value returns the globally combined result. Immediate reductions perform
// their own collective; delayed reductions flush the whole queue as one
// collective the first time any queued value is read. Every rank must read
// values in the same relative order.
func (r *Reduction) Value() (float64, error) {
	if r.valid {
		return r.result, nil
	}
	if r.delayed {
		r.StartReduce()
		if err := r.c.flushPending(); err != nil {
			return 0, err
		}
		return r.result, nil
	}
	out, err := r.c.ReduceFloats([]float64{r.local}, []Op{r.op}, r.allreduce)
	if err != nil {
		return 0, err
	}
	r.result = out[0]
	r.valid = true
	return r.result, nil
}

// flushPending merges every queued delayed reduction into one collective.
func (c *Comm) flushPending() error {
	if len(c.pending) == 0 {
		return nil
	}
	vals := make([]float64, len(c.pending))
	ops := make([]Op, len(c.pending))
	for i, r := range c.pending {
		vals[i] = r.local
		ops[i] = r.op
	}
	// The batch is always combined with a broadcast; reductions configured
	// with allreduce off keep their local partial on non-root ranks.
	out, err := c.ReduceFloats(vals, ops, true)
	if err != nil {
		return err
	}
	for i, r := range c.pending {
		if !r.allreduce && c.rank != Root {
			r.result = r.local
		} else {
			r.result = out[i]
		}
		r.valid = true
		r.queued = false
	}
	c.pending = c.pending[:0]
	return nil
}

// ReductionVector accumulates an indexed vector of scalars and combines it
// elementwise across ranks in a single collective.
type ReductionVector struct {
	c  *Comm
	op Op

	local     []float64
	allreduce bool

	valid  bool
	result []float64
}

// NewReductionVector creates a sum reduction over n indexed slots.
func NewReductionVector(c *Comm, n int) *ReductionVector {
	return &ReductionVector{c: c, op: OpSum, local: make([]float64, n), allreduce: true}
}

// SetAllreduce mirrors Reduction.SetAllreduce.
func (r *ReductionVector) SetAllreduce(on bool) { r.allreduce = on }

// Len returns the number of slots.
func (r *ReductionVector) Len() int { return len(r.local) }

// Add folds a contribution into slot i.
func (r *ReductionVector) Add(i int, v float64) {
	r.local[i] = r.op.combine(r.local[i], v)
	r.valid = false
}

// Value combines the vector across ranks and returns the result. The
// returned slice is owned by the reduction; callers must not mutate it.
func (r *ReductionVector) Value() ([]float64, error) {
	if r.valid {
		return r.result, nil
	}
	out, err := r.c.ReduceFloats(r.local, []Op{r.op}, r.allreduce)
	if err != nil {
		return nil, err
	}
	r.result = out
	r.valid = true
	return r.result, nil
}
