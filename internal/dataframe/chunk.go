package dataframe

import (
	"context"
	"io"
)

// Chunk is one unit of sync work: a row batch labeled with its
// position in the (possibly nested) generator tree it came from, per
// spec section 4.4: "The pipeline consumes lazily depth-first and
// preserves the (batch_ix, chunk_ix) identity if the source labels its
// chunks."
type Chunk struct {
	Batch      *Batch
	BatchIndex int
	ChunkIndex int
}

// Element is one item yielded by a Source: either a leaf Batch or a
// nested Source (a generator of further elements), never both.
type Element struct {
	Batch  *Batch
	Nested Source
}

// Source is a lazy chunk generator. Next returns io.EOF when
// exhausted. Implementations must be safe to call sequentially from a
// single goroutine; the pipeline does not call Next concurrently on
// the same Source.
type Source interface {
	Next(ctx context.Context) (Element, error)
}

// SliceSource is the simplest Source: a fixed, in-memory list of
// batches. Useful for tests and for connectors that already have all
// their rows in hand.
type SliceSource struct {
	batches []*Batch
	pos     int
}

// NewSliceSource builds a Source that yields each batch in order.
func NewSliceSource(batches ...*Batch) *SliceSource {
	return &SliceSource{batches: batches}
}

func (s *SliceSource) Next(_ context.Context) (Element, error) {
	if s.pos >= len(s.batches) {
		return Element{}, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return Element{Batch: b}, nil
}

// NestedSource wraps a list of child Sources, so a fetch can return
// "a generator whose elements are themselves generators" (section 4.4).
type NestedSource struct {
	children []Source
	pos      int
}

// NewNestedSource builds a Source whose elements are each themselves a Source.
func NewNestedSource(children ...Source) *NestedSource {
	return &NestedSource{children: children}
}

func (n *NestedSource) Next(_ context.Context) (Element, error) {
	if n.pos >= len(n.children) {
		return Element{}, io.EOF
	}
	c := n.children[n.pos]
	n.pos++
	return Element{Nested: c}, nil
}

// Drain flattens a (possibly nested) Source into a sequence of labeled
// Chunks, calling emit for each in depth-first order. It consumes
// every element exactly once (testable property 6: "Chunk generators
// are consumed exactly once; a nested generator yielding N x M chunks
// produces N x M apply operations").
//
// A leaf Batch encountered directly at the outer Source is its own
// batch of one chunk. A Nested Source encountered at the outer level
// opens a new batch index; every leaf it yields is a chunk within that
// batch, numbered from zero.
//
// emit returning an error stops the drain and propagates the error.
func Drain(ctx context.Context, src Source, emit func(Chunk) error) error {
	batchIx := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		el, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if el.Nested != nil {
			chunkIx := 0
			if err := drainNested(ctx, el.Nested, batchIx, &chunkIx, emit); err != nil {
				return err
			}
			batchIx++
			continue
		}
		if err := emit(Chunk{Batch: el.Batch, BatchIndex: batchIx, ChunkIndex: 0}); err != nil {
			return err
		}
		batchIx++
	}
}

func drainNested(ctx context.Context, src Source, batchIx int, chunkIx *int, emit func(Chunk) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		el, err := src.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if el.Nested != nil {
			// A generator nested more than one level deep: keep flattening
			// under the same outer batch index so (batch_ix, chunk_ix)
			// identity still increases monotonically.
			if err := drainNested(ctx, el.Nested, batchIx, chunkIx, emit); err != nil {
				return err
			}
			continue
		}
		if err := emit(Chunk{Batch: el.Batch, BatchIndex: batchIx, ChunkIndex: *chunkIx}); err != nil {
			return err
		}
		(*chunkIx)++
	}
}
