// Package page holds offset pagination primitives shared by list queries.
package page

import (
	"fmt"
	"math"
	"slices"

	"github.com/go-faster/errors"
)

// MaxSize caps the number of rows a single page may request.
const MaxSize = 100

// ErrInvalid is wrapped by every validation failure of Request.
var ErrInvalid = errors.New("invalid page request")

// Request selects one page of a sorted result set. Index counts from 0.
type Request struct {
	Index int
	Size  int
	Sort  string
	Desc  bool
}

// Offset returns the number of rows to skip.
func (r Request) Offset() int {
	return r.Index * r.Size
}

// MaxOffset caps Index*Size so the offset always fits the SQL parameter.
const MaxOffset = math.MaxInt32

// CheckBounds rejects a negative index, a size outside 1..MaxSize and any
// index whose offset would exceed MaxOffset.
func (r Request) CheckBounds() error {
	switch {
	case r.Index < 0:
		return fmt.Errorf("%w: page index must not be negative", ErrInvalid)
	case r.Size <= 0:
		return fmt.Errorf("%w: page size must be positive", ErrInvalid)
	case r.Size > MaxSize:
		return fmt.Errorf("%w: page size must be at most %d", ErrInvalid, MaxSize)
	case r.Index > MaxOffset/r.Size:
		return fmt.Errorf("%w: page index %d is out of range", ErrInvalid, r.Index)
	}
	return nil
}

// Validate checks the bounds and that Sort, when set, is one of the allowed
// keys.
func (r Request) Validate(sortKeys ...string) error {
	if err := r.CheckBounds(); err != nil {
		return err
	}
	if r.Sort != "" && !slices.Contains(sortKeys, r.Sort) {
		return fmt.Errorf("%w: unsupported sort key %q", ErrInvalid, r.Sort)
	}
	return nil
}

// Page is one slice of a larger result set.
type Page[T any] struct {
	Items []T
	Index int
	Size  int
	Total int64
}

// New builds a Page for req.
func New[T any](req Request, items []T, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items: items,
		Index: req.Index,
		Size:  req.Size,
		Total: total,
	}
}

// TotalPages returns the number of pages of Size needed to cover Total.
func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Size) - 1) / int64(p.Size))
}

// Map converts the items of p with fn, keeping the paging metadata.
func Map[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, len(p.Items))
	for i, v := range p.Items {
		out[i] = fn(v)
	}
	return Page[U]{Items: out, Index: p.Index, Size: p.Size, Total: p.Total}
}
