package query

import (
	"context"
	"fmt"
)

// Cursor returns an iterator over a cursor-paginated listing. fetch gets
// the empty cursor first; it reports the cursor of the next page and
// whether one exists.
func Cursor[T any](fetch func(ctx context.Context, cursor string) (items []T, next string, more bool, err error), opts ...Option) *Iterator[T] {
	return New(func(ctx context.Context, marker *string) (Page[T, string], error) {
		var cursor string
		if marker != nil {
			cursor = *marker
		}
		items, next, more, err := fetch(ctx, cursor)
		if err != nil {
			return Page[T, string]{}, err
		}
		if !more {
			return Page[T, string]{Items: items}, nil
		}
		if next == "" || next == cursor {
			return Page[T, string]{}, fmt.Errorf("%w: cursor %q repeated", ErrStalledPagination, next)
		}
		return Page[T, string]{Items: items, Next: &next}, nil
	}, opts...)
}

// Offset returns an iterator over an offset-paginated listing. fetch gets
// the offset of the first wanted item and reports the total item count,
// or a negative total when the server does not know it.
func Offset[T any](fetch func(ctx context.Context, offset int) (items []T, total int, more bool, err error), opts ...Option) *Iterator[T] {
	return New(func(ctx context.Context, marker *int) (Page[T, int], error) {
		var offset int
		if marker != nil {
			offset = *marker
		}
		items, total, more, err := fetch(ctx, offset)
		if err != nil {
			return Page[T, int]{}, err
		}

		next := offset + len(items)
		if !more || (total >= 0 && next >= total) {
			return Page[T, int]{Items: items}, nil
		}
		if len(items) == 0 {
			return Page[T, int]{}, fmt.Errorf("%w: empty page at offset %d", ErrStalledPagination, offset)
		}
		return Page[T, int]{Items: items, Next: &next}, nil
	}, opts...)
}

// Single returns an iterator over a listing that arrives in one response.
func Single[T any](fetch func(ctx context.Context) ([]T, error), opts ...Option) *Iterator[T] {
	return New(func(ctx context.Context, _ *struct{}) (Page[T, struct{}], error) {
		items, err := fetch(ctx)
		if err != nil {
			return Page[T, struct{}]{}, err
		}
		return Page[T, struct{}]{Items: items}, nil
	}, opts...)
}
