// Package query turns paginated remote listings into lazy, forward-only
// sequences.
//
//	it := query.Cursor(func(ctx context.Context, cursor string) ([]Share, string, bool, error) {
//		return client.ListShares(ctx, cursor)
//	})
//	for it.Next(ctx) {
//		fmt.Println(it.Item().Name)
//	}
//	if err := it.Err(); err != nil {
//		return err
//	}
//
// A page is fetched only when the previous one is used up. A failed fetch
// leaves the iterator where it was: calling Next again retries the same
// page.
package query

import (
	"context"
	"errors"
	"iter"

	"github.com/ryhazerus/flowguard/retry"
	"go.uber.org/zap"
)

// ErrStalledPagination is returned when the remote side reports more pages
// but gives no way to reach them.
var ErrStalledPagination = errors.New("flowguard/query: pagination made no progress")

// Page is one fetched page. Next is nil exactly when no page follows.
type Page[T, M any] struct {
	Items []T
	Next  *M
}

// FetchFunc fetches the page at marker. The first call gets a nil marker.
type FetchFunc[T, M any] func(ctx context.Context, marker *M) (Page[T, M], error)

// Iterator yields items of type T one at a time. It is not safe for
// concurrent use and cannot be restarted.
type Iterator[T any] struct {
	advance func(ctx context.Context) (items []T, last bool, err error)
	logger  *zap.Logger

	page  []T
	idx   int
	item  T
	err   error
	last  bool
	pages int
}

type options struct {
	retry  *retry.Policy
	logger *zap.Logger
}

// Option configures an Iterator.
type Option func(*options)

// WithRetry runs every page fetch through the retry executor.
func WithRetry(p retry.Policy) Option {
	return func(o *options) { o.retry = &p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns an iterator over the pages produced by fetch.
func New[T, M any](fetch FetchFunc[T, M], opts ...Option) *Iterator[T] {
	o := options{logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}

	var marker *M
	get := func(ctx context.Context) (Page[T, M], error) {
		if o.retry == nil {
			return fetch(ctx, marker)
		}
		return retry.Do(ctx, *o.retry, func(ctx context.Context) (Page[T, M], error) {
			return fetch(ctx, marker)
		})
	}

	return &Iterator[T]{
		logger: o.logger,
		advance: func(ctx context.Context) ([]T, bool, error) {
			page, err := get(ctx)
			if err != nil {
				return nil, false, err
			}
			marker = page.Next
			return page.Items, page.Next == nil, nil
		},
	}
}

// Next advances to the next item, fetching a page when needed. It returns
// false when the sequence ends or a fetch fails; Err tells the two apart.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	for {
		if it.idx < len(it.page) {
			it.item = it.page[it.idx]
			it.idx++
			return true
		}
		if it.last {
			return false
		}

		items, last, err := it.advance(ctx)
		if err != nil {
			it.err = err
			it.logger.Debug("page fetch failed", zap.Int("page", it.pages+1), zap.Error(err))
			return false
		}
		it.err = nil
		it.pages++
		it.page, it.idx, it.last = items, 0, last
		it.logger.Debug("page fetched",
			zap.Int("page", it.pages),
			zap.Int("items", len(items)),
			zap.Bool("last", last),
		)
	}
}

// Item returns the current item. It is only valid after Next returned true.
func (it *Iterator[T]) Item() T {
	return it.item
}

// Err returns the error of the most recent fetch, or nil.
func (it *Iterator[T]) Err() error {
	return it.err
}

// Pages returns how many pages have been fetched successfully.
func (it *Iterator[T]) Pages() int {
	return it.pages
}

// All returns the remaining items as a range-over-func sequence. A fetch
// error is yielded once, with the zero item, and ends the sequence.
func (it *Iterator[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for it.Next(ctx) {
			if !yield(it.item, nil) {
				return
			}
		}
		if it.err != nil {
			var zero T
			yield(zero, it.err)
		}
	}
}

// Collect drains the iterator. On error it returns the items gathered so
// far along with the error.
func (it *Iterator[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for it.Next(ctx) {
		out = append(out, it.item)
	}
	return out, it.err
}
