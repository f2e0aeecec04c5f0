// Package track drives a remote asynchronous task to a terminal state by
// polling it.
//
// The transition table is fixed:
//
//	Success    -> return the snapshot
//	Failure    -> *flowguard.TaskFailureError
//	InProgress -> wait, poll again
//	Transient  -> count it; past the budget *flowguard.TaskTransientExhaustedError,
//	              otherwise wait and poll again
//	Unknown    -> *flowguard.UnknownTaskStatusError, immediately
//
// A wall-clock timeout, from WithTimeout or the context deadline, ends
// tracking with *flowguard.TaskTimeoutError.
package track

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ryhazerus/flowguard"
	"go.uber.org/zap"
)

// ErrPollLimit is wrapped by the timeout error returned when WithMaxPolls
// is exhausted.
var ErrPollLimit = errors.New("flowguard/track: poll limit reached")

// Handle identifies a remote task.
type Handle struct {
	ID   string
	Kind string
}

func (h Handle) String() string {
	if h.Kind == "" {
		return h.ID
	}
	return h.Kind + "/" + h.ID
}

// Snapshot is the result of one poll. Value carries whatever payload the
// caller wants back with a successful snapshot.
type Snapshot[T any] struct {
	Status      Status
	Code        string
	Progress    *float64
	ErrorDetail string
	Value       T
}

// PollFunc fetches the current state of a task.
type PollFunc[T any] func(ctx context.Context, h Handle) (Snapshot[T], error)

// ByCode adapts a function returning a raw status code into a PollFunc,
// classifying the code with c.
func ByCode[T any](c Classifier, fetch func(ctx context.Context, h Handle) (code string, value T, err error)) PollFunc[T] {
	return func(ctx context.Context, h Handle) (Snapshot[T], error) {
		code, value, err := fetch(ctx, h)
		if err != nil {
			return Snapshot[T]{}, err
		}
		return Snapshot[T]{Status: c.Classify(code), Code: code, Value: value}, nil
	}
}

// Track polls h until it reaches a terminal state. Errors returned by poll
// propagate unchanged. On every error the last snapshot seen is returned
// alongside it.
func Track[T any](ctx context.Context, h Handle, poll PollFunc[T], opts ...Option) (Snapshot[T], error) {
	cfg := newConfig(opts)
	logger := cfg.logger.With(
		zap.String("session", uuid.NewString()),
		zap.String("task_id", h.ID),
		zap.String("task_kind", h.Kind),
	)

	if cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	s := &session[T]{handle: h, logger: logger, start: time.Now()}
	if deadline, ok := ctx.Deadline(); ok {
		s.budget = deadline.Sub(s.start)
	}
	logger.Debug("tracking task", zap.Duration("timeout", s.budget))

	for {
		snap, err := poll(ctx, h)
		s.polls++
		if err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return s.last, s.timeout(err)
			}
			return s.last, err
		}
		s.last = snap

		logger.Debug("task polled",
			zap.Int("poll", s.polls),
			zap.Stringer("status", snap.Status),
			zap.String("code", snap.Code),
			progressField(snap.Progress),
		)

		switch snap.Status {
		case StatusSuccess:
			logger.Debug("task succeeded", zap.Int("polls", s.polls), zap.Duration("elapsed", time.Since(s.start)))
			return snap, nil
		case StatusFailure:
			logger.Warn("task failed", zap.String("code", snap.Code), zap.String("detail", snap.ErrorDetail))
			return snap, &flowguard.TaskFailureError{
				TaskID:   h.ID,
				TaskKind: h.Kind,
				Code:     snap.Code,
				Detail:   snap.ErrorDetail,
				Polls:    s.polls,
				Elapsed:  time.Since(s.start),
			}
		case StatusTransient:
			s.transients++
			if s.transients > cfg.transientBudget {
				logger.Warn("task transient budget exhausted", zap.Int("transients", s.transients))
				return snap, &flowguard.TaskTransientExhaustedError{
					TaskID:     h.ID,
					TaskKind:   h.Kind,
					Code:       snap.Code,
					Transients: s.transients,
					Budget:     cfg.transientBudget,
					Polls:      s.polls,
					Elapsed:    time.Since(s.start),
				}
			}
		case StatusInProgress:
		default:
			logger.Warn("task reported unknown status", zap.String("code", snap.Code))
			return snap, &flowguard.UnknownTaskStatusError{
				TaskID:   h.ID,
				TaskKind: h.Kind,
				Code:     snap.Code,
				Polls:    s.polls,
			}
		}

		if cfg.maxPolls > 0 && s.polls >= cfg.maxPolls {
			return snap, s.timeout(ErrPollLimit)
		}

		delay := cfg.delay(s.polls - 1)
		if deadline, ok := ctx.Deadline(); ok && deadline.Before(time.Now().Add(delay)) {
			return snap, s.timeout(context.DeadlineExceeded)
		}
		switch cfg.sleep(ctx, delay) {
		case flowguard.Ready:
		case flowguard.Expired:
			return snap, s.timeout(context.DeadlineExceeded)
		default:
			return snap, fmt.Errorf("flowguard/track: tracking %s: %w", h, context.Canceled)
		}
	}
}

type session[T any] struct {
	handle     Handle
	logger     *zap.Logger
	start      time.Time
	budget     time.Duration
	polls      int
	transients int
	last       Snapshot[T]
}

func (s *session[T]) timeout(cause error) error {
	s.logger.Warn("task tracking timed out",
		zap.Int("polls", s.polls),
		zap.Error(cause),
	)
	return &flowguard.TaskTimeoutError{
		TaskID:   s.handle.ID,
		TaskKind: s.handle.Kind,
		LastCode: s.last.Code,
		Timeout:  s.budget,
		Polls:    s.polls,
		Elapsed:  time.Since(s.start),
		Err:      cause,
	}
}

func progressField(p *float64) zap.Field {
	if p == nil {
		return zap.Skip()
	}
	return zap.Float64("progress", *p)
}
