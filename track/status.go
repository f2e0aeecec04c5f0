package track

import (
	"fmt"
	"strings"
)

// Status is the classified state of a remote task. The zero value is
// StatusUnknown, so a snapshot nobody classified is never mistaken for
// progress.
type Status int

const (
	// StatusUnknown is a code the classifier does not recognise. Tracking
	// stops with an error.
	StatusUnknown Status = iota
	// StatusSuccess is a terminal success.
	StatusSuccess
	// StatusInProgress means the task is running; polling continues.
	StatusInProgress
	// StatusTransient is a temporary state such as queued or initializing.
	// Polling continues within the transient budget.
	StatusTransient
	// StatusFailure is a terminal failure.
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusInProgress:
		return "InProgress"
	case StatusTransient:
		return "Transient"
	case StatusFailure:
		return "Failure"
	case StatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether tracking stops at s without an error of its own.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Running reports whether the task is still being worked on.
func (s Status) Running() bool {
	return s == StatusInProgress || s == StatusTransient
}

// Classifier maps raw server status codes to a Status. Matching ignores
// case and surrounding space. Codes listed nowhere classify as
// StatusUnknown.
type Classifier struct {
	Success    []string `mapstructure:"success"`
	InProgress []string `mapstructure:"in_progress"`
	Transient  []string `mapstructure:"transient"`
	Failure    []string `mapstructure:"failure"`
}

// Classify returns the status code maps to.
func (c Classifier) Classify(code string) Status {
	switch {
	case contains(c.Success, code):
		return StatusSuccess
	case contains(c.Failure, code):
		return StatusFailure
	case contains(c.InProgress, code):
		return StatusInProgress
	case contains(c.Transient, code):
		return StatusTransient
	}
	return StatusUnknown
}

func contains(codes []string, code string) bool {
	code = strings.TrimSpace(code)
	for _, c := range codes {
		if strings.EqualFold(strings.TrimSpace(c), code) {
			return true
		}
	}
	return false
}
