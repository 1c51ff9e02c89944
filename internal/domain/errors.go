package domain

import "errors"

// ErrEmptyText is returned when a report has no text to parse.
var ErrEmptyText = errors.New("report text must not be empty")

// ParseFailure means the AI parsing call itself failed. Weak or garbled AI
// output is not a ParseFailure; NormalizeDraft absorbs that.
type ParseFailure struct {
	Err error
}

func (e *ParseFailure) Error() string {
	return "parse failure: " + e.Err.Error()
}

func (e *ParseFailure) Unwrap() error { return e.Err }
