package kb

import (
	"errors"
	"fmt"
)

// Kind classifies failures by pipeline stage.
type Kind string

const (
	KindAlignment     Kind = "alignment"
	KindConsolidation Kind = "consolidation"
	KindIngestion     Kind = "ingestion"
	KindRetrieval     Kind = "retrieval"
	KindSynthesis     Kind = "synthesis"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrAlignment     = errors.New("alignment error")
	ErrConsolidation = errors.New("consolidation error")
	ErrIngestion     = errors.New("ingestion error")
	ErrRetrieval     = errors.New("retrieval error")
	ErrSynthesis     = errors.New("synthesis error")
)

var sentinels = map[Kind]error{
	KindAlignment:     ErrAlignment,
	KindConsolidation: ErrConsolidation,
	KindIngestion:     ErrIngestion,
	KindRetrieval:     ErrRetrieval,
	KindSynthesis:     ErrSynthesis,
}

// Error is a stage failure. SourceID is set when the failure is scoped to one
// recording.
type Error struct {
	Kind     Kind
	Op       string
	SourceID string
	Err      error
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.SourceID != "" {
		msg += " [" + e.SourceID + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
