// Package msg implements the process-wide message queue described in the specification: plain
// numeric codes with an embedded severity and priority, submitted through a single Queue that the
// writer pipeline consults to decide whether a failure should abort production.
package msg

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Severity orders message severities from least to most urgent, matching the specification's
// {DEBUG, UPDATE, NOTE, HINT, WARNING, SORRY, MISHAP, FAILURE, FATAL, ABORT} ladder.
type Severity uint8

const (
	DEBUG Severity = iota
	UPDATE
	NOTE
	HINT
	WARNING
	SORRY
	MISHAP
	FAILURE
	FATAL
	ABORT
)

func (s Severity) String() string {
	switch s {
	case DEBUG:
		return "DEBUG"
	case UPDATE:
		return "UPDATE"
	case NOTE:
		return "NOTE"
	case HINT:
		return "HINT"
	case WARNING:
		return "WARNING"
	case SORRY:
		return "SORRY"
	case MISHAP:
		return "MISHAP"
	case FAILURE:
		return "FAILURE"
	case FATAL:
		return "FATAL"
	case ABORT:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Code packs severity (high 8 bits), priority (next 8 bits), and a unique id (low 16 bits) into a
// single 32-bit value, per the specification's message-queue design.
type Code uint32

func NewCode(severity Severity, priority uint8, id uint16) Code {
	return Code(uint32(severity)<<24 | uint32(priority)<<16 | uint32(id))
}

func (c Code) Severity() Severity { return Severity(c >> 24) }
func (c Code) Priority() uint8    { return uint8(c >> 16) }
func (c Code) ID() uint16         { return uint16(c) }

func (c Code) String() string {
	return fmt.Sprintf("%s(priority=%d, id=%d)", c.Severity(), c.Priority(), c.ID())
}

// Message is one queued diagnostic.
type Message struct {
	Code Code
	Text string
	Args []interface{}
}

// ErrCanceled is the sentinel Submit returns once the configured abort threshold is met or
// exceeded, signaling the caller to unwind the writer pipeline.
var ErrCanceled = fmt.Errorf("msg: production canceled by message queue threshold")

// Queue is a process-wide, thread-safe sink for diagnostics raised by any pipeline component. It
// both retains messages (for the caller to inspect after production) and mirrors them to a
// logr.Logger for interactive visibility, matching the dual queued-and-printed behavior the
// specification describes.
type Queue struct {
	mu             sync.Mutex
	messages       []Message
	logger         logr.Logger
	abortThreshold Severity
	canceled       bool
}

// NewQueue creates a Queue with the default abort threshold of FAILURE.
func NewQueue(logger logr.Logger) *Queue {
	return &Queue{logger: logger, abortThreshold: FAILURE}
}

// SetAbortThreshold changes the severity at and above which Submit returns ErrCanceled.
func (q *Queue) SetAbortThreshold(s Severity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.abortThreshold = s
}

// Submit records a message and mirrors it to the logger. If the message's severity meets or
// exceeds the configured abort threshold, Submit returns ErrCanceled and the queue is marked
// canceled for subsequent Canceled() checks; the caller (almost always a Writer mid-body-write)
// must treat this as a request to unwind.
func (q *Queue) Submit(code Code, text string, args ...interface{}) error {
	q.mu.Lock()
	q.messages = append(q.messages, Message{Code: code, Text: text, Args: args})
	severity := code.Severity()
	abort := severity >= q.abortThreshold
	if abort {
		q.canceled = true
	}
	q.mu.Unlock()

	level := 0
	if severity < WARNING {
		level = 1
	}
	if severity >= WARNING {
		q.logger.Error(fmt.Errorf(text, args...), code.String())
	} else {
		q.logger.V(level).Info(text, "code", code.String())
	}

	if abort {
		return ErrCanceled
	}
	return nil
}

// Canceled reports whether any submitted message has met the abort threshold.
func (q *Queue) Canceled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.canceled
}

// Messages returns a snapshot of every message submitted so far.
func (q *Queue) Messages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.messages))
	copy(out, q.messages)
	return out
}
