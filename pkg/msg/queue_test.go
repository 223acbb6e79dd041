package msg

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestCode_PacksSeverityPriorityID(t *testing.T) {
	c := NewCode(MISHAP, 0x40, 0x1234)
	assert.Equal(t, MISHAP, c.Severity())
	assert.Equal(t, uint8(0x40), c.Priority())
	assert.Equal(t, uint16(0x1234), c.ID())
}

func TestQueue_SubmitBelowThresholdQueues(t *testing.T) {
	q := NewQueue(logr.Discard())
	err := q.Submit(NewCode(WARNING, 0, 1), "size changed for %s", "a.txt")
	assert.NoError(t, err)
	assert.False(t, q.Canceled())
	assert.Len(t, q.Messages(), 1)
}

func TestQueue_SubmitAtThresholdCancels(t *testing.T) {
	q := NewQueue(logr.Discard())
	err := q.Submit(NewCode(FAILURE, 0, 2), "read error")
	assert.ErrorIs(t, err, ErrCanceled)
	assert.True(t, q.Canceled())
	// The message is still retained for post-mortem inspection.
	assert.Len(t, q.Messages(), 1)
}

func TestQueue_AbortThresholdAdjustable(t *testing.T) {
	q := NewQueue(logr.Discard())
	q.SetAbortThreshold(ABORT)
	assert.NoError(t, q.Submit(NewCode(FAILURE, 0, 3), "tolerated failure"))
	assert.False(t, q.Canceled())

	q.SetAbortThreshold(MISHAP)
	assert.ErrorIs(t, q.Submit(NewCode(MISHAP, 0, 4), "now fatal"), ErrCanceled)
}

func TestSeverity_Ordering(t *testing.T) {
	assert.Less(t, DEBUG, WARNING)
	assert.Less(t, WARNING, FAILURE)
	assert.Less(t, FAILURE, ABORT)
	assert.Equal(t, "MISHAP", MISHAP.String())
}
