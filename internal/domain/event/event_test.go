package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestType_IsValid(t *testing.T) {
	for _, typ := range All {
		assert.True(t, typ.IsValid(), typ.String())
	}
	assert.False(t, Type("task.deleted").IsValid())
	assert.False(t, Type("").IsValid())
}

func TestNewEvent(t *testing.T) {
	evt := NewEvent(TypeTaskUnlocked, 42, map[string]interface{}{
		KeyTaskID:   int64(7),
		KeyTaskName: "Storyboard",
	})

	assert.NotEmpty(t, evt.ID)
	assert.NotEmpty(t, evt.CorrelationID)
	assert.NotEqual(t, evt.ID, evt.CorrelationID)
	assert.Equal(t, TypeTaskUnlocked, evt.Type)
	assert.Equal(t, int64(42), evt.DeliverableID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, int64(7), evt.GetPayloadInt(KeyTaskID))
	assert.Equal(t, "Storyboard", evt.GetPayloadString(KeyTaskName))
}

func TestNewEvent_NilPayload(t *testing.T) {
	evt := NewEvent(TypeDeliverableCreated, 1, nil)
	assert.NotNil(t, evt.Payload)
	assert.Equal(t, "", evt.GetPayloadString("missing"))
	assert.Equal(t, int64(0), evt.GetPayloadInt("missing"))
}

func TestNewEventWithCorrelation(t *testing.T) {
	parent := NewEvent(TypeApprovalResolved, 1, nil)
	child := NewEventWithCorrelation(TypeTaskUnlocked, 1, nil, parent.CorrelationID)

	assert.Equal(t, parent.CorrelationID, child.CorrelationID)
	assert.NotEqual(t, parent.ID, child.ID)
}

func TestEvent_WithPayloadIsImmutable(t *testing.T) {
	original := NewEvent(TypeApprovalOpened, 3, map[string]interface{}{KeyApprovalID: int64(5)})
	updated := original.WithPayload(KeyReviewerID, "ou_reviewer")

	assert.Equal(t, "ou_reviewer", updated.GetPayloadString(KeyReviewerID))
	assert.Equal(t, "", original.GetPayloadString(KeyReviewerID))
	assert.Equal(t, original.ID, updated.ID)
	assert.Equal(t, int64(5), updated.GetPayloadInt(KeyApprovalID))
}

func TestEvent_GetPayloadIntConversions(t *testing.T) {
	evt := NewEvent(TypeVersionAdded, 1, map[string]interface{}{
		"a": 3,
		"b": float64(4),
		"c": "5",
	})
	assert.Equal(t, int64(3), evt.GetPayloadInt("a"))
	assert.Equal(t, int64(4), evt.GetPayloadInt("b"))
	assert.Equal(t, int64(0), evt.GetPayloadInt("c"))
}
