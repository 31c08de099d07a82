package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingErrorFormat(t *testing.T) {
	err := NewProcessingError("diagnosis", "predict_failure", ErrInvalidPayload, "anomalies must be a list", nil)
	assert.Equal(t, "diagnosis: predict_failure: invalid payload: anomalies must be a list", err.Error())
}

func TestProcessingErrorIsKindAndCause(t *testing.T) {
	err := NewProcessingError("engagement", "initiate_voice_call", ErrCancelled, "", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrInvalidPayload)

	var pe *ProcessingError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &pe)
	assert.Equal(t, "engagement", pe.Agent)
}

func TestRouteErrorFormat(t *testing.T) {
	err := &RouteError{Agent: "ghost", Kind: ErrUnknownAgent}
	assert.Equal(t, `route to "ghost": unknown agent`, err.Error())
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestInvalidPayloadHelper(t *testing.T) {
	err := InvalidPayload("%s is required", "vehicle_id")
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Contains(t, err.Error(), "vehicle_id is required")
}

func TestCollaboratorFailureHelper(t *testing.T) {
	cause := errors.New("connection refused")
	err := CollaboratorFailure("voice", cause)
	assert.ErrorIs(t, err, ErrCollaboratorFailure)
	assert.ErrorIs(t, err, cause)
}

func TestNewFleetErrorEmpty(t *testing.T) {
	assert.NoError(t, NewFleetError("start_all", nil))
}

func TestNewFleetErrorSortsByName(t *testing.T) {
	errB := errors.New("b broke")
	errA := errors.New("a broke")
	err := NewFleetError("start_all", []AgentFailure{{Name: "b", Err: errB}, {Name: "a", Err: errA}})

	var fe *FleetError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"a", "b"}, fe.Names())
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, "start_all: 2 agent(s) failed: a: a broke; b: b broke", err.Error())
}

func TestLifecycleErrorUnwrap(t *testing.T) {
	cause := errors.New("reference data missing")
	err := &LifecycleError{Agent: "booking", Phase: PhaseInitialize, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "booking: initialize: reference data missing", err.Error())
}

func TestWrapOpNil(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))
	assert.EqualError(t, WrapOp("op", ErrNotFound), "op: not found")
}

// --- ErrorCode tests ---

func TestErrorCodeOf_Sentinels(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{nil, CodeUnknown},
		{errors.New("plain"), CodeUnknown},
		{ErrUnknownTaskType, CodeUnknownTaskType},
		{ErrDuplicateName, CodeDuplicateName},
		{ErrDuplicate, CodeDuplicate},
		{ErrInvalidTransition, CodeInvalidTransition},
		{fmt.Errorf("load: %w", ErrConfigLoad), CodeConfigLoad},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCodeOf(tt.err), "err=%v", tt.err)
	}
}

func TestErrorCodeOf_KindWinsOverCause(t *testing.T) {
	err := NewProcessingError("a", "t", ErrCollaboratorFailure, "", ErrInvalidPayload)
	assert.Equal(t, CodeCollaboratorFailure, ErrorCodeOf(err))

	route := &RouteError{Agent: "a", Kind: ErrTimeout, Err: context.DeadlineExceeded}
	assert.Equal(t, CodeTimeout, ErrorCodeOf(route))

	abandoned := &RouteError{Agent: "a", Kind: ErrTimeout,
		Err: NewProcessingError("a", "t", ErrCancelled, "", context.DeadlineExceeded)}
	assert.Equal(t, CodeTimeout, ErrorCodeOf(abandoned))
}

func TestErrorCodeOf_LifecycleAndFleet(t *testing.T) {
	shutdown := &LifecycleError{Agent: "a", Phase: PhaseShutdown, Err: errors.New("x")}
	assert.Equal(t, CodeLifecycleShutdown, ErrorCodeOf(shutdown))

	initErr := &LifecycleError{Agent: "a", Phase: PhaseInitialize, Err: errors.New("x")}
	assert.Equal(t, CodeLifecycleInitialize, ErrorCodeOf(initErr))

	fleet := NewFleetError("stop_all", []AgentFailure{{Name: "a", Err: shutdown}})
	assert.Equal(t, CodeFleetPartialFailures, ErrorCodeOf(fleet))
}
