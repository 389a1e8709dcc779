package invite

import (
	"errors"
)

// ErrInvalidInput is returned for events without any recipients.
var ErrInvalidInput = errors.New("invalid input")

// Stage names the step of an invocation that failed.
type Stage string

const (
	StageConfig  Stage = "config"
	StageWait    Stage = "debug_sleep"
	StageSession Stage = "session"
	StageRender  Stage = "render"
	StageSend    Stage = "send"
)

// DeliveryError is any failure after the event was accepted. Mail sent to
// earlier recipients of the batch stays sent.
type DeliveryError struct {
	Stage Stage
	// Recipient is empty when the failure is not tied to a single recipient.
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func asDeliveryError(err error, stage Stage) *DeliveryError {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	return &DeliveryError{Stage: stage, Err: err}
}
