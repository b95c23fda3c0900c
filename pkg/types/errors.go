package types

import (
	"errors"
	"fmt"
)

var (
	ErrSourceNotReady    = errors.New("source not ready")
	ErrTransportClosed   = errors.New("transport closed")
	ErrPipelineRunning   = errors.New("pipeline already running")
	ErrInvalidExpression = errors.New("invalid rule expression")
)

type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at stage %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func NewPipelineError(stage string, err error) error {
	return &PipelineError{Stage: stage, Err: err}
}
