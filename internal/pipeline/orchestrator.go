package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// FailedStage is the label handed to the publish function on the failure
// path; each pipeline maps it onto its own FAILED enum value.
const FailedStage = "FAILED"

// DomainError marks a business-rule violation inside a stage, as opposed to
// an infrastructure failure. Both end the run with a FAILED event; the
// distinction exists so callers can tell a bad request from a broken broker.
type DomainError struct {
	msg string
}

func (e *DomainError) Error() string { return e.msg }

// Domainf builds a DomainError from a format string.
func Domainf(format string, args ...any) *DomainError {
	return &DomainError{msg: fmt.Sprintf(format, args...)}
}

// IsDomainError reports whether the error chain contains a DomainError.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// Stage is one step of a pipeline. Run receives the accumulated run context
// and either updates it or returns an error; after Run succeeds the stage
// event named by Name is published before the next stage starts.
type Stage[C any] struct {
	Name string
	Kind PoolKind
	Run  func(ctx context.Context, c C) error
}

// PublishFunc builds, validates, and publishes the stage event for one
// transition. It must return only after the broker has acknowledged the
// write. errorCode and errorMessage are set only for the FAILED stage.
type PublishFunc[C any] func(ctx context.Context, c C, stage, errorCode, errorMessage string) error

// Orchestrator drives one unit of work through a fixed ordered stage
// sequence. CPU-bound and IO-bound stages run on disjoint bounded pools so a
// slow external call cannot starve validation throughput.
type Orchestrator[C any] struct {
	name       string
	entryStage string
	errorCode  string
	stages     []Stage[C]
	publish    PublishFunc[C]
	cpu        *Pool
	io         *Pool
	logger     *zap.Logger
}

func NewOrchestrator[C any](name, entryStage, errorCode string, stages []Stage[C], publish PublishFunc[C], cpu, io *Pool, logger *zap.Logger) *Orchestrator[C] {
	return &Orchestrator[C]{
		name:       name,
		entryStage: entryStage,
		errorCode:  errorCode,
		stages:     stages,
		publish:    publish,
		cpu:        cpu,
		io:         io,
		logger:     logger,
	}
}

// Run publishes the entry stage event synchronously, then drives the
// remaining stages in the background. The returned handle resolves once the
// terminal publish (success stage or FAILED) has been acknowledged; it
// carries an error only when even the FAILED event could not be published,
// since a published FAILED event is the durable record of what happened and
// counts as an orderly end of the run.
func (o *Orchestrator[C]) Run(ctx context.Context, c C) <-chan error {
	done := make(chan error, 1)
	if err := o.publish(ctx, c, o.entryStage, "", ""); err != nil {
		done <- o.fail(ctx, c, fmt.Errorf("publish %s: %w", o.entryStage, err))
		return done
	}
	go func() {
		done <- o.drive(ctx, c)
	}()
	return done
}

func (o *Orchestrator[C]) drive(ctx context.Context, c C) error {
	for _, stage := range o.stages {
		pool := o.cpu
		if stage.Kind == IOBound {
			pool = o.io
		}
		run := stage.Run
		if err := pool.Do(ctx, func() error { return run(ctx, c) }); err != nil {
			return o.fail(ctx, c, fmt.Errorf("stage %s: %w", stage.Name, err))
		}
		if err := o.publish(ctx, c, stage.Name, "", ""); err != nil {
			return o.fail(ctx, c, fmt.Errorf("publish %s: %w", stage.Name, err))
		}
	}
	return nil
}

// fail converts any stage or publish error into a single FAILED publish
// carrying the pipeline's fixed error code and the cause's message. The
// identifiers gathered at entry are always available in the run context even
// when later fields are not.
func (o *Orchestrator[C]) fail(ctx context.Context, c C, cause error) error {
	o.logger.Error("pipeline run failed",
		zap.String("pipeline", o.name),
		zap.Bool("domain_error", IsDomainError(cause)),
		zap.Error(cause))
	if err := o.publish(ctx, c, FailedStage, o.errorCode, cause.Error()); err != nil {
		o.logger.Error("failure event publish failed",
			zap.String("pipeline", o.name),
			zap.Error(err))
		return errors.Join(cause, err)
	}
	return nil
}
