package replication

import (
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/orderreplicationflow/internal/erp"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
)

// ErrIllegalTransition is returned when a step is moved out of a state it
// cannot leave that way, e.g. completing an already completed step.
var ErrIllegalTransition = errors.New("illegal step transition")

func illegal(step models.StepName, from, to models.StepStatus) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrIllegalTransition, step, from, to)
}

// Begin moves a step to processing. Failed and stale processing steps may be
// begun again; that is how a resume retries them.
func Begin(e *models.FlowExecution, step models.StepName, now time.Time) error {
	rec := e.Step(step)
	switch rec.Status {
	case models.StepPending, models.StepFailed, models.StepProcessing:
	default:
		return illegal(step, rec.Status, models.StepProcessing)
	}
	rec.Status = models.StepProcessing
	rec.Attempts++
	rec.Error = ""
	rec.ErrorCode = ""
	rec.Recovered = false
	rec.StartedAt = now
	rec.FinishedAt = time.Time{}
	e.UpdatedAt = now
	return nil
}

// Complete records a successful step. A completed step is never overwritten.
func Complete(e *models.FlowExecution, step models.StepName, ex erp.Exchange, now time.Time) error {
	rec := e.Step(step)
	if rec.Status != models.StepProcessing {
		return illegal(step, rec.Status, models.StepCompleted)
	}
	capture(rec, ex)
	rec.Status = models.StepCompleted
	rec.FinishedAt = now
	e.UpdatedAt = now

	if n := countCompleted(e); n > e.CompletedSteps {
		e.CompletedSteps = n
	}
	return nil
}

// Fail records a failed step with the call that caused it.
func Fail(e *models.FlowExecution, step models.StepName, ex erp.Exchange, cause error, now time.Time) error {
	rec := e.Step(step)
	if rec.Status != models.StepProcessing {
		return illegal(step, rec.Status, models.StepFailed)
	}
	capture(rec, ex)
	rec.Status = models.StepFailed
	if cause != nil {
		rec.Error = cause.Error()
		rec.ErrorCode = erp.ErrorCode(cause)
	}
	rec.FinishedAt = now
	e.HaltedAt = step
	e.UpdatedAt = now
	return nil
}

// Skip marks a step the tenant cannot run.
func Skip(e *models.FlowExecution, step models.StepName, now time.Time) error {
	rec := e.Step(step)
	switch rec.Status {
	case models.StepSkipped:
		return nil
	case models.StepPending, models.StepFailed:
	default:
		return illegal(step, rec.Status, models.StepSkipped)
	}
	rec.Status = models.StepSkipped
	rec.FinishedAt = now
	e.UpdatedAt = now
	return nil
}

// ResumePoint returns the first step that still has work to do.
func ResumePoint(e *models.FlowExecution) (models.StepName, bool) {
	for _, step := range models.Steps {
		switch e.Step(step).Status {
		case models.StepPending, models.StepFailed, models.StepProcessing:
			return step, true
		}
	}
	return "", false
}

// DeriveGlobalStatus summarizes the step statuses. A failed required step
// fails the run; a failed optional step after all required ones finished
// makes it partial.
func DeriveGlobalStatus(e *models.FlowExecution) models.GlobalStatus {
	requiredDone := true
	optionalFailed := false
	allDone := true
	for _, step := range models.Steps {
		status := e.Step(step).Status
		done := status == models.StepCompleted || status == models.StepSkipped
		if step.Required() {
			if status == models.StepFailed {
				return models.StatusFailed
			}
			requiredDone = requiredDone && done
		} else if status == models.StepFailed {
			optionalFailed = true
		}
		allDone = allDone && done
	}
	switch {
	case requiredDone && optionalFailed:
		return models.StatusPartial
	case allDone:
		return models.StatusCompleted
	default:
		return models.StatusProcessing
	}
}

func countCompleted(e *models.FlowExecution) int {
	n := 0
	for _, step := range models.Steps {
		if e.Step(step).Status == models.StepCompleted {
			n++
		}
	}
	return n
}

func capture(rec *models.StepRecord, ex erp.Exchange) {
	rec.Endpoint = ex.Endpoint
	rec.Method = ex.Method
	rec.RequestPayload = ex.RequestBody
	rec.ResponsePayload = ex.ResponseBody
	rec.StatusCode = ex.StatusCode
}
