package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/fileflow/pkg/extract"
	"github.com/dukex/fileflow/pkg/models"
	"github.com/dukex/fileflow/pkg/recordstore"
	"github.com/dukex/fileflow/pkg/template"
	"github.com/dukex/fileflow/pkg/workerpool"
)

// DefaultCallTimeout bounds a single collaborator call.
const DefaultCallTimeout = 30 * time.Second

// SleepFunc suspends the calling execution for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Outcome is the result of one step. Halt stops the remaining sequence without failing it.
type Outcome struct {
	Output any
	Halt   bool
}

// Interpreter executes individual steps against the external collaborators.
type Interpreter struct {
	records     recordstore.Client
	extractor   extract.Extractor
	logger      *slog.Logger
	callTimeout time.Duration
	sleep       SleepFunc
}

// Option customizes an Interpreter.
type Option func(*Interpreter)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(i *Interpreter) {
		if d > 0 {
			i.callTimeout = d
		}
	}
}

// WithSleep replaces the delay implementation.
func WithSleep(sleep SleepFunc) Option {
	return func(i *Interpreter) {
		i.sleep = sleep
	}
}

// NewInterpreter creates an interpreter. Delays yield their worker slot by default.
func NewInterpreter(records recordstore.Client, extractor extract.Extractor, logger *slog.Logger, opts ...Option) *Interpreter {
	i := &Interpreter{
		records:     records,
		extractor:   extractor,
		logger:      logger.With("module", "step_interpreter"),
		callTimeout: DefaultCallTimeout,
		sleep:       workerpool.Sleep,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Execute runs one step. params must already be template-resolved; execCtx is the
// accumulated execution context, used for fallbacks such as the triggering file id.
func (i *Interpreter) Execute(ctx context.Context, step models.Step, params map[string]any, execCtx map[string]any) (Outcome, error) {
	switch step.Type {
	case models.StepTypeLog:
		return i.executeLog(ctx, params)
	case models.StepTypeFileProcess:
		return i.executeFileProcess(ctx, params, execCtx)
	case models.StepTypeAirtableCreate:
		return i.executeRecordCreate(ctx, params)
	case models.StepTypeAirtableUpdate:
		return i.executeRecordUpdate(ctx, params)
	case models.StepTypeDelay:
		return i.executeDelay(ctx, params)
	case models.StepTypeCondition:
		return i.executeCondition(params)
	default:
		return Outcome{}, NewValidationError(step.Type, fmt.Sprintf("unknown step type %q", step.Type))
	}
}

func (i *Interpreter) executeLog(ctx context.Context, params map[string]any) (Outcome, error) {
	var p LogParams
	if err := decodeParams(models.StepTypeLog, params, &p); err != nil {
		return Outcome{}, err
	}

	logger := i.logger.With("step_type", models.StepTypeLog)

	switch p.Level {
	case "debug":
		logger.DebugContext(ctx, p.Message)
	case "warn":
		logger.WarnContext(ctx, p.Message)
	case "error":
		logger.ErrorContext(ctx, p.Message)
	default:
		logger.InfoContext(ctx, p.Message)
	}

	return Outcome{Output: p.Message}, nil
}

func (i *Interpreter) executeFileProcess(ctx context.Context, params, execCtx map[string]any) (Outcome, error) {
	var p FileProcessParams
	if err := decodeParams(models.StepTypeFileProcess, params, &p); err != nil {
		return Outcome{}, err
	}

	fileID := strings.TrimSpace(p.FileID)
	if fileID == "" {
		fileID = strings.TrimSpace(template.Stringify(execCtx["file_id"]))
	}

	if fileID == "" {
		return Outcome{}, NewExtractionError(models.StepTypeFileProcess, errors.New("no file id in parameters or trigger payload"))
	}

	if i.extractor == nil {
		return Outcome{}, NewExtractionError(models.StepTypeFileProcess, errors.New("no extractor configured"))
	}

	callCtx, cancel := i.callContext(ctx)
	defer cancel()

	result, err := i.extractor.Extract(callCtx, fileID)
	if err != nil {
		if isCallTimeout(callCtx) {
			return Outcome{}, NewTimeoutError(models.StepTypeFileProcess, err)
		}

		return Outcome{}, NewExtractionError(models.StepTypeFileProcess, err)
	}

	return Outcome{Output: map[string]any{
		"content":  result.Content,
		"metadata": result.Metadata,
	}}, nil
}

func (i *Interpreter) executeRecordCreate(ctx context.Context, params map[string]any) (Outcome, error) {
	var p RecordCreateParams
	if err := decodeParams(models.StepTypeAirtableCreate, params, &p); err != nil {
		return Outcome{}, err
	}

	if strings.TrimSpace(p.Table) == "" {
		return Outcome{}, NewValidationError(models.StepTypeAirtableCreate, "table is required")
	}

	if i.records == nil {
		return Outcome{}, NewUpstreamError(models.StepTypeAirtableCreate, recordstore.ErrNotConfigured)
	}

	callCtx, cancel := i.callContext(ctx)
	defer cancel()

	recordID, err := i.records.Create(callCtx, p.Table, p.Fields)
	if err != nil {
		if isCallTimeout(callCtx) {
			return Outcome{}, NewTimeoutError(models.StepTypeAirtableCreate, err)
		}

		return Outcome{}, NewUpstreamError(models.StepTypeAirtableCreate, err)
	}

	return Outcome{Output: recordID}, nil
}

func (i *Interpreter) executeRecordUpdate(ctx context.Context, params map[string]any) (Outcome, error) {
	var p RecordUpdateParams
	if err := decodeParams(models.StepTypeAirtableUpdate, params, &p); err != nil {
		return Outcome{}, err
	}

	if strings.TrimSpace(p.Table) == "" || strings.TrimSpace(p.RecordID) == "" {
		return Outcome{}, NewValidationError(models.StepTypeAirtableUpdate, "table and record_id are required")
	}

	if i.records == nil {
		return Outcome{}, NewUpstreamError(models.StepTypeAirtableUpdate, recordstore.ErrNotConfigured)
	}

	callCtx, cancel := i.callContext(ctx)
	defer cancel()

	recordID, err := i.records.Update(callCtx, p.Table, p.RecordID, p.Fields)
	if err != nil {
		switch {
		case recordstore.IsNotFound(err):
			return Outcome{}, NewNotFoundError(models.StepTypeAirtableUpdate, err)
		case isCallTimeout(callCtx):
			return Outcome{}, NewTimeoutError(models.StepTypeAirtableUpdate, err)
		default:
			return Outcome{}, NewUpstreamError(models.StepTypeAirtableUpdate, err)
		}
	}

	return Outcome{Output: recordID}, nil
}

func (i *Interpreter) executeDelay(ctx context.Context, params map[string]any) (Outcome, error) {
	var p DelayParams
	if err := decodeParams(models.StepTypeDelay, params, &p); err != nil {
		return Outcome{}, err
	}

	if p.Delay < 0 {
		return Outcome{}, NewValidationError(models.StepTypeDelay, "delay must not be negative")
	}

	// a cancelled delay returns the ctx cause unclassified
	if err := i.sleep(ctx, p.Delay.Duration()); err != nil {
		return Outcome{}, err
	}

	return Outcome{}, nil
}

func (i *Interpreter) executeCondition(params map[string]any) (Outcome, error) {
	var p ConditionParams
	if err := decodeParams(models.StepTypeCondition, params, &p); err != nil {
		return Outcome{}, err
	}

	met, err := Evaluate(p.Condition)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{Output: met, Halt: !met}, nil
}

// callContext detaches a collaborator call from execution cancellation, which only
// takes effect between steps, and bounds it by the call timeout instead.
func (i *Interpreter) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), i.callTimeout)
}

func isCallTimeout(call context.Context) bool {
	return errors.Is(call.Err(), context.DeadlineExceeded)
}
