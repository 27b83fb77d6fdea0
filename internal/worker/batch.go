package worker

import (
	"context"
	"fmt"

	"github.com/ppiankov/feasia/internal/diagnose"
	"github.com/ppiankov/feasia/internal/logging"
	"github.com/ppiankov/feasia/internal/model"
	"github.com/ppiankov/feasia/internal/registry"
)

// Diagnoser diagnoses one expression
type Diagnoser interface {
	Diagnose(ctx context.Context, expr model.Expression) (*diagnose.DiagnosticResult, error)
}

// DiagnoseJob diagnoses one expression of a batch
type DiagnoseJob struct {
	Index      int
	Expression model.Expression
	Diagnoser  Diagnoser
}

// Execute runs the diagnosis
func (j *DiagnoseJob) Execute(ctx context.Context) Result {
	res, err := j.Diagnoser.Diagnose(ctx, j.Expression)
	return &DiagnoseResult{
		Index:        j.Index,
		ExpressionID: j.Expression.ID,
		Result:       res,
		Error:        err,
	}
}

// DiagnoseResult is the outcome of one batch entry
type DiagnoseResult struct {
	Index        int
	ExpressionID string
	Result       *diagnose.DiagnosticResult
	Error        error
}

// GetError returns the diagnosis error
func (r *DiagnoseResult) GetError() error {
	return r.Error
}

// BatchProcessor diagnoses many expressions concurrently
type BatchProcessor struct {
	diagnoser   Diagnoser
	concurrency int
	logger      *logging.Logger
}

// NewBatchProcessor creates a batch processor
func NewBatchProcessor(diagnoser Diagnoser, concurrency int, logger *logging.Logger) *BatchProcessor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BatchProcessor{
		diagnoser:   diagnoser,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ProcessExpressions diagnoses every expression and returns results in input
// order. A failed entry carries its error; it never aborts the batch.
func (b *BatchProcessor) ProcessExpressions(ctx context.Context, exprs []model.Expression) []*DiagnoseResult {
	if len(exprs) == 0 {
		return []*DiagnoseResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	// 1. Submit from a separate goroutine so results drain while jobs queue
	go func() {
		defer pool.Close()
		for i, expr := range exprs {
			job := &DiagnoseJob{Index: i, Expression: expr, Diagnoser: b.diagnoser}
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	// 2. Collect
	out := make([]*DiagnoseResult, len(exprs))
	for r := range pool.Results() {
		dr, ok := r.(*DiagnoseResult)
		if !ok {
			b.logger.Error("batch job failed", "error", r.GetError())
			continue
		}
		if dr.Error != nil {
			b.logger.Warn("diagnosis failed", "expression", dr.ExpressionID, "error", dr.Error)
		}
		out[dr.Index] = dr
	}

	// 3. Entries that never ran were cancelled or panicked
	for i, r := range out {
		if r != nil {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = fmt.Errorf("diagnosis of %s did not complete", exprs[i].ID)
		}
		out[i] = &DiagnoseResult{Index: i, ExpressionID: exprs[i].ID, Error: err}
	}

	return out
}

// ProcessDir loads every expression file in dir and diagnoses them
func (b *BatchProcessor) ProcessDir(ctx context.Context, dir string) ([]*DiagnoseResult, error) {
	exprs, err := registry.LoadExpressionDir(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("load expressions: %w", err)
	}
	b.logger.Info("batch loaded", "dir", dir, "expressions", len(exprs), "concurrency", b.concurrency)
	return b.ProcessExpressions(ctx, exprs), nil
}
