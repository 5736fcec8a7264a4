// Package batch runs bulk charge calculations over a bounded worker pool.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/chargeflow/internal/bus"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("chargeflow-batch")

// Calculator computes charges for a single transaction.
type Calculator interface {
	Calculate(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error)
}

// Processor evaluates batches of transactions.
type Processor struct {
	calc        Calculator
	events      domain.EventBus
	concurrency int
	maxSize     int
	timeout     time.Duration
}

// NewProcessor creates a batch processor. events may be nil.
func NewProcessor(calc Calculator, events domain.EventBus, cfg domain.EngineConfig) *Processor {
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Processor{
		calc:        calc,
		events:      events,
		concurrency: concurrency,
		maxSize:     cfg.MaxBatchSize,
		timeout:     cfg.BatchTimeout,
	}
}

// outcome is the slot one worker fills for one input index.
type outcome struct {
	result *domain.CalculationResult
	err    error
	done   bool
}

// Process runs a bulk calculation under the configured batch timeout and
// publishes a summary when it finishes. When the deadline passes or ctx is
// cancelled the partial result is returned together with a Timeout error.
func (p *Processor) Process(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	if req == nil {
		return nil, domain.Errorf(domain.KindValidation, "batch request is required")
	}
	if p.maxSize > 0 && len(req.Transactions) > p.maxSize {
		return nil, domain.Errorf(domain.KindValidation, "batch of %d transactions exceeds the limit of %d", len(req.Transactions), p.maxSize)
	}

	ctx, span := tracer.Start(ctx, "batch.Process")
	defer span.End()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result, err := p.Run(ctx, req)
	if result == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.MessageOf(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.String("batch.id", result.BatchID),
		attribute.Int("batch.total", result.TotalTransactions),
		attribute.Int("batch.failed", result.FailedCalculations),
		attribute.Bool("batch.incomplete", result.Incomplete),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.MessageOf(err))
	}

	metrics.BatchSize.Observe(float64(result.RequestedTransactions))
	metrics.BatchDuration.WithLabelValues(strconv.FormatBool(result.Incomplete)).
		Observe(float64(result.ProcessingTimeMs) / 1000)

	slog.Info("batch processed",
		"batch_id", result.BatchID,
		"requested", result.RequestedTransactions,
		"successful", result.SuccessfulCalculations,
		"failed", result.FailedCalculations,
		"incomplete", result.Incomplete,
		"duration_ms", result.ProcessingTimeMs,
	)

	if p.events != nil {
		event := domain.BatchEvent{
			BatchID:     result.BatchID,
			Total:       result.TotalTransactions,
			Successful:  result.SuccessfulCalculations,
			Failed:      result.FailedCalculations,
			Incomplete:  result.Incomplete,
			ProcessedMs: result.ProcessingTimeMs,
		}
		if perr := bus.PublishJSON(ctx, p.events, domain.TopicBatchCompleted, event); perr != nil {
			slog.Warn("failed to publish batch event", "batch_id", result.BatchID, "error", perr)
		}
	}

	return result, err
}

// Run evaluates req without applying the configured timeout. Items are
// evaluated concurrently but folded in input order, so aggregates do not
// depend on scheduling. With StopOnError no new item is launched once a
// failure is seen, and nothing after the first failure in input order is
// counted.
func (p *Processor) Run(ctx context.Context, req *domain.BatchRequest) (*domain.BatchResult, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		return nil, err
	}

	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.New().String()
	}

	slots := make([]outcome, len(req.Transactions))
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	var stop atomic.Bool

launch:
	for i := range req.Transactions {
		if stop.Load() || ctx.Err() != nil {
			break
		}

		select {
		case sem <- struct{}{}: // Acquire
		case <-ctx.Done():
			break launch
		}
		if stop.Load() {
			<-sem
			break
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }() // Release

			res, err := p.calc.Calculate(ctx, req.Transactions[idx])
			if err != nil && ctx.Err() != nil {
				// interrupted, treated as never reached
				return
			}
			slots[idx] = outcome{result: res, err: err, done: true}
			if err != nil && req.StopOnError {
				stop.Store(true)
			}
		}(i)
	}

	wg.Wait()

	result := fold(batchID, req, slots)
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	if ctx.Err() != nil && result.Incomplete {
		return result, domain.Wrap(domain.KindTimeout, ctx.Err(),
			fmt.Sprintf("batch %s stopped after %d of %d transactions", batchID, result.TotalTransactions, result.RequestedTransactions))
	}
	return result, nil
}

func fold(batchID string, req *domain.BatchRequest, slots []outcome) *domain.BatchResult {
	result := domain.NewBatchResult(batchID, len(req.Transactions))
	result.Results = make([]*domain.CalculationResult, 0, len(req.Transactions))

	for i, o := range slots {
		if !o.done {
			continue
		}
		id := req.Transactions[i].TransactionID

		if o.err != nil {
			result.FailedCalculations++
			result.Errors[id] = string(domain.KindOf(o.err))
			result.ErrorDetails[id] = domain.MessageOf(o.err)
			if req.StopOnError {
				break
			}
			continue
		}

		result.SuccessfulCalculations++
		result.TransactionTypeCount[o.result.TransactionType]++
		for _, c := range o.result.CalculatedCharges {
			result.ChargesByRule[c.RuleCode] = result.ChargesByRule[c.RuleCode].Add(c.ChargeAmount)
		}
		result.TotalChargesCalculated = result.TotalChargesCalculated.Add(o.result.TotalCharges)
		result.Results = append(result.Results, o.result)
	}

	result.TotalTransactions = result.SuccessfulCalculations + result.FailedCalculations
	result.Incomplete = result.TotalTransactions < result.RequestedTransactions
	return result
}

func validate(req *domain.BatchRequest) error {
	if req == nil || len(req.Transactions) == 0 {
		return domain.Errorf(domain.KindValidation, "transactions must not be empty")
	}

	seen := make(map[string]int, len(req.Transactions))
	for i, tx := range req.Transactions {
		if tx.TransactionID == "" {
			return domain.Errorf(domain.KindValidation, "transaction at index %d has no transactionId", i)
		}
		if prev, ok := seen[tx.TransactionID]; ok {
			return domain.Errorf(domain.KindValidation, "transactionId %s appears at index %d and %d", tx.TransactionID, prev, i)
		}
		seen[tx.TransactionID] = i
	}
	return nil
}
