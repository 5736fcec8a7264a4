package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/chargeflow/internal/bus"
	"github.com/opensource-finance/chargeflow/internal/charges"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/repository"
	"github.com/shopspring/decimal"
)

// calcFunc adapts a function to Calculator.
type calcFunc func(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error)

func (f calcFunc) Calculate(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error) {
	return f(ctx, tx)
}

// fixedCharge charges 1.00 under rule R1 for every transaction, failing
// any transaction whose id is listed in fail.
func fixedCharge(fail map[string]bool) calcFunc {
	return func(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error) {
		if fail[tx.TransactionID] {
			return nil, domain.Errorf(domain.KindUnknownCustomer, "customer %s not found", tx.CustomerCode)
		}
		one := decimal.RequireFromString("1.00")
		return &domain.CalculationResult{
			TransactionID:   tx.TransactionID,
			TransactionType: tx.TransactionType,
			CalculatedCharges: []domain.CalculatedCharge{
				{RuleCode: "R1", ChargeAmount: one},
			},
			TotalCharges: one,
		}, nil
	}
}

func transactions(n int) []domain.Transaction {
	txs := make([]domain.Transaction, n)
	for i := range txs {
		txs[i] = domain.Transaction{
			TransactionID:   fmt.Sprintf("TX%03d", i),
			CustomerCode:    "CUST001",
			TransactionType: "ATM_WITHDRAWAL_OTHER",
			Amount:          decimal.NewFromInt(500),
			Channel:         "ATM",
		}
	}
	return txs
}

func newProcessor(calc Calculator, concurrency int) *Processor {
	return NewProcessor(calc, nil, domain.EngineConfig{BatchConcurrency: concurrency, MaxBatchSize: 100})
}

func TestBatchWithEngine(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "chargeflow-batch-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	engine, err := charges.NewEngine(repo, repo, nil, time.Minute)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	engine.Load([]*domain.Rule{{
		ID:           "r1",
		RuleCode:     "ATM01",
		RuleName:     "Other bank ATM",
		ActivityType: "ATM_WITHDRAWAL_OTHER",
		Channel:      "ATM",
		FeeType:      domain.FeeTypeFlat,
		FeeValue:     decimal.RequireFromString("25"),
		Status:       domain.RuleStatusActive,
		Seq:          1,
	}})

	txs := transactions(3)
	txs[1].CustomerCode = "NOPE"

	p := newProcessor(engine, 4)
	res, err := p.Process(context.Background(), &domain.BatchRequest{BatchID: "B1", Transactions: txs})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.TotalTransactions != 3 || res.SuccessfulCalculations != 2 || res.FailedCalculations != 1 {
		t.Errorf("unexpected counts: total=%d ok=%d failed=%d", res.TotalTransactions, res.SuccessfulCalculations, res.FailedCalculations)
	}
	if res.Errors["TX001"] != string(domain.KindUnknownCustomer) {
		t.Errorf("expected UnknownCustomer for TX001, got %q", res.Errors["TX001"])
	}
	if res.ErrorDetails["TX001"] == "" {
		t.Error("expected error detail for TX001")
	}
	if !res.TotalChargesCalculated.Equal(decimal.RequireFromString("50")) {
		t.Errorf("expected total 50.00, got %s", res.TotalChargesCalculated)
	}
	if !res.ChargesByRule["ATM01"].Equal(decimal.RequireFromString("50")) {
		t.Errorf("expected ATM01 total 50.00, got %s", res.ChargesByRule["ATM01"])
	}
	if res.TransactionTypeCount["ATM_WITHDRAWAL_OTHER"] != 2 {
		t.Errorf("expected 2 ATM transactions, got %d", res.TransactionTypeCount["ATM_WITHDRAWAL_OTHER"])
	}
	if res.Incomplete {
		t.Error("batch without stopOnError should be complete")
	}
}

func TestEveryItemAccountedOnce(t *testing.T) {
	fail := map[string]bool{}
	for i := 0; i < 50; i += 7 {
		fail[fmt.Sprintf("TX%03d", i)] = true
	}

	for _, concurrency := range []int{1, 4, 16} {
		t.Run("Concurrency"+strconv.Itoa(concurrency), func(t *testing.T) {
			txs := transactions(50)
			res, err := newProcessor(fixedCharge(fail), concurrency).Process(context.Background(), &domain.BatchRequest{Transactions: txs})
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}

			if res.TotalTransactions != res.SuccessfulCalculations+res.FailedCalculations {
				t.Errorf("total %d != ok %d + failed %d", res.TotalTransactions, res.SuccessfulCalculations, res.FailedCalculations)
			}
			if res.TotalTransactions != 50 {
				t.Errorf("expected 50 transactions, got %d", res.TotalTransactions)
			}

			succeeded := map[string]bool{}
			for i, r := range res.Results {
				succeeded[r.TransactionID] = true
				if i > 0 && res.Results[i-1].TransactionID >= r.TransactionID {
					t.Errorf("results out of input order at %d", i)
				}
			}
			for _, tx := range txs {
				_, failed := res.Errors[tx.TransactionID]
				if failed == succeeded[tx.TransactionID] {
					t.Errorf("%s must be in exactly one of results or errors", tx.TransactionID)
				}
			}

			want := decimal.NewFromInt(int64(res.SuccessfulCalculations))
			if !res.TotalChargesCalculated.Equal(want) {
				t.Errorf("expected total %s, got %s", want, res.TotalChargesCalculated)
			}
		})
	}
}

func TestStopOnError(t *testing.T) {
	// TX003 fails quickly while earlier items are slow, so the failure is
	// observed before they finish.
	calc := calcFunc(func(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error) {
		n, _ := strconv.Atoi(strings.TrimPrefix(tx.TransactionID, "TX"))
		if n == 3 {
			return nil, domain.Errorf(domain.KindInvalidAmount, "bad amount")
		}
		if n < 3 {
			time.Sleep(20 * time.Millisecond)
		}
		return fixedCharge(nil)(ctx, tx)
	})

	for _, concurrency := range []int{1, 8} {
		t.Run("Concurrency"+strconv.Itoa(concurrency), func(t *testing.T) {
			res, err := newProcessor(calc, concurrency).Process(context.Background(), &domain.BatchRequest{
				Transactions: transactions(20),
				StopOnError:  true,
			})
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}

			if res.SuccessfulCalculations != 3 || res.FailedCalculations != 1 {
				t.Errorf("expected 3 ok and 1 failed, got %d and %d", res.SuccessfulCalculations, res.FailedCalculations)
			}
			if res.TotalTransactions != 4 {
				t.Errorf("expected 4 transactions counted, got %d", res.TotalTransactions)
			}
			for _, r := range res.Results {
				n, _ := strconv.Atoi(strings.TrimPrefix(r.TransactionID, "TX"))
				if n > 3 {
					t.Errorf("%s is after the first failure but was counted", r.TransactionID)
				}
			}
			if len(res.Errors) != 1 {
				t.Errorf("expected one error, got %v", res.Errors)
			}
			if !res.Incomplete {
				t.Error("expected stopped batch to be marked incomplete")
			}
		})
	}
}

func TestCancellation(t *testing.T) {
	calc := calcFunc(func(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error) {
		if tx.TransactionID == "TX000" || tx.TransactionID == "TX001" {
			return fixedCharge(nil)(ctx, tx)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	p := NewProcessor(calc, nil, domain.EngineConfig{BatchConcurrency: 1, BatchTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := p.Process(context.Background(), &domain.BatchRequest{Transactions: transactions(10)})
	if !domain.IsKind(err, domain.KindTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("cancellation took too long: %v", time.Since(start))
	}
	if res == nil {
		t.Fatal("expected partial result with Timeout")
	}
	if !res.Incomplete {
		t.Error("expected incomplete result")
	}
	if res.SuccessfulCalculations != 2 || res.FailedCalculations != 0 {
		t.Errorf("expected the two finished items only, got ok=%d failed=%d", res.SuccessfulCalculations, res.FailedCalculations)
	}
	if res.RequestedTransactions != 10 {
		t.Errorf("expected 10 requested, got %d", res.RequestedTransactions)
	}
}

func TestValidation(t *testing.T) {
	p := newProcessor(fixedCharge(nil), 2)

	dup := transactions(3)
	dup[2].TransactionID = dup[0].TransactionID
	missing := transactions(2)
	missing[1].TransactionID = ""

	tests := []struct {
		name string
		req  *domain.BatchRequest
	}{
		{"Nil", nil},
		{"Empty", &domain.BatchRequest{}},
		{"DuplicateID", &domain.BatchRequest{Transactions: dup}},
		{"MissingID", &domain.BatchRequest{Transactions: missing}},
		{"TooLarge", &domain.BatchRequest{Transactions: transactions(101)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := p.Process(context.Background(), tt.req)
			if !domain.IsKind(err, domain.KindValidation) {
				t.Errorf("expected ValidationError, got %v", err)
			}
			if res != nil {
				t.Error("expected no result for invalid batch")
			}
		})
	}
}

func TestBatchIDAndEvent(t *testing.T) {
	events := bus.NewChannelBus(10)
	defer events.Close()

	got := make(chan domain.BatchEvent, 1)
	_, err := events.Subscribe(context.Background(), domain.TopicBatchCompleted, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.BatchEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		got <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var calls atomic.Int32
	calc := calcFunc(func(ctx context.Context, tx domain.Transaction) (*domain.CalculationResult, error) {
		calls.Add(1)
		return fixedCharge(nil)(ctx, tx)
	})

	p := NewProcessor(calc, events, domain.EngineConfig{BatchConcurrency: 2})
	res, err := p.Process(context.Background(), &domain.BatchRequest{Transactions: transactions(5)})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.BatchID == "" {
		t.Error("expected generated batch id")
	}
	if calls.Load() != 5 {
		t.Errorf("expected 5 calculations, got %d", calls.Load())
	}

	select {
	case ev := <-got:
		if ev.BatchID != res.BatchID || ev.Total != 5 || ev.Successful != 5 {
			t.Errorf("unexpected batch event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for batch event")
	}
}
