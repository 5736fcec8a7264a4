// Package harness runs scenario sets against the charge engine for a
// chosen customer.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/chargeflow/internal/batch"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	// DefaultCustomer is used when a run names no customer.
	DefaultCustomer = "CUST001"

	defaultQuickType   = "ATM_WITHDRAWAL_PARENT"
	defaultQuickAmount = 1000
	maxSimulate        = 1000
)

// Engine is the part of the charge engine the harness drives.
type Engine interface {
	batch.Calculator
	ResolveCustomer(ctx context.Context, code string) (*domain.Customer, error)
}

// Request selects either a named suite or an explicit scenario list.
type Request struct {
	TestSuiteID      string     `json:"testSuiteId,omitempty"`
	CustomerCode     string     `json:"customerCode,omitempty"`
	TestTransactions []Scenario `json:"testTransactions,omitempty"`
	TestDescription  string     `json:"testDescription,omitempty"`
}

// TransactionResult is the outcome of one scenario.
type TransactionResult struct {
	Description               string                    `json:"description,omitempty"`
	TransactionType           string                    `json:"transactionType"`
	TransactionAmount         decimal.Decimal           `json:"transactionAmount"`
	Channel                   string                    `json:"channel"`
	ApplicableCharges         []domain.CalculatedCharge `json:"applicableCharges"`
	TotalChargeForTransaction decimal.Decimal           `json:"totalChargeForTransaction"`
	RulesApplied              int                       `json:"rulesApplied"`
	Error                     string                    `json:"error,omitempty"`
}

// Result aggregates a harness run.
type Result struct {
	TestSuiteID                       string              `json:"testSuiteId,omitempty"`
	TestSuiteName                     string              `json:"testSuiteName"`
	CustomerCode                      string              `json:"customerCode"`
	CustomerName                      string              `json:"customerName"`
	CustomerType                      domain.CustomerType `json:"customerType"`
	TotalTransactionsTested           int                 `json:"totalTransactionsTested"`
	TransactionsWithCharges           int                 `json:"transactionsWithCharges"`
	TotalChargesAcrossAllTransactions decimal.Decimal     `json:"totalChargesAcrossAllTransactions"`
	TransactionResults                []TransactionResult `json:"transactionResults"`
	ProcessingTimeMs                  int64               `json:"processingTimeMs"`
	Incomplete                        bool                `json:"incomplete"`
}

// CatalogueView is the grouped scenario catalogue shown to the dashboard.
type CatalogueView struct {
	ATMScenarios      []Scenario        `json:"atm_scenarios"`
	TransferScenarios []Scenario        `json:"transfer_scenarios"`
	SpecialScenarios  []Scenario        `json:"special_scenarios"`
	SampleCustomers   []domain.Customer `json:"sample_customers"`
	Suites            []SuiteSummary    `json:"suites"`
}

// SuiteSummary describes a suite without its scenarios.
type SuiteSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Scenarios   int    `json:"scenarios"`
}

// Harness runs scenarios through the engine.
type Harness struct {
	engine    Engine
	customers domain.CustomerStore
	runner    *batch.Processor
	timeout   time.Duration
}

// New creates a harness. Scenario lists run on a batch processor sharing
// the engine's concurrency settings.
func New(engine Engine, customers domain.CustomerStore, cfg domain.EngineConfig) *Harness {
	return &Harness{
		engine:    engine,
		customers: customers,
		runner:    batch.NewProcessor(engine, nil, cfg),
		timeout:   cfg.HarnessTimeout,
	}
}

// Catalogue returns the scenario templates grouped by tag plus the known
// customers.
func (h *Harness) Catalogue(ctx context.Context) (*CatalogueView, error) {
	view := &CatalogueView{
		ATMScenarios:      Templates(TagATM),
		TransferScenarios: Templates(TagTransfer),
		SpecialScenarios:  Templates(TagSpecial),
		SampleCustomers:   []domain.Customer{},
	}
	for _, s := range Suites() {
		view.Suites = append(view.Suites, SuiteSummary{ID: s.ID, Name: s.Name, Description: s.Description, Scenarios: len(s.Scenarios)})
	}

	customers, err := h.customers.ListCustomers(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to list customers")
	}
	for _, c := range customers {
		view.SampleCustomers = append(view.SampleCustomers, *c)
	}
	return view, nil
}

// Run executes a named suite when TestSuiteID is set, otherwise the
// explicit scenario list.
func (h *Harness) Run(ctx context.Context, req *Request) (*Result, error) {
	if req == nil {
		return nil, domain.Errorf(domain.KindValidation, "test request is required")
	}

	if req.TestSuiteID != "" {
		return h.RunSuite(ctx, req.TestSuiteID, req.CustomerCode)
	}

	name := req.TestDescription
	if name == "" {
		name = "Custom Test Suite"
	}
	return h.RunScenarios(ctx, "", name, req.CustomerCode, req.TestTransactions)
}

// RunSuite executes a named suite for one customer.
func (h *Harness) RunSuite(ctx context.Context, suiteID, customerCode string) (*Result, error) {
	suite, ok := FindSuite(suiteID)
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "test suite %s not found", suiteID)
	}
	return h.RunScenarios(ctx, suite.ID, suite.Name, customerCode, suite.Scenarios)
}

// RunScenarios resolves the customer once, then evaluates every scenario.
// An unknown customer fails the whole run. When the harness deadline passes
// the scenarios finished so far are returned with a Timeout error.
func (h *Harness) RunScenarios(ctx context.Context, suiteID, suiteName, customerCode string, scenarios []Scenario) (*Result, error) {
	start := time.Now()

	if len(scenarios) == 0 {
		return nil, domain.Errorf(domain.KindValidation, "at least one test transaction is required")
	}
	if customerCode == "" {
		customerCode = DefaultCustomer
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	customer, err := h.engine.ResolveCustomer(ctx, customerCode)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	txs := make([]domain.Transaction, len(scenarios))
	now := time.Now().UTC()
	for i, s := range scenarios {
		txs[i] = domain.Transaction{
			TransactionID:   fmt.Sprintf("%s-%04d", runID, i),
			CustomerCode:    customer.Code,
			TransactionType: s.TransactionType,
			Amount:          s.Amount,
			Channel:         s.Channel,
			TransactionDate: now,
		}
	}

	br, runErr := h.runner.Run(ctx, &domain.BatchRequest{BatchID: runID, Transactions: txs})
	if br == nil {
		return nil, runErr
	}

	result := &Result{
		TestSuiteID:                       suiteID,
		TestSuiteName:                     suiteName,
		CustomerCode:                      customer.Code,
		CustomerName:                      customer.Name,
		CustomerType:                      customer.Type,
		TotalChargesAcrossAllTransactions: decimal.Zero,
		TransactionResults:                make([]TransactionResult, 0, len(scenarios)),
		Incomplete:                        br.Incomplete,
	}

	calculated := make(map[string]*domain.CalculationResult, len(br.Results))
	for _, r := range br.Results {
		calculated[r.TransactionID] = r
	}

	for i, s := range scenarios {
		id := txs[i].TransactionID
		tr := TransactionResult{
			Description:               s.Description,
			TransactionType:           s.TransactionType,
			TransactionAmount:         s.Amount,
			Channel:                   s.Channel,
			ApplicableCharges:         []domain.CalculatedCharge{},
			TotalChargeForTransaction: decimal.Zero,
		}

		if r, ok := calculated[id]; ok {
			tr.ApplicableCharges = r.CalculatedCharges
			tr.TotalChargeForTransaction = r.TotalCharges
			tr.RulesApplied = len(r.CalculatedCharges)
			if r.HasCharges() {
				result.TransactionsWithCharges++
			}
			result.TotalChargesAcrossAllTransactions = result.TotalChargesAcrossAllTransactions.Add(r.TotalCharges)
		} else if detail, failed := br.ErrorDetails[id]; failed {
			tr.Error = detail
		} else {
			continue
		}

		result.TotalTransactionsTested++
		result.TransactionResults = append(result.TransactionResults, tr)
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	slog.Info("test run finished",
		"suite", suiteName,
		"customer_code", customer.Code,
		"tested", result.TotalTransactionsTested,
		"with_charges", result.TransactionsWithCharges,
		"incomplete", result.Incomplete,
		"duration_ms", result.ProcessingTimeMs,
	)

	return result, runErr
}

// QuickTest runs a single calculation. Empty arguments fall back to
// CUST001, ATM_WITHDRAWAL_PARENT and 1000.
func (h *Harness) QuickTest(ctx context.Context, customerCode, txType string, amount *decimal.Decimal) (*domain.CalculationResult, error) {
	if customerCode == "" {
		customerCode = DefaultCustomer
	}
	if txType == "" {
		txType = defaultQuickType
	}
	amt := decimal.NewFromInt(defaultQuickAmount)
	if amount != nil {
		amt = *amount
	}

	return h.engine.Calculate(ctx, domain.Transaction{
		TransactionID:   "QUICK-" + uuid.New().String(),
		CustomerCode:    customerCode,
		TransactionType: txType,
		Amount:          amt,
		Channel:         defaultChannel(txType),
		TransactionDate: time.Now().UTC(),
	})
}

// Simulate runs count transactions cycling through the catalogue templates
// in a fixed order.
func (h *Harness) Simulate(ctx context.Context, customerCode string, count int) (*Result, error) {
	if count <= 0 || count > maxSimulate {
		return nil, domain.Errorf(domain.KindValidation, "transactionCount must be between 1 and %d", maxSimulate)
	}

	pool := all()
	scenarios := make([]Scenario, count)
	for i := range scenarios {
		s := pool[i%len(pool)]
		s.Description = fmt.Sprintf("Simulated #%d: %s", i+1, s.Description)
		scenarios[i] = s
	}
	return h.RunScenarios(ctx, "", "Simulation", customerCode, scenarios)
}
