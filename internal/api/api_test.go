package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/chargeflow/internal/batch"
	"github.com/opensource-finance/chargeflow/internal/bus"
	"github.com/opensource-finance/chargeflow/internal/cache"
	"github.com/opensource-finance/chargeflow/internal/charges"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/harness"
	"github.com/opensource-finance/chargeflow/internal/lifecycle"
	"github.com/opensource-finance/chargeflow/internal/repository"
	"github.com/opensource-finance/chargeflow/internal/settlement"
	"github.com/opensource-finance/chargeflow/internal/stats"
	"github.com/opensource-finance/chargeflow/internal/users"
	"github.com/opensource-finance/chargeflow/internal/worker"
	"github.com/shopspring/decimal"
)

const root = DefaultAPIRoot

// createTestServer wires every service against a temporary SQLite file.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "chargeflow-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(1000)
	events := bus.NewChannelBus(100)
	t.Cleanup(func() { events.Close() })

	engine, err := charges.NewEngine(repo, repo, lru, time.Minute)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	ruleSync := worker.NewWorker(events, engine)
	if err := ruleSync.Start(); err != nil {
		t.Fatalf("failed to start rule sync: %v", err)
	}
	t.Cleanup(func() { ruleSync.Stop() })

	engineCfg := domain.EngineConfig{
		BatchConcurrency: 4,
		MaxBatchSize:     100,
		BatchTimeout:     10 * time.Second,
		HarnessTimeout:   10 * time.Second,
	}

	svc := Services{
		Repo:        repo,
		Cache:       lru,
		Bus:         events,
		Engine:      engine,
		Lifecycle:   lifecycle.NewService(repo, engine.Conditions(), engine, events),
		Batch:       batch.NewProcessor(engine, events, engineCfg),
		Harness:     harness.New(engine, repo, engineCfg),
		Settlements: settlement.NewWorkflow(repo, events),
		Users:       users.NewService(repo),
		Stats:       stats.NewTracker(lru, repo),
		RuleSync:    ruleSync,
		Version:     "test-v1",
	}

	return NewServer(domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}, svc)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    domain.Kind     `json:"kind"`
}

func do(t *testing.T, server *Server, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("failed to decode envelope: %v (%s)", err, rr.Body.String())
		}
	}
	return rr, env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("failed to decode data: %v (%s)", err, string(env.Data))
	}
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, env envelope, status int, kind domain.Kind) {
	t.Helper()
	if rr.Code != status {
		t.Errorf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	if env.Success {
		t.Error("expected success=false")
	}
	if env.Kind != kind {
		t.Errorf("expected kind %s, got %s", kind, env.Kind)
	}
}

func atmRule(code string) map[string]any {
	return map[string]any{
		"ruleCode":     code,
		"ruleName":     "Other bank ATM withdrawal",
		"category":     domain.CategoryATM,
		"activityType": "ATM_WITHDRAWAL_OTHER",
		"channel":      "ATM",
		"feeType":      domain.FeeTypeFlat,
		"feeValue":     "25",
	}
}

// activeRule creates and approves an ATM rule through the API.
func activeRule(t *testing.T, server *Server, code string) domain.Rule {
	t.Helper()

	rr, env := do(t, server, http.MethodPost, root+"/rules", atmRule(code))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var rule domain.Rule
	decodeData(t, env, &rule)

	rr, env = do(t, server, http.MethodPost, root+"/rules/"+rule.ID+"/approve", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeData(t, env, &rule)
	return rule
}

func TestHealthEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr, env := do(t, server, http.MethodGet, root+"/health", nil)
		if rr.Code != http.StatusOK || !env.Success {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var body struct {
			Status  string            `json:"status"`
			Version string            `json:"version"`
			Checks  map[string]string `json:"checks"`
			Cache   *cache.Stats      `json:"cacheStats"`
			Sync    *worker.Stats     `json:"ruleSync"`
		}
		decodeData(t, env, &body)
		if body.Status != "healthy" || body.Version != "test-v1" {
			t.Errorf("unexpected health: %+v", body)
		}
		if body.Cache == nil || body.Cache.Capacity != 1000 {
			t.Errorf("expected LRU stats in health, got %+v", body.Cache)
		}
		if body.Sync == nil || body.Sync.SubscriptionCount != 1 {
			t.Errorf("expected rule sync stats in health, got %+v", body.Sync)
		}
		for _, name := range []string{"database", "cache", "bus"} {
			if body.Checks[name] != "up" {
				t.Errorf("expected %s up, got %q", name, body.Checks[name])
			}
		}
	})

	t.Run("DatabaseTest", func(t *testing.T) {
		rr, _ := do(t, server, http.MethodGet, root+"/database/test", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, root+"/rules", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("unexpected allow origin %q", got)
		}
	})

	t.Run("RequestIDEchoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, root+"/welcome", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if got := rr.Header().Get(RequestIDHeader); got != "req-123" {
			t.Errorf("expected request id echoed, got %q", got)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)
	rule := activeRule(t, server, "ATM_OTHER_01")

	t.Run("ActiveAfterApprove", func(t *testing.T) {
		if rule.Status != domain.RuleStatusActive || rule.Version != 2 {
			t.Errorf("expected ACTIVE v2, got %s v%d", rule.Status, rule.Version)
		}
	})

	t.Run("DuplicateCode", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/rules", atmRule("ATM_OTHER_01"))
		expectError(t, rr, env, http.StatusConflict, domain.KindConflict)
	})

	t.Run("InvalidBody", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/rules", "{not json")
		expectError(t, rr, env, http.StatusBadRequest, domain.KindValidation)
	})

	t.Run("ApproveTwice", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/rules/"+rule.ID+"/approve", nil)
		expectError(t, rr, env, http.StatusConflict, domain.KindInvalidTransition)
	})

	t.Run("DeleteActive", func(t *testing.T) {
		rr, env := do(t, server, http.MethodDelete, root+"/rules/"+rule.ID, nil)
		expectError(t, rr, env, http.StatusConflict, domain.KindInvalidTransition)
	})

	t.Run("NotFound", func(t *testing.T) {
		rr, env := do(t, server, http.MethodGet, root+"/rules/missing", nil)
		expectError(t, rr, env, http.StatusNotFound, domain.KindNotFound)
	})

	t.Run("ByCode", func(t *testing.T) {
		rr, env := do(t, server, http.MethodGet, root+"/rules/code/ATM_OTHER_01", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var got domain.Rule
		decodeData(t, env, &got)
		if got.ID != rule.ID {
			t.Errorf("expected %s, got %s", rule.ID, got.ID)
		}
	})

	t.Run("ListAndFilters", func(t *testing.T) {
		do(t, server, http.MethodPost, root+"/rules", atmRule("ATM_OTHER_02"))

		var list []domain.Rule
		_, env := do(t, server, http.MethodGet, root+"/rules", nil)
		decodeData(t, env, &list)
		if len(list) != 2 {
			t.Errorf("expected 2 rules, got %d", len(list))
		}

		_, env = do(t, server, http.MethodGet, root+"/rules/active", nil)
		decodeData(t, env, &list)
		if len(list) != 1 || list[0].RuleCode != "ATM_OTHER_01" {
			t.Errorf("unexpected active rules: %+v", list)
		}

		_, env = do(t, server, http.MethodGet, root+"/rules/pending-approval", nil)
		decodeData(t, env, &list)
		if len(list) != 1 || list[0].RuleCode != "ATM_OTHER_02" {
			t.Errorf("unexpected pending rules: %+v", list)
		}

		rr, env := do(t, server, http.MethodGet, root+"/rules?status=BOGUS", nil)
		expectError(t, rr, env, http.StatusBadRequest, domain.KindValidation)
	})

	t.Run("Statistics", func(t *testing.T) {
		rr, env := do(t, server, http.MethodGet, root+"/rules/statistics", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var st domain.RuleStatistics
		decodeData(t, env, &st)
		if st.ActiveRules != 1 || st.DraftRules != 1 {
			t.Errorf("unexpected statistics: %+v", st)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		bad := atmRule("BAD")
		bad["feeValue"] = "-1"
		rr, env := do(t, server, http.MethodPost, root+"/rules/validate", bad)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var res struct {
			Valid  bool     `json:"valid"`
			Errors []string `json:"errors"`
		}
		decodeData(t, env, &res)
		if res.Valid || len(res.Errors) == 0 {
			t.Errorf("expected invalid rule, got %+v", res)
		}
	})

	t.Run("BulkAction", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/rules/bulk-action", BulkActionRequest{
			Action:  domain.ActionDeactivate,
			RuleIDs: []string{rule.ID, "missing"},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res struct {
			Succeeded int `json:"succeeded"`
			Failed    int `json:"failed"`
		}
		decodeData(t, env, &res)
		if res.Succeeded != 1 || res.Failed != 1 {
			t.Errorf("expected 1 succeeded and 1 failed, got %+v", res)
		}
	})
}

func TestChargeEndpoints(t *testing.T) {
	server := createTestServer(t)
	activeRule(t, server, "ATM_OTHER_01")

	t.Run("Calculate", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/charges/calculate", map[string]any{
			"transactionId":   "TXN001",
			"customerCode":    "CUST001",
			"transactionType": "ATM_WITHDRAWAL_OTHER",
			"amount":          "500",
			"channel":         "ATM",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res domain.CalculationResult
		decodeData(t, env, &res)
		if !res.TotalCharges.Equal(decimal.NewFromInt(25)) || len(res.CalculatedCharges) != 1 {
			t.Errorf("expected one 25.00 charge, got %s (%d)", res.TotalCharges, len(res.CalculatedCharges))
		}
	})

	t.Run("GeneratedTransactionID", func(t *testing.T) {
		_, env := do(t, server, http.MethodPost, root+"/charges/calculate", map[string]any{
			"customerCode":    "CUST001",
			"transactionType": "BALANCE_ENQUIRY",
			"amount":          "0",
			"channel":         "ATM",
		})
		var res domain.CalculationResult
		decodeData(t, env, &res)
		if res.TransactionID == "" {
			t.Error("expected a generated transaction id")
		}
		if !res.TotalCharges.IsZero() {
			t.Errorf("expected zero charges, got %s", res.TotalCharges)
		}
	})

	t.Run("UnknownCustomer", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/charges/calculate", map[string]any{
			"customerCode":    "NOPE",
			"transactionType": "ATM_WITHDRAWAL_OTHER",
			"amount":          "500",
		})
		expectError(t, rr, env, http.StatusUnprocessableEntity, domain.KindUnknownCustomer)
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/charges/calculate", map[string]any{
			"customerCode":    "CUST001",
			"transactionType": "ATM_WITHDRAWAL_OTHER",
			"amount":          "-1",
		})
		expectError(t, rr, env, http.StatusUnprocessableEntity, domain.KindInvalidAmount)
	})

	t.Run("ValidateTransaction", func(t *testing.T) {
		_, env := do(t, server, http.MethodPost, root+"/charges/validate", map[string]any{
			"customerCode": "NOPE",
			"amount":       "-5",
		})
		var check TransactionCheck
		decodeData(t, env, &check)
		if check.Valid || len(check.Errors) != 3 {
			t.Errorf("expected 3 problems, got %+v", check)
		}
	})

	t.Run("BulkCalculate", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/charges/bulk-calculate", map[string]any{
			"batchId": "B1",
			"transactions": []map[string]any{
				{"transactionId": "T1", "customerCode": "CUST001", "transactionType": "ATM_WITHDRAWAL_OTHER", "amount": "500", "channel": "ATM"},
				{"transactionId": "T2", "customerCode": "CUST002", "transactionType": "ATM_WITHDRAWAL_OTHER", "amount": "100", "channel": "ATM"},
				{"transactionId": "T3", "customerCode": "UNKNOWN", "transactionType": "ATM_WITHDRAWAL_OTHER", "amount": "100", "channel": "ATM"},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res domain.BatchResult
		decodeData(t, env, &res)
		if res.TotalTransactions != 3 || res.SuccessfulCalculations != 2 || res.FailedCalculations != 1 {
			t.Errorf("unexpected counts: %+v", res)
		}
		if !res.TotalChargesCalculated.Equal(decimal.NewFromInt(50)) {
			t.Errorf("expected 50.00, got %s", res.TotalChargesCalculated)
		}
		if res.Errors["T3"] != string(domain.KindUnknownCustomer) {
			t.Errorf("expected T3 UnknownCustomer, got %q", res.Errors["T3"])
		}
	})

	t.Run("BulkEmpty", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/charges/bulk-calculate", map[string]any{"transactions": []any{}})
		expectError(t, rr, env, http.StatusBadRequest, domain.KindValidation)
		if strings.Contains(rr.Body.String(), `"data"`) {
			t.Errorf("expected no data field without a partial result, got %s", rr.Body.String())
		}
	})

	t.Run("RunSuite", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/charges/test", harness.Request{TestSuiteID: "atm_scenarios"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res harness.Result
		decodeData(t, env, &res)
		if res.TotalTransactionsTested != 3 || res.TransactionsWithCharges != 2 {
			t.Errorf("unexpected run: %d tested, %d charged", res.TotalTransactionsTested, res.TransactionsWithCharges)
		}
	})

	t.Run("UnknownSuite", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/charges/test", harness.Request{TestSuiteID: "nope"})
		expectError(t, rr, env, http.StatusNotFound, domain.KindNotFound)
		if strings.Contains(rr.Body.String(), `"data"`) {
			t.Errorf("expected no data field without a partial result, got %s", rr.Body.String())
		}
	})

	t.Run("QuickTest", func(t *testing.T) {
		rr, env := do(t, server, http.MethodGet, root+"/charges/quick-test?transactionType=ATM_WITHDRAWAL_OTHER&amount=200", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res domain.CalculationResult
		decodeData(t, env, &res)
		if res.CustomerCode != harness.DefaultCustomer || !res.TotalCharges.Equal(decimal.NewFromInt(25)) {
			t.Errorf("unexpected quick test: %s %s", res.CustomerCode, res.TotalCharges)
		}

		rr, env = do(t, server, http.MethodGet, root+"/charges/quick-test?amount=abc", nil)
		expectError(t, rr, env, http.StatusBadRequest, domain.KindValidation)
	})

	t.Run("Simulate", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/charges/simulate?transactionCount=7", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var res harness.Result
		decodeData(t, env, &res)
		if res.TotalTransactionsTested != 7 {
			t.Errorf("expected 7 simulated, got %d", res.TotalTransactionsTested)
		}

		rr, env = do(t, server, http.MethodPost, root+"/charges/simulate?transactionCount=0", nil)
		expectError(t, rr, env, http.StatusBadRequest, domain.KindValidation)
	})

	t.Run("Catalogue", func(t *testing.T) {
		rr, env := do(t, server, http.MethodGet, root+"/charges/test-scenarios", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var view harness.CatalogueView
		decodeData(t, env, &view)
		if len(view.SampleCustomers) != 3 || len(view.Suites) != 5 {
			t.Errorf("expected 3 customers and 5 suites, got %d and %d", len(view.SampleCustomers), len(view.Suites))
		}

		rr, _ = do(t, server, http.MethodGet, root+"/charges/sample-requests", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("StatisticsAndHealth", func(t *testing.T) {
		_, env := do(t, server, http.MethodGet, root+"/charges/statistics", nil)
		var st stats.Statistics
		decodeData(t, env, &st)
		if st.SystemStatus != stats.StatusOperational {
			t.Errorf("expected OPERATIONAL, got %s", st.SystemStatus)
		}
		if st.TotalCalculationsToday == 0 {
			t.Error("expected calculations to be counted")
		}

		_, env = do(t, server, http.MethodGet, root+"/charges/health", nil)
		var health struct {
			Status      string `json:"status"`
			ActiveRules int    `json:"activeRules"`
		}
		decodeData(t, env, &health)
		if health.Status != "UP" || health.ActiveRules != 1 {
			t.Errorf("unexpected charge health: %+v", health)
		}
	})
}

func TestSettlementEndpoints(t *testing.T) {
	server := createTestServer(t)

	create := func(t *testing.T) domain.Settlement {
		t.Helper()
		rr, env := do(t, server, http.MethodPost, root+"/settlements", map[string]any{
			"customerCode":   "CUST001",
			"accountNumber":  "ACC-1001",
			"settlementType": domain.SettlementDebit,
			"amount":         "150.00",
			"requestedBy":    "ops",
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		var s domain.Settlement
		decodeData(t, env, &s)
		return s
	}

	t.Run("ApproveThenProcess", func(t *testing.T) {
		s := create(t)
		if s.Status != domain.SettlementPending {
			t.Fatalf("expected PENDING, got %s", s.Status)
		}

		_, env := do(t, server, http.MethodPost, root+"/settlements/"+s.ID+"/approve", settlement.Review{ReviewedBy: "checker", Remarks: "ok"})
		decodeData(t, env, &s)
		if s.Status != domain.SettlementApproved || s.ReviewedBy != "checker" {
			t.Errorf("unexpected approve result: %s by %q", s.Status, s.ReviewedBy)
		}

		rr, env := do(t, server, http.MethodPost, root+"/settlements/"+s.ID+"/process", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		decodeData(t, env, &s)
		if s.Status != domain.SettlementProcessed {
			t.Errorf("expected PROCESSED, got %s", s.Status)
		}

		rr, env = do(t, server, http.MethodPost, root+"/settlements/"+s.ID+"/reject", nil)
		expectError(t, rr, env, http.StatusConflict, domain.KindInvalidTransition)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/settlements", map[string]any{
			"customerCode":   "CUST001",
			"accountNumber":  "ACC-1001",
			"settlementType": domain.SettlementCredit,
			"amount":         "0",
		})
		expectError(t, rr, env, http.StatusBadRequest, domain.KindValidation)
	})

	t.Run("List", func(t *testing.T) {
		create(t)
		today := time.Now().UTC().Format(dateLayout)

		var list []domain.Settlement
		rr, env := do(t, server, http.MethodGet, root+"/settlements?status=PENDING&dateFrom="+today+"&dateTo="+today, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		decodeData(t, env, &list)
		if len(list) != 1 {
			t.Errorf("expected 1 pending settlement today, got %d", len(list))
		}

		rr, env = do(t, server, http.MethodGet, root+"/settlements?dateFrom=yesterday", nil)
		expectError(t, rr, env, http.StatusBadRequest, domain.KindValidation)
	})

	t.Run("NotFound", func(t *testing.T) {
		rr, env := do(t, server, http.MethodGet, root+"/settlements/missing", nil)
		expectError(t, rr, env, http.StatusNotFound, domain.KindNotFound)
	})
}

func TestUserEndpoints(t *testing.T) {
	server := createTestServer(t)

	rr, env := do(t, server, http.MethodPost, root+"/users", map[string]any{
		"username":  "alice",
		"email":     "Alice@Example.com",
		"firstName": "Alice",
		"role":      domain.RoleCreator,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var u domain.User
	decodeData(t, env, &u)
	if u.Email != "alice@example.com" || !u.IsActive {
		t.Errorf("unexpected user: %+v", u)
	}

	t.Run("Duplicate", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPost, root+"/users", map[string]any{"username": "alice", "email": "a2@example.com"})
		expectError(t, rr, env, http.StatusConflict, domain.KindConflict)
	})

	t.Run("Update", func(t *testing.T) {
		rr, env := do(t, server, http.MethodPut, root+"/users/"+u.ID, map[string]any{
			"username": "alice",
			"email":    "alice@example.com",
			"role":     domain.RoleApprover,
			"isActive": true,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var got domain.User
		decodeData(t, env, &got)
		if got.Role != domain.RoleApprover || got.ID != u.ID {
			t.Errorf("unexpected update: %+v", got)
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		var list []domain.User
		_, env := do(t, server, http.MethodGet, root+"/users", nil)
		decodeData(t, env, &list)
		if len(list) != 1 {
			t.Errorf("expected 1 user, got %d", len(list))
		}

		rr, _ := do(t, server, http.MethodDelete, root+"/users/"+u.ID, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
		rr, env = do(t, server, http.MethodGet, root+"/users/"+u.ID, nil)
		expectError(t, rr, env, http.StatusNotFound, domain.KindNotFound)
	})
}
