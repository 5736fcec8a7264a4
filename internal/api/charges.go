package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/harness"
	"github.com/shopspring/decimal"
)

const defaultSimulateCount = 5

// TransactionCheck is the response of POST /charges/validate.
type TransactionCheck struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func prepareTransaction(tx *domain.Transaction) {
	tx.CustomerCode = strings.TrimSpace(tx.CustomerCode)
	tx.TransactionType = strings.TrimSpace(tx.TransactionType)
	tx.Channel = strings.TrimSpace(tx.Channel)
	if tx.TransactionID == "" {
		tx.TransactionID = uuid.New().String()
	}
	if tx.TransactionDate.IsZero() {
		tx.TransactionDate = time.Now().UTC()
	}
}

// Calculate handles POST /charges/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := decodeJSON(r, &tx, false); err != nil {
		writeError(w, r, err)
		return
	}
	prepareTransaction(&tx)
	if tx.TransactionType == "" {
		writeError(w, r, domain.Errorf(domain.KindValidation, "transactionType is required"))
		return
	}

	result, err := h.svc.Engine.Calculate(r.Context(), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.svc.Stats.Record(r.Context(), result)
	writeData(w, http.StatusOK, result)
}

// ValidateTransaction handles POST /charges/validate. It checks a
// transaction request without calculating charges.
func (h *Handler) ValidateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := decodeJSON(r, &tx, false); err != nil {
		writeError(w, r, err)
		return
	}
	prepareTransaction(&tx)

	check := TransactionCheck{Errors: []string{}}
	if tx.TransactionType == "" {
		check.Errors = append(check.Errors, "transactionType is required")
	}
	if tx.Amount.IsNegative() {
		check.Errors = append(check.Errors, "amount must not be negative")
	}
	if _, err := h.svc.Engine.ResolveCustomer(r.Context(), tx.CustomerCode); err != nil {
		if domain.IsKind(err, domain.KindInternal) {
			writeError(w, r, err)
			return
		}
		check.Errors = append(check.Errors, domain.MessageOf(err))
	}
	check.Valid = len(check.Errors) == 0

	writeData(w, http.StatusOK, check)
}

// BulkCalculate handles POST /charges/bulk-calculate. A timed out batch
// answers 504 with the partial result attached.
func (h *Handler) BulkCalculate(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.svc.Batch.Process(r.Context(), &req)
	h.svc.Stats.RecordBatch(r.Context(), result)
	if err != nil {
		writeErrorData(w, r, err, partial(result))
		return
	}
	writeData(w, http.StatusOK, result)
}

// RunTest handles POST /charges/test with either a suite id or an explicit
// scenario list.
func (h *Handler) RunTest(w http.ResponseWriter, r *http.Request) {
	var req harness.Request
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.svc.Harness.Run(r.Context(), &req)
	if err != nil {
		writeErrorData(w, r, err, partial(result))
		return
	}
	writeData(w, http.StatusOK, result)
}

// QuickTest handles GET /charges/quick-test?customerCode&transactionType&amount.
func (h *Handler) QuickTest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var amount *decimal.Decimal
	if raw := q.Get("amount"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, r, domain.Errorf(domain.KindValidation, "amount %q is not a number", raw))
			return
		}
		amount = &d
	}

	result, err := h.svc.Harness.QuickTest(r.Context(), q.Get("customerCode"), q.Get("transactionType"), amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// Simulate handles POST /charges/simulate?customerCode&transactionCount.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	count := defaultSimulateCount
	if raw := q.Get("transactionCount"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, domain.Errorf(domain.KindValidation, "transactionCount %q is not an integer", raw))
			return
		}
		count = n
	}

	result, err := h.svc.Harness.Simulate(r.Context(), q.Get("customerCode"), count)
	if err != nil {
		writeErrorData(w, r, err, partial(result))
		return
	}
	writeData(w, http.StatusOK, result)
}

// TestScenarios handles GET /charges/test-scenarios.
func (h *Handler) TestScenarios(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Harness.Catalogue(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

// SampleRequests handles GET /charges/sample-requests.
func (h *Handler) SampleRequests(w http.ResponseWriter, r *http.Request) {
	atm := harness.Templates(harness.TagATM)
	transfer := harness.Templates(harness.TagTransfer)

	sampleTx := func(id string, s harness.Scenario) domain.Transaction {
		return domain.Transaction{
			TransactionID:   id,
			CustomerCode:    harness.DefaultCustomer,
			TransactionType: s.TransactionType,
			Amount:          s.Amount,
			Channel:         s.Channel,
			SourceAccount:   "ACC-1001",
		}
	}

	writeData(w, http.StatusOK, map[string]any{
		"calculate": sampleTx("TXN-SAMPLE-001", atm[1]),
		"bulkCalculate": domain.BatchRequest{
			BatchID:     "BATCH-SAMPLE-001",
			Description: "Sample batch",
			Transactions: []domain.Transaction{
				sampleTx("TXN-SAMPLE-101", atm[0]),
				sampleTx("TXN-SAMPLE-102", transfer[1]),
			},
		},
		"test": harness.Request{
			CustomerCode:     harness.DefaultCustomer,
			TestTransactions: atm,
			TestDescription:  "Sample ATM run",
		},
		"testSuite": harness.Request{TestSuiteID: "comprehensive", CustomerCode: harness.DefaultCustomer},
	})
}

// ChargeStatistics handles GET /charges/statistics.
func (h *Handler) ChargeStatistics(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.svc.Stats.Snapshot(r.Context()))
}

// ChargeHealth handles GET /charges/health.
func (h *Handler) ChargeHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Engine.Snapshot()
	writeData(w, http.StatusOK, map[string]any{
		"status":           "UP",
		"activeRules":      snap.Len(),
		"snapshotLoadedAt": snap.LoadedAt(),
	})
}
