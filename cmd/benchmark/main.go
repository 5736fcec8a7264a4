// Benchmark tool for load testing Chargeflow's calculation endpoints.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -count 10000
//   go run cmd/benchmark/main.go -csv /path/to/transactions.csv -batch 100
//
// This tool:
//   1. Reads transactions from a CSV file, or generates them from the scenario catalogue
//   2. Sends them to Chargeflow one by one or as bulk batches
//   3. Reports throughput, latency, error kinds and charge totals
//
// CSV columns (header required): customerCode,transactionType,amount,channel
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/chargeflow/internal/client"
	"github.com/opensource-finance/chargeflow/internal/domain"
	"github.com/opensource-finance/chargeflow/internal/harness"
	"github.com/shopspring/decimal"
)

var sampleCustomers = []string{"CUST001", "CUST002", "CUST003"}

// Metrics tracks benchmark results
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64
	WithCharges    int64

	ProcessingTimeMs int64

	mu           sync.Mutex
	totalCharges decimal.Decimal
	errorKinds   map[domain.Kind]int64
}

func (m *Metrics) addResult(res *domain.CalculationResult) {
	atomic.AddInt64(&m.TotalProcessed, 1)
	if res.HasCharges() {
		atomic.AddInt64(&m.WithCharges, 1)
	}
	m.mu.Lock()
	m.totalCharges = m.totalCharges.Add(res.TotalCharges)
	m.mu.Unlock()
}

func (m *Metrics) addError(kind domain.Kind) {
	atomic.AddInt64(&m.TotalProcessed, 1)
	atomic.AddInt64(&m.TotalErrors, 1)
	m.mu.Lock()
	m.errorKinds[kind]++
	m.mu.Unlock()
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to a transactions CSV file (optional)")
	baseURL := flag.String("url", "http://localhost:8080", "Chargeflow base URL")
	apiRoot := flag.String("root", client.DefaultAPIRoot, "API route prefix")
	count := flag.Int("count", 1000, "Transactions to generate when no CSV is given")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	batchSize := flag.Int("batch", 0, "Send bulk batches of this size (0 = single calculations)")
	retries := flag.Int("retries", 2, "Attempts per request")
	verbose := flag.Bool("verbose", false, "Print each failed request")
	breaker := flag.Bool("breaker", false, "Stop hammering the server once it keeps failing")
	flag.Parse()

	cfg := client.Config{
		BaseURL: *baseURL,
		APIRoot: *apiRoot,
		Timeout: 30 * time.Second,
		Retry:   client.RetryPolicy{Attempts: *retries, Backoff: 100 * time.Millisecond},
	}
	if *breaker {
		cfg.Breaker = &client.Breaker{Name: "chargeflow-benchmark", MaxConcurrent: *workers}
	}
	c, err := client.New(cfg)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("CHARGEFLOW BENCHMARK")
	fmt.Printf("\nURL:         %s%s\n", *baseURL, *apiRoot)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Println()

	ctx := context.Background()

	// Check Chargeflow is running
	if err := c.Health(ctx); err != nil {
		fmt.Printf("ERROR: Chargeflow not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Chargeflow is running:")
		fmt.Println("  go run cmd/chargeflow/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Chargeflow is healthy")

	if active, err := c.ActiveRules(ctx); err == nil {
		fmt.Printf("✓ %d active rules\n", len(active))
	}

	var transactions []domain.Transaction
	if *csvPath != "" {
		fmt.Printf("\nReading transactions from %s...\n", *csvPath)
		transactions, err = readCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		transactions = generate(*count)
	}
	fmt.Printf("✓ Prepared %d transactions\n", len(transactions))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(ctx, c, transactions, *workers, *batchSize, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func generate(n int) []domain.Transaction {
	var scenarios []harness.Scenario
	for _, tag := range []string{harness.TagATM, harness.TagTransfer, harness.TagSpecial} {
		scenarios = append(scenarios, harness.Templates(tag)...)
	}

	out := make([]domain.Transaction, n)
	for i := range out {
		s := scenarios[i%len(scenarios)]
		out[i] = domain.Transaction{
			TransactionID:   fmt.Sprintf("BENCH-%06d", i),
			CustomerCode:    sampleCustomers[i%len(sampleCustomers)],
			TransactionType: s.TransactionType,
			Amount:          s.Amount,
			Channel:         s.Channel,
		}
	}
	return out
}

func readCSV(path string) ([]domain.Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"customercode", "transactiontype", "amount"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %s", col)
		}
	}

	var transactions []domain.Transaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, err := decimal.NewFromString(strings.TrimSpace(record[colIndex["amount"]]))
		if err != nil {
			continue
		}

		tx := domain.Transaction{
			TransactionID:   fmt.Sprintf("CSV-%06d", len(transactions)),
			CustomerCode:    record[colIndex["customercode"]],
			TransactionType: record[colIndex["transactiontype"]],
			Amount:          amount,
		}
		if i, ok := colIndex["channel"]; ok && i < len(record) {
			tx.Channel = record[i]
		}
		transactions = append(transactions, tx)
	}

	return transactions, nil
}

func kindOf(err error) domain.Kind {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Kind != "" {
		return apiErr.Kind
	}
	return "Transport"
}

func runBenchmark(ctx context.Context, c *client.Client, transactions []domain.Transaction, numWorkers, batchSize int, verbose bool) *Metrics {
	metrics := &Metrics{errorKinds: make(map[domain.Kind]int64)}

	chunk := batchSize
	if chunk <= 0 {
		chunk = 1
	}

	// Create work channel
	work := make(chan []domain.Transaction, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for txs := range work {
				start := time.Now()
				if batchSize > 0 {
					runBatch(ctx, c, metrics, txs, verbose)
				} else {
					res, err := c.Calculate(ctx, txs[0])
					if err != nil {
						metrics.addError(kindOf(err))
						if verbose {
							fmt.Printf("ERROR: %s -> %v\n", txs[0].TransactionID, err)
						}
					} else {
						metrics.addResult(res)
					}
				}
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
			}
		}()
	}

	// Send work
	for i := 0; i < len(transactions); i += chunk {
		end := min(i+chunk, len(transactions))
		work <- transactions[i:end]
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func runBatch(ctx context.Context, c *client.Client, m *Metrics, txs []domain.Transaction, verbose bool) {
	res, err := c.BulkCalculate(ctx, domain.BatchRequest{Transactions: txs})
	if res == nil {
		for range txs {
			m.addError(kindOf(err))
		}
		if verbose {
			fmt.Printf("ERROR: batch of %d -> %v\n", len(txs), err)
		}
		return
	}

	for _, r := range res.Results {
		m.addResult(r)
	}
	for id, kind := range res.Errors {
		m.addError(domain.Kind(kind))
		if verbose {
			fmt.Printf("ERROR: %s -> %s %s\n", id, kind, res.ErrorDetails[id])
		}
	}
	for i := res.TotalTransactions; i < len(txs); i++ {
		m.addError(domain.KindTimeout)
	}
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nTRANSACTIONS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   With Charges:     %d\n", m.WithCharges)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Total Charges:    %s\n", m.totalCharges.StringFixed(2))

	if len(m.errorKinds) > 0 {
		kinds := make([]string, 0, len(m.errorKinds))
		for k := range m.errorKinds {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)

		fmt.Printf("\nERRORS BY KIND\n")
		for _, k := range kinds {
			fmt.Printf("   %-18s %d\n", k, m.errorKinds[domain.Kind(k)])
		}
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms/tx\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
