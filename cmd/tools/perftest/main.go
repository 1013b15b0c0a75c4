// main.go - Performance testing tool for the redirectly decision API.
// Each simulated visitor opens a session, streams signal batches at page
// cadence, and closes with a beacon, so the numbers reflect the real
// request mix rather than a single hot endpoint.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"log/slog"

	v1 "redirectly/api/v1"
)

// PerfConfig holds the configuration for the performance test
type PerfConfig struct {
	BaseURL       string
	Origin        string // Origin header, must match a registered merchant domain
	Concurrency   int
	Duration      time.Duration
	SignalsPerSec int
	Timeout       time.Duration
}

// Result captures the result of a single request
type Result struct {
	Endpoint   string
	Duration   time.Duration
	StatusCode int
	Err        error
}

// PerfStats aggregates results across all workers
type PerfStats struct {
	total      int64
	failed     int64
	byStatus   map[int]int64
	byEndpoint map[string]int64
	latencies  []time.Duration
	mu         sync.Mutex
	start      time.Time
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the API")
	concurrency := flag.Int("c", 10, "Number of concurrent simulated visitors")
	duration := flag.Duration("d", 30*time.Second, "Duration of the test")
	rate := flag.Int("rate", 0, "Target signal batches per second per visitor (0 = one per second)")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	origin := os.Getenv("REDIRECTLY_ORIGIN")
	if origin == "" {
		origin = "https://demo-store.example.com"
		logger.Info("Using default origin", slog.String("origin", origin))
	}

	cfg := &PerfConfig{
		BaseURL:       *baseURL,
		Origin:        origin,
		Concurrency:   *concurrency,
		Duration:      *duration,
		SignalsPerSec: *rate,
		Timeout:       *timeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()
	go func() {
		sig := <-sigChan
		fmt.Printf("Received signal %v, shutting down...\n", sig)
		cancel()
	}()

	fmt.Printf("Starting test: %d visitors for %v against %s\n", cfg.Concurrency, cfg.Duration, cfg.BaseURL)

	stats := &PerfStats{
		byStatus:   make(map[int]int64),
		byEndpoint: make(map[string]int64),
		start:      time.Now(),
	}

	results := make(chan Result, 1024)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: cfg.Timeout}
			for ctx.Err() == nil {
				runVisitor(ctx, cfg, client, results)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		stats.record(r)
	}

	stats.report()
}

// runVisitor simulates one browsing session end to end.
func runVisitor(ctx context.Context, cfg *PerfConfig, client *http.Client, results chan<- Result) {
	session := startSession(ctx, cfg, client, results)
	if session == "" {
		return
	}

	interval := time.Second
	if cfg.SignalsPerSec > 0 {
		interval = time.Second / time.Duration(cfg.SignalsPerSec)
	}

	depth := 0.0
	batches := 3 + rand.Intn(10)
	for i := 0; i < batches && ctx.Err() == nil; i++ {
		depth += rand.Float64() * 20
		if depth > 100 {
			depth = 100
		}
		payload := v1.SignalsParams{
			SessionID: session,
			Signals: []v1.SignalPayload{
				{Kind: "scroll", ScrollDepthPct: depth},
				{Kind: "tick"},
			},
		}
		post(ctx, cfg, client, results, "/x/api/v1/signals", payload)

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}

	// Session close via beacon, like pagehide in the SDK.
	payload := v1.SignalsParams{
		SessionID: session,
		Signals:   []v1.SignalPayload{{Kind: "visibility", Hidden: true}},
	}
	post(ctx, cfg, client, results, "/x/api/v1/signals/beacon", payload)
}

func startSession(ctx context.Context, cfg *PerfConfig, client *http.Client, results chan<- Result) string {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/x/api/v1/sessions", nil)
	if err != nil {
		results <- Result{Endpoint: "/x/api/v1/sessions", Err: err}
		return ""
	}
	req.Header.Set("Origin", cfg.Origin)
	req.Header.Set("User-Agent", randomUserAgent())

	resp, err := client.Do(req)
	result := Result{Endpoint: "/x/api/v1/sessions", Duration: time.Since(start), Err: err}
	if err != nil {
		results <- result
		return ""
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode
	results <- result

	if resp.StatusCode != http.StatusCreated {
		return ""
	}

	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.SessionID
}

func post(ctx context.Context, cfg *PerfConfig, client *http.Client, results chan<- Result, path string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		results <- Result{Endpoint: path, Err: err}
		return
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		results <- Result{Endpoint: path, Err: err}
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", cfg.Origin)

	resp, err := client.Do(req)
	result := Result{Endpoint: path, Duration: time.Since(start), Err: err}
	if err == nil {
		result.StatusCode = resp.StatusCode
		resp.Body.Close()
	}
	results <- result
}

func (s *PerfStats) record(r Result) {
	atomic.AddInt64(&s.total, 1)
	if r.Err != nil || r.StatusCode >= 400 {
		atomic.AddInt64(&s.failed, 1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStatus[r.StatusCode]++
	s.byEndpoint[r.Endpoint]++
	if r.Err == nil {
		s.latencies = append(s.latencies, r.Duration)
	}
}

func (s *PerfStats) report() {
	elapsed := time.Since(s.start)

	fmt.Println("\n=== Results ===")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Total requests:\t%d\n", s.total)
	fmt.Fprintf(w, "Failed:\t%d\n", s.failed)
	fmt.Fprintf(w, "Elapsed:\t%v\n", elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Fprintf(w, "Requests/sec:\t%.1f\n", float64(s.total)/elapsed.Seconds())
	}

	sort.Slice(s.latencies, func(i, j int) bool { return s.latencies[i] < s.latencies[j] })
	if len(s.latencies) > 0 {
		fmt.Fprintf(w, "p50 latency:\t%v\n", percentile(s.latencies, 0.50))
		fmt.Fprintf(w, "p95 latency:\t%v\n", percentile(s.latencies, 0.95))
		fmt.Fprintf(w, "p99 latency:\t%v\n", percentile(s.latencies, 0.99))
	}
	w.Flush()

	fmt.Println("\nStatus codes:")
	for code, count := range s.byStatus {
		fmt.Printf("  %d: %d\n", code, count)
	}
	fmt.Println("\nEndpoints:")
	for path, count := range s.byEndpoint {
		fmt.Printf("  %s: %d\n", path, count)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx].Round(time.Microsecond)
}

func randomUserAgent() string {
	agents := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Mobile Safari/537.36",
	}
	return agents[rand.Intn(len(agents))]
}
