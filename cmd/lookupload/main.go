// Command lookupload drives a running lookup service with a mix of
// condition searches, procedure searches and report conversions and prints
// latency and status-code statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type request struct {
	kind string
	path string
}

// workload cycles through representative lookups; unmatched entries keep
// the empty-result path exercised.
func workload(baseURL string) []request {
	conditions := []string{"cholera", "fracture femur", "appendicitis", "diabetes mellitus", "pregnancy", "xyzzy"}
	procedures := []string{"destruction brain", "replacement hip joint", "bypass coronary artery", "xyzzy"}
	reports := []string{"A00.0", "K35.80", "S72.001A", "E11.9", "ZZZ.99"}

	var reqs []request
	for _, q := range conditions {
		reqs = append(reqs, request{kind: "condition", path: baseURL + "/api/v1/conditions?q=" + url.QueryEscape(q)})
	}
	for _, q := range procedures {
		reqs = append(reqs, request{kind: "procedure", path: baseURL + "/api/v1/procedures?q=" + url.QueryEscape(q)})
	}
	for _, c := range reports {
		reqs = append(reqs, request{kind: "report", path: baseURL + "/api/v1/reports/" + url.PathEscape(c)})
	}
	return reqs
}

type stats struct {
	total    atomic.Int64
	failures atomic.Int64

	mu        sync.Mutex
	latencies map[string][]time.Duration
	statuses  map[int]int64
}

func newStats() *stats {
	return &stats{
		latencies: make(map[string][]time.Duration),
		statuses:  make(map[int]int64),
	}
}

func (s *stats) record(kind string, d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil || status >= 400 {
		s.failures.Add(1)
	}
	if err != nil {
		return
	}
	s.mu.Lock()
	s.latencies[kind] = append(s.latencies[kind], d)
	s.statuses[status]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the lookup service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	reqs := workload(*baseURL)
	fmt.Println("=== Lookup Load Test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Requests:    %d distinct\n\n", len(reqs))

	st := run(reqs, *concurrency, *duration)
	if !report(os.Stdout, st, *duration) {
		os.Exit(1)
	}
}

func run(reqs []request, concurrency int, duration time.Duration) *stats {
	st := newStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(next int) {
			defer wg.Done()
			for ctx.Err() == nil {
				r := reqs[next%len(reqs)]
				next++
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.path, nil)
				if err != nil {
					st.record(r.kind, 0, 0, err)
					continue
				}
				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						st.record(r.kind, time.Since(start), 0, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				st.record(r.kind, time.Since(start), resp.StatusCode, nil)
			}
		}(w)
	}
	wg.Wait()
	return st
}

// report prints the summary and returns false when nothing completed.
func report(w io.Writer, st *stats, duration time.Duration) bool {
	total := st.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests: %d\n", total)
	fmt.Fprintf(w, "Failures:       %d\n", st.failures.Load())
	if total == 0 {
		fmt.Fprintln(w, "WARNING: no requests completed. Is the service running?")
		return false
	}
	fmt.Fprintf(w, "Requests/sec:   %.2f\n\n", float64(total)/duration.Seconds())

	st.mu.Lock()
	defer st.mu.Unlock()
	kinds := make([]string, 0, len(st.latencies))
	for k := range st.latencies {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	fmt.Fprintln(w, "=== Latency ===")
	for _, k := range kinds {
		lat := slices.Clone(st.latencies[k])
		slices.Sort(lat)
		fmt.Fprintf(w, "%-10s n=%-7d p50=%-10s p95=%-10s p99=%-10s max=%s\n",
			k, len(lat), percentile(lat, 50), percentile(lat, 95), percentile(lat, 99), lat[len(lat)-1])
	}

	codes := make([]int, 0, len(st.statuses))
	for c := range st.statuses {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	fmt.Fprintln(w, "\n=== Status Codes ===")
	for _, c := range codes {
		fmt.Fprintf(w, "  %d: %d\n", c, st.statuses[c])
	}
	return true
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p*len(sorted)+99)/100 - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
