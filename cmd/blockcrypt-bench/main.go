// Command blockcrypt-bench drives read/write throughput and latency
// load against a target.Target: flag-configured workers issue
// QPS-throttled sector I/O for a fixed duration, and the run is
// summarized as per-direction latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/kenneth/blockcrypt/internal/target"
)

func main() {
	var (
		device      = flag.String("device", "", "backing device or file path (required)")
		cipherSpec  = flag.String("cipher-spec", "aes-cbc-essiv:sha256", "cipher-spec")
		keyHex      = flag.String("key", "", "key in lowercase hex (required)")
		ivOffset    = flag.String("iv-offset", "0", "IV offset")
		startSector = flag.String("start-sector", "0", "start sector")
		sectorSpan  = flag.Uint64("sectors", 1024, "number of logical sectors to exercise")
		duration    = flag.Duration("duration", 10*time.Second, "benchmark duration")
		workers     = flag.Int("workers", 4, "number of worker goroutines")
		qps         = flag.Int("qps", 200, "queries per second, per worker")
		opMix       = flag.Float64("write-fraction", 0.5, "fraction of ops that are writes, 0..1")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *device == "" || *keyHex == "" {
		fmt.Fprintln(os.Stderr, "blockcrypt-bench: -device and -key are required")
		os.Exit(2)
	}

	tg, err := target.New(*cipherSpec, *keyHex, *ivOffset, *device, *startSector, "bench", target.Options{})
	if err != nil {
		logger.WithError(err).Fatal("blockcrypt-bench: failed to construct target")
	}
	defer tg.Close()

	fmt.Println("=== blockcrypt Throughput/Latency Benchmark ===")
	fmt.Printf("Device: %s\n", *device)
	fmt.Printf("Cipher spec: %s\n", *cipherSpec)
	fmt.Printf("Workers: %d, QPS/worker: %d, Duration: %v, Write fraction: %.2f\n", *workers, *qps, *duration, *opMix)
	fmt.Println()

	results := runBenchmark(tg, benchConfig{
		sectorSpan:    *sectorSpan,
		duration:      *duration,
		workers:       *workers,
		qpsPerWorker:  *qps,
		writeFraction: *opMix,
	})

	printResults(results)
}

type benchConfig struct {
	sectorSpan    uint64
	duration      time.Duration
	workers       int
	qpsPerWorker  int
	writeFraction float64
}

type benchResults struct {
	writeLatencies []time.Duration
	readLatencies  []time.Duration
	errors         int
}

func runBenchmark(tg *target.Target, cfg benchConfig) benchResults {
	deadline := time.Now().Add(cfg.duration)

	var mu sync.Mutex
	results := benchResults{}

	var wg sync.WaitGroup
	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(workerID) + 1))
			interval := time.Second / time.Duration(maxInt(cfg.qpsPerWorker, 1))
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			payload := make([]byte, bio.SectorSize)
			for i := range payload {
				payload[i] = byte(workerID)
			}

			for time.Now().Before(deadline) {
				<-ticker.C
				sector := rng.Uint64() % cfg.sectorSpan
				start := time.Now()

				var err error
				isWrite := rng.Float64() < cfg.writeFraction
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if isWrite {
					err = tg.WriteAt(ctx, sector, payload)
				} else {
					_, err = tg.ReadAt(ctx, sector, 1)
				}
				cancel()
				elapsed := time.Since(start)

				mu.Lock()
				if err != nil {
					results.errors++
				} else if isWrite {
					results.writeLatencies = append(results.writeLatencies, elapsed)
				} else {
					results.readLatencies = append(results.readLatencies, elapsed)
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return results
}

func printResults(r benchResults) {
	fmt.Println("--- Results ---")
	printLatencySummary("write", r.writeLatencies)
	printLatencySummary("read", r.readLatencies)
	fmt.Printf("errors: %d\n", r.errors)
}

func printLatencySummary(label string, latencies []time.Duration) {
	if len(latencies) == 0 {
		fmt.Printf("%s: no samples\n", label)
		return
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	fmt.Printf("%s: n=%d p50=%v p95=%v p99=%v max=%v\n",
		label, len(sorted),
		percentile(sorted, 0.50),
		percentile(sorted, 0.95),
		percentile(sorted, 0.99),
		sorted[len(sorted)-1],
	)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
