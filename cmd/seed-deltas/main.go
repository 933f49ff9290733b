package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/keytempo/fanout/internal/seedtool"
	"github.com/keytempo/fanout/pkg/logger"
)

// Default configuration constants.
const (
	defaultNumDeltas  = 5000
	defaultPopulation = 200
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9090", "Base URL of the service")
		numDeltas  = flag.Int("deltas", defaultNumDeltas, "Number of deltas to generate and submit")
		workers    = flag.Int("workers", runtime.NumCPU()*2, "Number of concurrent workers")
		population = flag.Int("population", defaultPopulation, "Size of the synthetic user population")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "Random seed for generation")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	runner := seedtool.NewRunner(seedtool.Config{
		BaseURL:    *baseURL,
		NumDeltas:  *numDeltas,
		Workers:    *workers,
		Population: *population,
		Seed:       *seed,
		Timeout:    *timeout,
	})
	if _, err := runner.Run(ctx); err != nil {
		logger.Get().Error(ctx, "seed run failed", logger.Error(err))
		os.Exit(1)
	}
}
