package seedtool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keytempo/fanout/internal/domain/model"
	"github.com/keytempo/fanout/pkg/logger"
)

// Config holds the runner's knobs.
type Config struct {
	BaseURL    string
	NumDeltas  int
	Workers    int
	Population int
	Seed       int64
	Timeout    time.Duration
}

// Stats aggregates submission results.
type Stats struct {
	Submitted atomic.Int64
	Activity  atomic.Int64
	Failed    atomic.Int64
}

// Runner drives concurrent delta and activity submission.
type Runner struct {
	cfg    Config
	client *http.Client
	gen    *Generator
	logger logger.Logger
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Runner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		gen:    NewGenerator(cfg.Population, cfg.Seed),
		logger: logger.Get().Named("seedtool"),
	}
}

// Run submits the configured number of deltas, interleaving activity
// records for a slice of the population, and returns the stats.
func (r *Runner) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	jobs := make(chan model.Delta, r.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				if err := r.postJSON(ctx, "/deltas", deltaPayload(d)); err != nil {
					stats.Failed.Add(1)
					continue
				}
				stats.Submitted.Add(1)

				// Stamp activity for one of the delta's users so a
				// share of the population classifies as active.
				if len(d.Changes) > 0 && stats.Submitted.Load()%4 == 0 {
					body := map[string]string{"user_id": d.Changes[0].UserID}
					if err := r.postJSON(ctx, "/activity", body); err == nil {
						stats.Activity.Add(1)
					}
				}
			}
		}()
	}

	for i := 0; i < r.cfg.NumDeltas; i++ {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return stats, ctx.Err()
		case jobs <- r.gen.Delta():
		}
	}
	close(jobs)
	wg.Wait()

	r.logger.Info(ctx, "seed run finished",
		logger.Int64("submitted", stats.Submitted.Load()),
		logger.Int64("activity", stats.Activity.Load()),
		logger.Int64("failed", stats.Failed.Load()),
	)
	return stats, nil
}

// deltaPayload flattens a delta into the wire shape POST /deltas expects.
func deltaPayload(d model.Delta) map[string]any {
	return map[string]any{
		"mode":      d.Topic.Mode,
		"timeframe": d.Topic.Timeframe,
		"language":  d.Topic.Language,
		"version":   d.Version,
		"timestamp": d.Timestamp.Format(time.RFC3339),
		"changes":   d.Changes,
		"removed":   d.Removed,
		"top_n":     d.TopN,
	}
}

func (r *Runner) postJSON(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
