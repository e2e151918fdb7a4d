package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/upb/llm-orchestrator/services/providers"
	"go.uber.org/zap"
)

const insertEventQuery = `
	INSERT INTO llm_request_metrics
		(tenant_id, provider, model, status, error_kind,
		 prompt_tokens, completion_tokens, cost, latency_ms, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// event is a single metric row waiting to be written.
type event struct {
	Tenant           string
	Provider         string
	Model            string
	Status           string
	ErrorKind        string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	LatencyMs        int64
	RecordedAt       time.Time
}

// Config holds configuration for the PostgresSink
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent writers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 4,
	}
}

// PostgresSink writes metric events to PostgreSQL asynchronously. Recording
// never blocks the request path: events are buffered and written by
// background workers, and dropped with a warning when the buffer is full.
type PostgresSink struct {
	db          *sql.DB
	logger      *zap.Logger
	events      chan *event
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	mu          sync.Mutex
	started     bool
}

// NewPostgresSink creates a new PostgresSink instance
func NewPostgresSink(db *sql.DB, logger *zap.Logger, config Config) *PostgresSink {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &PostgresSink{
		db:          db,
		logger:      logger,
		events:      make(chan *event, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background writers
func (s *PostgresSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("metrics sink already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started metrics sink",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop drains pending events and stops the writers.
func (s *PostgresSink) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("metrics sink not started")
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("stopping metrics sink", zap.Int("pending_events", len(s.events)))

	close(s.events)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("metrics sink stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("metrics sink stop timeout after %v", timeout)
	}
}

// RecordSuccess implements Sink
func (s *PostgresSink) RecordSuccess(ctx context.Context, tenant, provider, model string, usage providers.Usage, cost float64, latencyMs int64) {
	s.enqueue(&event{
		Tenant:           tenant,
		Provider:         provider,
		Model:            model,
		Status:           "success",
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             cost,
		LatencyMs:        latencyMs,
		RecordedAt:       time.Now().UTC(),
	})
}

// RecordError implements Sink
func (s *PostgresSink) RecordError(ctx context.Context, tenant, provider, model, errorKind string) {
	s.enqueue(&event{
		Tenant:     tenant,
		Provider:   provider,
		Model:      model,
		Status:     "error",
		ErrorKind:  errorKind,
		RecordedAt: time.Now().UTC(),
	})
}

func (s *PostgresSink) enqueue(ev *event) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.events <- ev:
	default:
		s.logger.Warn("metric event buffer full, dropping event",
			zap.String("provider", ev.Provider),
			zap.String("status", ev.Status))
	}
}

// worker writes events from the channel until it is closed
func (s *PostgresSink) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("metrics worker started", zap.Int("worker_id", id))

	for ev := range s.events {
		if err := s.write(ev); err != nil {
			s.logger.Error("failed to write metric event",
				zap.Int("worker_id", id),
				zap.String("provider", ev.Provider),
				zap.Error(err))
		}
	}

	s.logger.Debug("metrics worker stopped", zap.Int("worker_id", id))
}

func (s *PostgresSink) write(ev *event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, insertEventQuery,
		ev.Tenant, ev.Provider, ev.Model, ev.Status, ev.ErrorKind,
		ev.PromptTokens, ev.CompletionTokens, ev.Cost, ev.LatencyMs, ev.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert metric event: %w", err)
	}
	return nil
}

// Stats reports sink backlog for diagnostics
func (s *PostgresSink) Stats() (pending, capacity int) {
	return len(s.events), s.bufferSize
}
