// Package queue carries background jobs from the schedule sweeps to the
// workers that execute them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelhq/sentinel/internal/config"
)

// Kind names a job type.
type Kind string

const (
	// KindFetchCampaignData refreshes today's snapshot of one campaign.
	KindFetchCampaignData Kind = "fetch_campaign_data"
	// KindRunScheduledReport runs and delivers one schedule.
	KindRunScheduledReport Kind = "run_scheduled_report"
)

// ErrClosed is returned when enqueueing on a closed queue.
var ErrClosed = errors.New("queue closed")

// Job is one unit of background work.
type Job struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	CampaignID string    `json:"campaignId,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	ScheduleID string    `json:"scheduleId,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// NewJob stamps a job with an id and enqueue time.
func NewJob(kind Kind) Job {
	return Job{ID: uuid.NewString(), Kind: kind, EnqueuedAt: time.Now().UTC()}
}

// Handler processes one job. Consume calls it sequentially.
type Handler func(ctx context.Context, job Job) error

// Queue accepts jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Consumer delivers jobs to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// Backend is a queue that can also be consumed and closed.
type Backend interface {
	Queue
	Consumer
	Close() error
}

// Open builds the backend selected by cfg.
func Open(cfg config.QueueConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryQueue(cfg.Buffer), nil
	case "kafka":
		return NewKafkaQueue(KafkaOptions{Brokers: cfg.Brokers, Topic: cfg.Topic, GroupID: cfg.GroupID})
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func encodeJob(job Job) ([]byte, error) {
	return json.Marshal(job)
}

func decodeJob(b []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(b, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.Kind == "" {
		return Job{}, errors.New("decode job: missing kind")
	}
	return job, nil
}
