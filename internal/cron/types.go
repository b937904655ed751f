package cron

import (
	"time"

	"github.com/google/uuid"
)

// Schedule describes when a job fires. Kind selects the interpretation:
// "cron" uses Expr (six-field, with seconds), "every" uses EveryMs,
// "at" uses AtMs for a one-shot wall-clock time.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"every_ms,omitempty"`
	AtMs    int64  `json:"at_ms,omitempty"`
}

// Payload is what a job carries to its handler. Task names an internal
// maintenance routine; Message/Channel/To describe a scheduled outbound
// message instead.
type Payload struct {
	Task    string `json:"task,omitempty"`
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// State records the outcome of the most recent run.
type State struct {
	LastRunAtMs int64  `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          State    `json:"state"`
	DeleteAfterRun bool     `json:"delete_after_run,omitempty"`
	CreatedAtMs    int64    `json:"created_at_ms"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
