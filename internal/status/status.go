// Package status implements the orchestrator's JSON status surface (spec
// §5 "Shared process state" and the activeTasks/worker snapshot it
// describes): a small read-only HTTP API exposing the queue and machine
// registry for operators, adapted from internal/dashboard/api.go's
// http.ServeMux handler shape with the HTML dashboard and write endpoints
// (reset, restart-workers, switch-project) dropped since this surface is
// JSON-only and has no authenticated-operator write path.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

// TaskLister supplies the active task queue.
type TaskLister interface {
	ListActive(ctx context.Context) ([]domain.Task, error)
}

// MachineLister supplies the machine registry.
type MachineLister interface {
	Available(ctx context.Context, hbFresh time.Duration) ([]domain.Machine, error)
}

// HeartbeatFreshness bounds how stale a machine's heartbeat can be before
// it is dropped from the snapshot, wide enough to still show a machine
// that is merely between poll cycles.
const HeartbeatFreshness = 5 * time.Minute

// TaskSnapshot is one task in the activeTasks status response.
type TaskSnapshot struct {
	ID              string `json:"id"`
	Project         string `json:"project"`
	Status          string `json:"status"`
	Description     string `json:"description"`
	AssignedMachine string `json:"assigned_machine,omitempty"`
	Priority        int    `json:"priority"`
	AgeSeconds      int64  `json:"age_seconds"`
	Age             string `json:"age"`
}

// MachineSnapshot is one machine in the status response.
type MachineSnapshot struct {
	ID             string   `json:"id"`
	DisplayName    string   `json:"display_name"`
	Status         string   `json:"status"`
	Projects       []string `json:"projects"`
	ActiveTasks    int      `json:"active_tasks"`
	MaxConcurrent  int      `json:"max_concurrent"`
	FreeSlack      int      `json:"free_slack"`
	HeartbeatAgeMS int64    `json:"heartbeat_age_ms"`
	HeartbeatAge   string   `json:"heartbeat_age"`
}

// Snapshot is the full /status response body.
type Snapshot struct {
	Timestamp   string            `json:"timestamp"`
	ActiveTasks []TaskSnapshot    `json:"active_tasks"`
	Machines    []MachineSnapshot `json:"machines"`
}

// Handler serves the JSON status snapshot.
type Handler struct {
	Tasks    TaskLister
	Machines MachineLister
}

// NewHandler returns a Handler backed by tasks and machines.
func NewHandler(tasks TaskLister, machines MachineLister) *Handler {
	return &Handler{Tasks: tasks, Machines: machines}
}

// RegisterRoutes adds the status route to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/status", h.handleStatus)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Build(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// Build assembles the snapshot without going through HTTP, for tests and
// for embedding in other surfaces (e.g. a future CLI status subcommand).
func (h *Handler) Build(ctx context.Context) (Snapshot, error) {
	now := time.Now()

	tasks, err := h.Tasks.ListActive(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	taskSnaps := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		age := now.Sub(t.CreatedAt)
		if t.CreatedAt.IsZero() {
			age = 0
		}
		taskSnaps = append(taskSnaps, TaskSnapshot{
			ID:              t.ID,
			Project:         t.Project,
			Status:          string(t.Status),
			Description:     t.Description,
			AssignedMachine: t.AssignedMachine,
			Priority:        t.Priority,
			AgeSeconds:      int64(age.Seconds()),
			Age:             humanize.Time(now.Add(-age)),
		})
	}

	machines, err := h.Machines.Available(ctx, HeartbeatFreshness)
	if err != nil {
		return Snapshot{}, err
	}
	machineSnaps := make([]MachineSnapshot, 0, len(machines))
	for _, m := range machines {
		hbAge := now.Sub(m.LastHeartbeat)
		if m.LastHeartbeat.IsZero() {
			hbAge = 0
		}
		machineSnaps = append(machineSnaps, MachineSnapshot{
			ID:             m.ID,
			DisplayName:    m.DisplayName,
			Status:         string(m.Status),
			Projects:       m.Projects,
			ActiveTasks:    m.ActiveTasks,
			MaxConcurrent:  m.MaxConcurrent,
			FreeSlack:      m.FreeSlack(),
			HeartbeatAgeMS: hbAge.Milliseconds(),
			HeartbeatAge:   humanize.Time(now.Add(-hbAge)),
		})
	}

	return Snapshot{
		Timestamp:   now.UTC().Format(time.RFC3339),
		ActiveTasks: taskSnaps,
		Machines:    machineSnaps,
	}, nil
}
