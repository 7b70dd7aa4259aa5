package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jaakkos/stringwork-orchestrator/internal/domain"
)

type fakeTasks struct {
	tasks []domain.Task
}

func (f *fakeTasks) ListActive(ctx context.Context) ([]domain.Task, error) {
	return f.tasks, nil
}

type fakeMachines struct {
	machines []domain.Machine
}

func (f *fakeMachines) Available(ctx context.Context, hbFresh time.Duration) ([]domain.Machine, error) {
	return f.machines, nil
}

func TestBuildSnapshotIncludesActiveTasksAndMachines(t *testing.T) {
	tasks := &fakeTasks{tasks: []domain.Task{
		{ID: "t1", Project: "widgets", Status: domain.TaskRunning, Description: "fix bug", AssignedMachine: "alpha", Priority: 2, CreatedAt: time.Now().Add(-time.Minute)},
	}}
	machines := &fakeMachines{machines: []domain.Machine{
		{ID: "alpha", DisplayName: "Alpha", Status: domain.MachineBusy, Projects: []string{"widgets"}, ActiveTasks: 1, MaxConcurrent: 3, LastHeartbeat: time.Now()},
	}}
	h := NewHandler(tasks, machines)

	snap, err := h.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.ActiveTasks) != 1 || snap.ActiveTasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %+v", snap.ActiveTasks)
	}
	if snap.ActiveTasks[0].AgeSeconds < 50 {
		t.Fatalf("expected age around 60s, got %d", snap.ActiveTasks[0].AgeSeconds)
	}
	if len(snap.Machines) != 1 || snap.Machines[0].FreeSlack != 2 {
		t.Fatalf("unexpected machines: %+v", snap.Machines)
	}
}

func TestHandleStatusServesJSON(t *testing.T) {
	h := NewHandler(&fakeTasks{}, &fakeMachines{})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snap.Timestamp == "" {
		t.Fatalf("expected timestamp to be set")
	}
}
