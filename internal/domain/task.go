// Package domain holds the orchestrator's durable and in-memory entities.
// It has no dependencies on other internal packages.
package domain

import "time"

// TaskStatus is a task's position in the lifecycle state machine (spec §4.6).
type TaskStatus string

const (
	TaskQueued       TaskStatus = "queued"
	TaskClaimed      TaskStatus = "claimed"
	TaskRunning      TaskStatus = "running"
	TaskWaitingInput TaskStatus = "waiting_input"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
	TaskTimeout      TaskStatus = "timeout"
	TaskCancelled    TaskStatus = "cancelled"
)

// Terminal reports whether status is one of the lifecycle's end states.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimeout, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task is a durable unit of work claimed and driven by exactly one worker.
type Task struct {
	ID             string
	Description    string
	Project        string
	RepoURL        string
	SourceBranch   string
	TargetBranch   string
	Status         TaskStatus
	Priority       int
	EngineHint     string
	BudgetCeiling  float64
	ClaimID        string
	AssignedMachine string
	WorkspacePath  string
	ChatThreadID   string
	SessionID      string
	CreatedAt      time.Time
	StartedAt      time.Time
	CompletedAt    time.Time
	NotifiedAt     time.Time
	ErrorMessage   string
	ResultSummary  string
	ChangedFiles   []string
	PullRequestURL string
	ResultJSON     string
}

// Done reports whether the task has reached one of the terminal statuses
// consistent with CompletedAt being set (spec §3 invariant).
func (t *Task) Done() bool {
	return t.Status.Terminal()
}

// MachineStatus is a worker machine's liveness classification (spec §4.5).
type MachineStatus string

const (
	MachineOnline  MachineStatus = "online"
	MachineBusy    MachineStatus = "busy"
	MachineOffline MachineStatus = "offline"
)

// Machine is a durable row describing a remote worker host.
type Machine struct {
	ID             string
	DisplayName    string
	Projects       []string
	MaxConcurrent  int
	ActiveTasks    int
	OS             string
	EnginePriority []string
	HealthURL      string
	LastHeartbeat  time.Time
	Status         MachineStatus
}

// FreeSlack returns how many more tasks the machine can take concurrently.
func (m *Machine) FreeSlack() int {
	slack := m.MaxConcurrent - m.ActiveTasks
	if slack < 0 {
		return 0
	}
	return slack
}

// SupportsProject reports whether p is in the machine's known-projects list.
func (m *Machine) SupportsProject(p string) bool {
	for _, known := range m.Projects {
		if known == p {
			return true
		}
	}
	return false
}

// SupportsEngine reports whether engine appears in the machine's priority list.
func (m *Machine) SupportsEngine(engine string) bool {
	if engine == "" {
		return true
	}
	for _, e := range m.EnginePriority {
		if e == engine {
			return true
		}
	}
	return false
}

// TopicStatus is the lifecycle of a chat thread (spec §3 Topic Registry).
type TopicStatus string

const (
	TopicActive  TopicStatus = "active"
	TopicClosed  TopicStatus = "closed"
	TopicDeleted TopicStatus = "deleted"
)

// Topic is a durable row mapping a chat thread to its task, preventing
// orphaned threads after a restart.
type Topic struct {
	ThreadID string
	Status   TopicStatus
	TaskID   string
}
