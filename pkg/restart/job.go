package restart

import (
	"maps"
	"sync"
	"time"
)

// State is the lifecycle state of a restart job.
type State string

const (
	StateCreated     State = "created"
	StatePreflight   State = "preflight"
	StateRebooting   State = "rebooting"
	StateWaiting     State = "waiting"
	StateHealthCheck State = "health_check"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Reason explains a Failed job.
type Reason string

const (
	ReasonUnreachableHosts Reason = "unreachable-hosts"
	ReasonInterrupted      Reason = "interrupted"
	ReasonInternal         Reason = "internal-error"
)

// Health is the per-host result reported on completion.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	// HealthUnchecked marks a targeted host that appears in no stage.
	HealthUnchecked Health = "unchecked"
)

// Job is one restart run. Only the orchestrator goroutine executing it
// mutates it; everyone else reads through Snapshot.
type Job struct {
	mu sync.RWMutex

	id           string
	hostIDs      []string
	hostnames    []string
	requester    string
	notify       bool
	scheduledFor time.Time
	createdAt    time.Time
	finishedAt   time.Time

	state      State
	stage      int
	stageName  string
	reason     Reason
	detail     string
	health     map[string]Health
	dispatchKO []string
}

// Snapshot is a point-in-time copy of a Job.
type Snapshot struct {
	ID               string            `json:"id"`
	HostIDs          []string          `json:"hostIds"`
	Hostnames        []string          `json:"hostnames"`
	Requester        string            `json:"requester,omitempty"`
	Notify           bool              `json:"notify"`
	ScheduledFor     *time.Time        `json:"scheduledFor,omitempty"`
	State            State             `json:"state"`
	Stage            int               `json:"stage"`
	StageName        string            `json:"stageName,omitempty"`
	Reason           Reason            `json:"reason,omitempty"`
	Detail           string            `json:"detail,omitempty"`
	Health           map[string]Health `json:"health,omitempty"`
	DispatchFailures []string          `json:"dispatchFailures,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	FinishedAt       *time.Time        `json:"finishedAt,omitempty"`
}

// Snapshot returns a copy of the job's current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Snapshot{
		ID:               j.id,
		HostIDs:          append([]string(nil), j.hostIDs...),
		Hostnames:        append([]string(nil), j.hostnames...),
		Requester:        j.requester,
		Notify:           j.notify,
		State:            j.state,
		Stage:            j.stage,
		StageName:        j.stageName,
		Reason:           j.reason,
		Detail:           j.detail,
		Health:           maps.Clone(j.health),
		DispatchFailures: append([]string(nil), j.dispatchKO...),
		CreatedAt:        j.createdAt,
	}
	if !j.scheduledFor.IsZero() {
		t := j.scheduledFor
		s.ScheduledFor = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
}

func (j *Job) setStage(i int, name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = StateHealthCheck
	j.stage = i
	j.stageName = name
}

func (j *Job) setHealth(hostname string, h Health) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.health[hostname] = h
}

func (j *Job) addDispatchFailure(hostname string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dispatchKO = append(j.dispatchKO, hostname)
}

func (j *Job) complete() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, name := range j.hostnames {
		if _, ok := j.health[name]; !ok {
			j.health[name] = HealthUnchecked
		}
	}
	j.state = StateCompleted
	j.finishedAt = time.Now()
}

// fail moves the job to Failed unless it is already terminal. It reports
// whether the transition happened.
func (j *Job) fail(reason Reason, detail string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = StateFailed
	j.reason = reason
	j.detail = detail
	j.finishedAt = time.Now()
	return true
}
