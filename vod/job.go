package vod

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// JobKind names the kind of work a job performs.
type JobKind string

const (
	KindCollect JobKind = "collect"
	KindAnalyze JobKind = "analyze"
	KindSweep   JobKind = "sweep"
)

// State is a job's position in its state machine.
type State string

const (
	StatePending    State = "PENDING"
	StateCollecting State = "COLLECTING"
	StatePersisting State = "PERSISTING"
	StateAnalyzing  State = "ANALYZING"
	StateSweeping   State = "SWEEPING"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether s is SUCCEEDED or FAILED.
func (s State) Terminal() bool { return s == StateSucceeded || s == StateFailed }

// runningStates are the states a worker holds a job in while executing it.
var runningStates = []State{StateCollecting, StatePersisting, StateAnalyzing, StateSweeping}

var transitions = map[JobKind]map[State][]State{
	KindCollect: {
		StatePending:    {StateCollecting, StateSucceeded, StateFailed},
		StateCollecting: {StatePersisting, StateFailed},
		StatePersisting: {StateSucceeded, StateFailed},
	},
	KindAnalyze: {
		StatePending:   {StateAnalyzing},
		StateAnalyzing: {StateSucceeded, StateFailed},
	},
	KindSweep: {
		StatePending:  {StateSweeping},
		StateSweeping: {StateSucceeded, StateFailed},
	},
}

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a state change is not allowed, or when the job
	// is no longer in the expected state.
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// CanTransition reports whether a job of the given kind may move from one state to another.
func CanTransition(kind JobKind, from, to State) bool {
	for _, s := range transitions[kind][from] {
		if s == to {
			return true
		}
	}
	return false
}

// JobRecord is the durable state of one pipeline execution.
type JobRecord struct {
	ID          string          `json:"job_id"`
	Kind        JobKind         `json:"kind"`
	BroadcastID string          `json:"broadcast_id"`
	State       State           `json:"state"`
	Input       json.RawMessage `json:"input,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	Attempt     int             `json:"attempt"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Update is the outcome written together with a transition.
type Update struct {
	Result    json.RawMessage
	ErrorKind string
	Error     string
	At        time.Time
}

// JobStore persists job records. Transition is a compare-and-set on the current state:
// it returns ErrInvalidTransition when the record is not in from.
type JobStore interface {
	Create(ctx context.Context, rec *JobRecord) error
	Get(ctx context.Context, id string) (*JobRecord, error)
	Transition(ctx context.Context, id string, from, to State, u Update) error
	ListByState(ctx context.Context, states ...State) ([]*JobRecord, error)
	// Prune deletes terminal records last updated before the cutoff.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// MemoryJobStore keeps job records in process memory.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobRecord
}

// NewMemoryJobStore returns an empty in-process store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*JobRecord)}
}

func (m *MemoryJobStore) Create(_ context.Context, rec *JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[rec.ID]; ok {
		return errors.New("duplicate job id " + rec.ID)
	}
	cp := *rec
	m.jobs[rec.ID] = &cp
	return nil
}

func (m *MemoryJobStore) Get(_ context.Context, id string) (*JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryJobStore) Transition(_ context.Context, id string, from, to State, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if rec.State != from {
		return ErrInvalidTransition
	}
	rec.State = to
	if u.Result != nil {
		rec.Result = u.Result
	}
	rec.ErrorKind = u.ErrorKind
	rec.Error = u.Error
	rec.UpdatedAt = u.At
	return nil
}

func (m *MemoryJobStore) ListByState(_ context.Context, states ...State) ([]*JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*JobRecord
	for _, rec := range m.jobs {
		for _, s := range states {
			if rec.State == s {
				cp := *rec
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryJobStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.jobs {
		if rec.State.Terminal() && rec.UpdatedAt.Before(before) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}
