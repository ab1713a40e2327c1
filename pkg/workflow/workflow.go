// Package workflow provides the workflow entity, its lifecycle state
// machine, declarative definition parsing, and template expansion for the
// Gleitzeit execution engine.
//
// The state machine supports the typical lifecycle: queued -> running ->
// (completed|failed|cancelled), and is designed to be driven by the
// execution engine rather than embedding any dispatch logic itself.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/gleitzeit/gleitzeit/pkg/errors"
)

// State mirrors task.Status's vocabulary for workflow-level lifecycle.
// It is a distinct type from task.Status.
type State string

const (
	StateQueued    State = "QUEUED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

var validStates = map[State]bool{
	StateQueued:    true,
	StateRunning:   true,
	StateCompleted: true,
	StateFailed:    true,
	StateCancelled: true,
}

// IsValid checks if a state is valid.
func (s State) IsValid() bool {
	return validStates[s]
}

// IsTerminal returns true if the state is terminal (no further transitions).
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrorStrategy controls how a task failure affects the rest of the
// workflow's DAG.
type ErrorStrategy string

const (
	// ErrorStrategyStop cascades failure to every transitive dependent.
	ErrorStrategyStop ErrorStrategy = "stop"
	// ErrorStrategyContinue fails only dependents that substitution-reference
	// the failed task's result; independent branches keep running.
	ErrorStrategyContinue ErrorStrategy = "continue"
)

// Workflow represents a workflow instance with its current state and
// aggregate progress.
type Workflow struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	ErrorStrategy ErrorStrategy  `json:"error_strategy"`
	State         State          `json:"state"`
	CompletedIDs  map[string]bool `json:"completed_ids,omitempty"`
	FailedIDs     map[string]bool `json:"failed_ids,omitempty"`
	TaskResults   map[string]any `json:"task_results,omitempty"`
	TotalTasks    int            `json:"total_tasks"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// NewWorkflow constructs an empty, QUEUED workflow ready for task
// submission.
func NewWorkflow(id, name string, errorStrategy ErrorStrategy) *Workflow {
	if errorStrategy == "" {
		errorStrategy = ErrorStrategyStop
	}
	now := time.Now()
	return &Workflow{
		ID:            id,
		Name:          name,
		ErrorStrategy: errorStrategy,
		State:         StateQueued,
		CompletedIDs:  map[string]bool{},
		FailedIDs:     map[string]bool{},
		TaskResults:   map[string]any{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsDone reports whether every task has reached a terminal outcome, per
// the completion rule in the engine's main loop: |completed ∪ failed ∪
// cancelled| == |tasks|.
func (w *Workflow) IsDone(cancelledCount int) bool {
	return len(w.CompletedIDs)+len(w.FailedIDs)+cancelledCount >= w.TotalTasks
}

// TransitionGuard is a function that determines if a transition is allowed.
type TransitionGuard func(ctx context.Context, w *Workflow) (bool, error)

// TransitionAction runs as part of a state transition.
type TransitionAction func(ctx context.Context, w *Workflow) error

// Transition defines a state transition with guards and actions.
type Transition struct {
	From    State
	To      State
	Event   string
	Guards  []TransitionGuard
	Actions []TransitionAction
}

// CanTransition checks if the transition is allowed based on current state and guards.
func (t *Transition) CanTransition(ctx context.Context, w *Workflow) (bool, error) {
	if w.State != t.From {
		return false, nil
	}
	for _, guard := range t.Guards {
		allowed, err := guard(ctx, w)
		if err != nil {
			return false, fmt.Errorf("guard error: %w", err)
		}
		if !allowed {
			return false, nil
		}
	}
	return true, nil
}

// Execute performs the transition and runs all actions.
func (t *Transition) Execute(ctx context.Context, w *Workflow) error {
	for _, action := range t.Actions {
		if err := action(ctx, w); err != nil {
			return fmt.Errorf("action error: %w", err)
		}
	}

	w.State = t.To
	w.UpdatedAt = time.Now()

	switch t.To {
	case StateRunning:
		if w.StartedAt == nil {
			now := time.Now()
			w.StartedAt = &now
		}
	case StateCompleted, StateFailed, StateCancelled:
		if w.CompletedAt == nil {
			now := time.Now()
			w.CompletedAt = &now
		}
	}

	return nil
}

// StateMachine manages workflow state transitions.
type StateMachine struct {
	transitions map[string]*Transition
	hooks       *Hooks
}

// Hooks defines lifecycle hooks for the state machine.
type Hooks struct {
	BeforeTransition func(ctx context.Context, w *Workflow, event string) error
	AfterTransition  func(ctx context.Context, w *Workflow, from State, to State) error
	OnError          func(ctx context.Context, w *Workflow, err error) error
}

// NewStateMachine creates a new state machine with the given transitions.
func NewStateMachine(transitions []*Transition) *StateMachine {
	sm := &StateMachine{
		transitions: make(map[string]*Transition),
		hooks:       &Hooks{},
	}
	for _, t := range transitions {
		sm.transitions[t.Event] = t
	}
	return sm
}

// SetHooks configures lifecycle hooks for the state machine.
func (sm *StateMachine) SetHooks(hooks *Hooks) {
	if hooks != nil {
		sm.hooks = hooks
	}
}

// Trigger attempts to trigger an event and transition the workflow.
func (sm *StateMachine) Trigger(ctx context.Context, w *Workflow, event string) error {
	transition, ok := sm.transitions[event]
	if !ok {
		return &errors.ValidationError{
			Field:   "event",
			Message: fmt.Sprintf("unknown event: %s", event),
		}
	}

	allowed, err := transition.CanTransition(ctx, w)
	if err != nil {
		if sm.hooks.OnError != nil {
			if hookErr := sm.hooks.OnError(ctx, w, err); hookErr != nil {
				return fmt.Errorf("transition guard error: %w (hook error: %v)", err, hookErr)
			}
		}
		return fmt.Errorf("transition guard error: %w", err)
	}
	if !allowed {
		return &errors.ValidationError{
			Field:   "state",
			Message: fmt.Sprintf("transition not allowed: from %s on event %s", w.State, event),
		}
	}

	oldState := w.State

	if sm.hooks.BeforeTransition != nil {
		if err := sm.hooks.BeforeTransition(ctx, w, event); err != nil {
			if sm.hooks.OnError != nil {
				sm.hooks.OnError(ctx, w, err)
			}
			return fmt.Errorf("before transition hook error: %w", err)
		}
	}

	if err := transition.Execute(ctx, w); err != nil {
		if sm.hooks.OnError != nil {
			sm.hooks.OnError(ctx, w, err)
		}
		return fmt.Errorf("transition execution error: %w", err)
	}

	if sm.hooks.AfterTransition != nil {
		if err := sm.hooks.AfterTransition(ctx, w, oldState, w.State); err != nil {
			if sm.hooks.OnError != nil {
				sm.hooks.OnError(ctx, w, err)
			}
			return fmt.Errorf("after transition hook error: %w", err)
		}
	}

	return nil
}

// DefaultTransitions returns the standard workflow transitions.
func DefaultTransitions() []*Transition {
	return []*Transition{
		{From: StateQueued, To: StateRunning, Event: "start"},
		{From: StateRunning, To: StateCompleted, Event: "complete"},
		{From: StateRunning, To: StateFailed, Event: "fail"},
		{From: StateQueued, To: StateCancelled, Event: "cancel"},
		{From: StateRunning, To: StateCancelled, Event: "cancel"},
	}
}
