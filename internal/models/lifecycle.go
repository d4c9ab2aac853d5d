package models

import "time"

// LifecycleOperation names the creation call driven by the lifecycle controller.
type LifecycleOperation string

// Lifecycle operations.
const (
	OperationSnapshot  LifecycleOperation = "snapshot"
	OperationReplicate LifecycleOperation = "replicate"
)

// LifecycleState is a state of the image lifecycle state machine.
type LifecycleState int

const (
	// StateRequested means a creation call is about to be issued.
	StateRequested LifecycleState = iota
	// StatePolling means the image exists and its status is being polled.
	StatePolling
	// StateActive is the terminal success state.
	StateActive
	// StateKilled means the remote system gave up on the image.
	StateKilled
	// StateExhausted is the terminal failure state after all retries.
	StateExhausted
)

func (s LifecycleState) String() string {
	switch s {
	case StateRequested:
		return "requested"
	case StatePolling:
		return "polling"
	case StateActive:
		return "active"
	case StateKilled:
		return "killed"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// LifecycleEvent is emitted on every transition of the lifecycle state machine.
type LifecycleEvent struct {
	Operation  LifecycleOperation
	State      LifecycleState
	ImageID    int
	Status     string        // last observed remote status, empty before the first poll
	Attempt    int           // 0 for the first creation call, n for the n-th retry
	MaxRetries int
	Wait       time.Duration // set when the controller is about to sleep
}

// LifecycleEventFunc consumes lifecycle events.
type LifecycleEventFunc func(LifecycleEvent)
