package eventstore

import (
	"encoding/json"
	"time"
)

// Event type names.
const (
	TypeBuildStarted   = "BuildStarted"
	TypeTargetFinished = "TargetFinished"
	TypeTargetFailed   = "TargetFailed"
	TypeBuildFinished  = "BuildFinished"
)

// BuildStartedPayload is the payload of a BuildStarted event.
type BuildStartedPayload struct {
	Targets  []string `json:"targets"`
	Revision string   `json:"revision,omitempty"`
	Jobs     int      `json:"jobs"`
}

// BuildStarted is emitted once the requested targets are resolved.
type BuildStarted struct {
	BaseEvent
	BuildStartedPayload
}

// NewBuildStarted creates a BuildStarted event.
func NewBuildStarted(buildID string, p BuildStartedPayload) (*BuildStarted, error) {
	base, err := newBase(buildID, TypeBuildStarted, p)
	if err != nil {
		return nil, err
	}
	return &BuildStarted{BaseEvent: base, BuildStartedPayload: p}, nil
}

// TargetPayload is the payload of TargetFinished and TargetFailed events.
type TargetPayload struct {
	Target     string  `json:"target"`
	Kind       string  `json:"kind,omitempty"`
	Status     string  `json:"status"`
	RuleKey    string  `json:"rule_key,omitempty"`
	DurationMS float64 `json:"duration_ms"`
	Attempts   int     `json:"attempts,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// TargetFinished is emitted when a requested target completes successfully.
type TargetFinished struct {
	BaseEvent
	TargetPayload
}

// NewTargetFinished creates a TargetFinished event.
func NewTargetFinished(buildID string, p TargetPayload) (*TargetFinished, error) {
	base, err := newBase(buildID, TypeTargetFinished, p)
	if err != nil {
		return nil, err
	}
	base.EventMetadata = map[string]string{"target": p.Target}
	return &TargetFinished{BaseEvent: base, TargetPayload: p}, nil
}

// TargetFailed is emitted when a requested target fails.
type TargetFailed struct {
	BaseEvent
	TargetPayload
}

// NewTargetFailed creates a TargetFailed event.
func NewTargetFailed(buildID string, p TargetPayload) (*TargetFailed, error) {
	base, err := newBase(buildID, TypeTargetFailed, p)
	if err != nil {
		return nil, err
	}
	base.EventMetadata = map[string]string{"target": p.Target}
	return &TargetFailed{BaseEvent: base, TargetPayload: p}, nil
}

// BuildFinishedPayload is the payload of a BuildFinished event.
type BuildFinishedPayload struct {
	ExitCode   int            `json:"exit_code"`
	Outcome    string         `json:"outcome"`
	DurationMS float64        `json:"duration_ms"`
	Counts     map[string]int `json:"counts,omitempty"`
	Report     string         `json:"report,omitempty"`
}

// BuildFinished is emitted after every requested target reached a terminal state.
type BuildFinished struct {
	BaseEvent
	BuildFinishedPayload
}

// NewBuildFinished creates a BuildFinished event.
func NewBuildFinished(buildID string, p BuildFinishedPayload) (*BuildFinished, error) {
	base, err := newBase(buildID, TypeBuildFinished, p)
	if err != nil {
		return nil, err
	}
	return &BuildFinished{BaseEvent: base, BuildFinishedPayload: p}, nil
}

func newBase(buildID, eventType string, payload any) (BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return BaseEvent{}, marshalErr(eventType, buildID, err)
	}
	return BaseEvent{
		EventBuildID:   buildID,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}
