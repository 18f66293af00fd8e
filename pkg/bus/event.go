package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the mock service.
const (
	SubjectPrefix = "pipemock."

	PipelineTriggered     = "pipemock.pipelines.triggered"
	PipelineStatusChanged = "pipemock.pipelines.status_changed"
	PipelineDeleted       = "pipemock.pipelines.deleted"
	ScenarioCreated       = "pipemock.scenarios.created"
	ScenarioUpdated       = "pipemock.scenarios.updated"
	ScenarioDeleted       = "pipemock.scenarios.deleted"
)

// AllSubjects is the wildcard covering every subject above.
const AllSubjects = SubjectPrefix + ">"

// Event is the envelope every message is wrapped in.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// NewEvent wraps data in an envelope stamped with at.
func NewEvent(subject string, at time.Time, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:   uuid.NewString(),
		Type: subject,
		At:   at.UTC(),
		Data: raw,
	}, nil
}

// DecodeEvent parses a message body produced by Publish(NewEvent(...)).
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}
