package storage

import (
	"time"

	"github.com/google/uuid"
)

type AlarmEvent struct {
	ID         uuid.UUID `json:"id"`
	Code       uint8     `json:"code"`
	Name       string    `json:"name"`
	Fatal      bool      `json:"fatal"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
}

type HomingRun struct {
	ID        uuid.UUID     `json:"id"`
	Axes      string        `json:"axes"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Alarm     *int16        `json:"alarm,omitempty"`
	Error     *string       `json:"error,omitempty"`
}
