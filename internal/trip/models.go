package trip

import (
	"encoding/json"
	"time"
)

// Status is the durable trip lifecycle state. Transitions are one-directional:
// created -> started -> completed, with cancelled as a side exit.
type Status string

const (
	StatusCreated   Status = "created"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Experience is a scored activity attached to a stop.
type Experience struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Score int             `json:"score"`
}

// Stop is one point of the route. The stop order is fixed once the trip is
// created.
type Stop struct {
	Position   int         `json:"position"`
	Lon        float64     `json:"lon"`
	Lat        float64     `json:"lat"`
	Address    string      `json:"address,omitempty"`
	Experience *Experience `json:"experience,omitempty"`
}

// Participant is a durable participant entry with the cumulative score folded
// back from the session at trip end.
type Participant struct {
	UserID string `json:"user_id"`
	Score  int    `json:"score"`
}

type Reward struct {
	Title    string `json:"title"`
	ImageURL string `json:"image_url,omitempty"`
}

type Trip struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	CreatorID    string        `json:"creator_id"`
	GuideIDs     []string      `json:"guide_ids"`
	Status       Status        `json:"status"`
	Reward       *Reward       `json:"reward,omitempty"`
	Stops        []Stop        `json:"stops"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ExperienceCount is the number of stops carrying an experience, which is
// the length of the session's experience list.
func (t Trip) ExperienceCount() int {
	count := 0
	for _, s := range t.Stops {
		if s.Experience != nil {
			count++
		}
	}
	return count
}
