package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"backend-triptrack/internal/shared/apperr"
)

// Client-to-server event names. Anything else is rejected before dispatch.
const (
	EventJoinTrip         = "joinTrip"
	EventUpdateLocation   = "updateLocation"
	EventOutOfRoute       = "currentUserOutOfTripRoute"
	EventUserInExperience = "userInExperience"
	EventFinishExperience = "finishExperience"
	EventSendMessage      = "sendMessage"
	EventTripFinished     = "tripFinished"
)

// Server-to-client event names.
const (
	EventTripJoined           = "tripJoined"
	EventLocationUpdated      = "locationUpdated"
	EventUserOutOfRoute       = "userIsOutOfTripRoute"
	EventAllUsersInExperience = "allUsersInExperience"
	EventExperienceFinished   = "experienceFinished"
	EventAllUsersFinished     = "allUsersFinishedCurrentExp"
	EventMessageSent          = "messageSent"
	EventFinishedTrip         = "finishedTrip"
	EventUserDisconnected     = "userDisconnected"
	EventError                = "error"
)

const maxMessageLen = 300

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Location struct {
	Lon *float64 `json:"lon"`
	Lat *float64 `json:"lat"`
}

// ClientEvent is the decoded, validated form of an inbound frame. The
// concrete types below are the full set; dispatch switches over them
// exhaustively so an unhandled event cannot slip through as a string.
type ClientEvent interface {
	clientEvent()
	validate() map[string]string
}

type JoinTrip struct {
	TripID   string `json:"tripId"`
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

func (JoinTrip) clientEvent() {}
func (e JoinTrip) validate() map[string]string {
	details := map[string]string{}
	requireString(details, "tripId", e.TripID)
	requireString(details, "userId", e.UserID)
	return details
}

type UpdateLocation struct {
	TripID   string    `json:"tripId"`
	Location *Location `json:"location"`
}

func (UpdateLocation) clientEvent() {}
func (e UpdateLocation) validate() map[string]string {
	details := map[string]string{}
	requireString(details, "tripId", e.TripID)
	if e.Location == nil {
		details["location"] = "location is required"
	} else {
		if e.Location.Lon == nil {
			details["location.lon"] = "lon must be a number"
		}
		if e.Location.Lat == nil {
			details["location.lat"] = "lat must be a number"
		}
	}
	return details
}

type OutOfRoute struct {
	TripID string `json:"tripId"`
	UserID string `json:"userId"`
}

func (OutOfRoute) clientEvent() {}
func (e OutOfRoute) validate() map[string]string {
	details := map[string]string{}
	requireString(details, "tripId", e.TripID)
	requireString(details, "userId", e.UserID)
	return details
}

type UserInExperience struct {
	TripID string `json:"tripId"`
	UserID string `json:"userId"`
	Index  *int   `json:"index"`
}

func (UserInExperience) clientEvent() {}
func (e UserInExperience) validate() map[string]string {
	details := map[string]string{}
	requireString(details, "tripId", e.TripID)
	requireString(details, "userId", e.UserID)
	if e.Index == nil {
		details["index"] = "index must be a number"
	}
	return details
}

type FinishExperience struct {
	TripID string `json:"tripId"`
	UserID string `json:"userId"`
	Index  *int   `json:"index"`
	Score  *int   `json:"score"`
}

func (FinishExperience) clientEvent() {}
func (e FinishExperience) validate() map[string]string {
	details := map[string]string{}
	requireString(details, "tripId", e.TripID)
	requireString(details, "userId", e.UserID)
	if e.Index == nil {
		details["index"] = "index must be a number"
	}
	if e.Score == nil {
		details["score"] = "score must be a number"
	}
	return details
}

type SendMessage struct {
	TripID  string `json:"tripId"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

func (SendMessage) clientEvent() {}
func (e SendMessage) validate() map[string]string {
	details := map[string]string{}
	requireString(details, "tripId", e.TripID)
	requireString(details, "userId", e.UserID)
	// limits count characters, not bytes
	if n := utf8.RuneCountInString(e.Message); n < 1 {
		details["message"] = "message must be at least 1 character long"
	} else if n > maxMessageLen {
		details["message"] = fmt.Sprintf("message must be at most %d characters long", maxMessageLen)
	}
	return details
}

type TripFinished struct {
	TripID string `json:"tripId"`
}

func (TripFinished) clientEvent() {}
func (e TripFinished) validate() map[string]string {
	details := map[string]string{}
	requireString(details, "tripId", e.TripID)
	return details
}

func requireString(details map[string]string, field, value string) {
	if value == "" {
		details[field] = field + " must be a non-empty string"
	}
}

// ParseEvent decodes a raw frame into its typed event. Unknown event names
// and malformed payloads are rejected with a validation error carrying one
// detail per offending field; the frame never reaches business logic.
func ParseEvent(raw []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperr.Validation("socket", "malformed frame", map[string]string{"frame": err.Error()})
	}

	switch env.Event {
	case EventJoinTrip:
		return decodeEvent[JoinTrip](env)
	case EventUpdateLocation:
		return decodeEvent[UpdateLocation](env)
	case EventOutOfRoute:
		return decodeEvent[OutOfRoute](env)
	case EventUserInExperience:
		return decodeEvent[UserInExperience](env)
	case EventFinishExperience:
		return decodeEvent[FinishExperience](env)
	case EventSendMessage:
		return decodeEvent[SendMessage](env)
	case EventTripFinished:
		return decodeEvent[TripFinished](env)
	default:
		return nil, apperr.New(apperr.KindValidation, "socket", fmt.Sprintf("invalid event: %s received", env.Event))
	}
}

func decodeEvent[T ClientEvent](env Envelope) (T, error) {
	var payload T
	data := env.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		details := map[string]string{"data": err.Error()}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			details = map[string]string{typeErr.Field: typeErr.Field + " must be of type " + typeErr.Type.String()}
		}
		return payload, apperr.Validation("socket", "validation failed in event: "+env.Event, details)
	}
	if details := payload.validate(); len(details) > 0 {
		return payload, apperr.Validation("socket", "validation failed in event: "+env.Event, details)
	}
	return payload, nil
}

// marshalEvent builds an outbound frame. Payloads are built server-side so a
// marshal failure is a programming error; it degrades to an error frame.
func marshalEvent(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(`{"message":"internal encoding error"}`)
		event = EventError
	}
	frame, _ := json.Marshal(Envelope{Event: event, Data: raw})
	return frame
}

// errorFrame builds the sender-only error event for err.
func errorFrame(err error) []byte {
	var ae *apperr.Error
	if errors.As(err, &ae) && len(ae.Details) > 0 {
		return marshalEvent(EventError, map[string]any{"message": ae.Message, "errorDetails": ae.Details})
	}
	return marshalEvent(EventError, map[string]any{"message": err.Error()})
}
