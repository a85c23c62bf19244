package stream

import (
	"context"
	"log"

	"backend-triptrack/internal/session"
	"backend-triptrack/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes mounts the realtime endpoint. A connection is bound to one
// (trip, participant) pair for its whole lifetime; inbound frames are
// validated, applied through the session manager and the outcome is fanned
// out to the trip room. Validation and business errors go back to the
// offending connection only.
func RegisterRoutes(r fiber.Router, hub *Hub, sessions *session.Manager) {
	r.Get("/ws/:tripID", websocket.New(func(c *websocket.Conn) {
		tripID := c.Params("tripID")
		userID := c.Query("userId")
		client := hub.Register(tripID, userID)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case msg := <-client.Send:
					if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				case <-client.Done():
					return
				}
			}
		}()

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				break
			}
			handleFrame(context.Background(), hub, sessions, client, raw)
		}

		hub.Unregister(client)
		disconnectCleanup(context.Background(), hub, sessions, client)
		<-done
	}))
}

func handleFrame(ctx context.Context, hub *Hub, sessions *session.Manager, client *Client, raw []byte) {
	event, err := ParseEvent(raw)
	if err != nil {
		sendDirect(client, errorFrame(err))
		return
	}
	if err := dispatch(ctx, hub, sessions, client, event); err != nil {
		log.Printf("event from %s in trip %s failed: %v", client.UserID, client.TripID, err)
		sendDirect(client, errorFrame(err))
	}
}

func dispatch(ctx context.Context, hub *Hub, sessions *session.Manager, client *Client, event ClientEvent) error {
	switch e := event.(type) {
	case JoinTrip:
		progress, err := sessions.AddParticipant(ctx, e.TripID, e.UserID, e.Name, e.ImageURL)
		if err != nil {
			return err
		}
		hub.Broadcast(e.TripID, marshalEvent(EventTripJoined, progress))

	case UpdateLocation:
		hub.BroadcastExcept(e.TripID, client, marshalEvent(EventLocationUpdated, map[string]any{
			"userId":   client.UserID,
			"location": e.Location,
		}))

	case OutOfRoute:
		hub.Broadcast(e.TripID, marshalEvent(EventUserOutOfRoute, map[string]any{"userId": e.UserID}))

	case UserInExperience:
		res, err := sessions.MarkArrived(ctx, e.TripID, e.UserID, *e.Index)
		if err != nil {
			return err
		}
		if res.AllArrived {
			hub.Broadcast(e.TripID, marshalEvent(EventAllUsersInExperience, true))
		}

	case FinishExperience:
		res, err := sessions.MarkFinished(ctx, e.TripID, e.UserID, *e.Index, *e.Score)
		if err != nil {
			return err
		}
		hub.Broadcast(e.TripID, marshalEvent(EventExperienceFinished, map[string]any{
			"user":   res.Progress,
			"userId": e.UserID,
			"index":  *e.Index,
		}))
		if res.Advanced {
			hub.Broadcast(e.TripID, marshalEvent(EventAllUsersFinished, res.NextIndex))
		}

	case SendMessage:
		hub.Broadcast(e.TripID, marshalEvent(EventMessageSent, map[string]any{
			"message": e.Message,
			"userId":  e.UserID,
		}))

	case TripFinished:
		hub.Broadcast(e.TripID, marshalEvent(EventFinishedTrip, e.TripID))

	default:
		return apperr.New(apperr.KindInternal, "socket", "unhandled event type")
	}
	return nil
}

// disconnectCleanup detaches the participant from the live tracking sets and
// tells the room. Both steps are best effort: a failure is logged, never
// surfaced, and must not keep the connection teardown from completing.
func disconnectCleanup(ctx context.Context, hub *Hub, sessions *session.Manager, client *Client) {
	if client.UserID != "" {
		if err := sessions.DetachParticipant(ctx, client.TripID, client.UserID); err != nil {
			log.Printf("disconnect cleanup for %s in trip %s: %v", client.UserID, client.TripID, err)
		}
	}
	hub.Broadcast(client.TripID, marshalEvent(EventUserDisconnected, client.UserID))
}

func sendDirect(client *Client, frame []byte) {
	select {
	case client.Send <- frame:
	default:
	}
}
