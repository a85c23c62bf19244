package stream

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-triptrack/internal/session"
	"backend-triptrack/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func newTestApp(t *testing.T) (*fiber.App, *Hub, *session.Manager, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := session.NewManager(store.New(client, time.Hour))
	hub := NewHub(nil)

	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, sessions)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return app, hub, sessions, "ws://" + ln.Addr().String()
}

func dial(t *testing.T, base, tripID, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws/"+tripID+"?userId="+userID, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return env
}

func TestHandlersUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/ws/trip-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected non-200 for non-websocket request")
	}
}

func TestHandlersJoinAndFinishFlow(t *testing.T) {
	_, _, sessions, base := newTestApp(t)
	ctx := context.Background()

	if err := sessions.Seed(ctx, "t1", 1, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	conn := dial(t, base, "t1", "alice")

	send(t, conn, `{"event":"joinTrip","data":{"tripId":"t1","userId":"alice","name":"Alice"}}`)
	env := readEnvelope(t, conn)
	if env.Event != EventTripJoined {
		t.Fatalf("expected tripJoined, got %s", env.Event)
	}
	var joined session.UserProgress
	if err := json.Unmarshal(env.Data, &joined); err != nil {
		t.Fatalf("decode tripJoined: %v", err)
	}
	if joined.UserID != "alice" || joined.Name != "Alice" {
		t.Fatalf("unexpected join payload: %+v", joined)
	}

	send(t, conn, `{"event":"userInExperience","data":{"tripId":"t1","userId":"alice","index":0}}`)
	if env = readEnvelope(t, conn); env.Event != EventAllUsersInExperience {
		t.Fatalf("expected allUsersInExperience, got %s", env.Event)
	}

	send(t, conn, `{"event":"finishExperience","data":{"tripId":"t1","userId":"alice","index":0,"score":10}}`)
	if env = readEnvelope(t, conn); env.Event != EventExperienceFinished {
		t.Fatalf("expected experienceFinished, got %s", env.Event)
	}
	if env = readEnvelope(t, conn); env.Event != EventAllUsersFinished {
		t.Fatalf("expected allUsersFinishedCurrentExp, got %s", env.Event)
	}
	var nextIndex int
	if err := json.Unmarshal(env.Data, &nextIndex); err != nil || nextIndex != 1 {
		t.Fatalf("unexpected next index: %d err=%v", nextIndex, err)
	}

	lb, err := sessions.Leaderboard(ctx, "t1")
	if err != nil || len(lb) != 1 || lb[0].Score != 10 {
		t.Fatalf("unexpected leaderboard: %+v err=%v", lb, err)
	}
}

func TestHandlersValidationErrorOnlyToSender(t *testing.T) {
	_, _, sessions, base := newTestApp(t)
	_ = sessions.Seed(context.Background(), "t1", 1, nil)

	conn := dial(t, base, "t1", "alice")
	other := dial(t, base, "t1", "bob")

	send(t, conn, `{"event":"noSuchEvent","data":{}}`)
	env := readEnvelope(t, conn)
	if env.Event != EventError {
		t.Fatalf("expected error event, got %s", env.Event)
	}

	// the other connection must not see the failure
	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatalf("validation error leaked to the room")
	}
}

func TestHandlersDoubleFinishConflict(t *testing.T) {
	_, _, sessions, base := newTestApp(t)
	ctx := context.Background()
	_ = sessions.Seed(ctx, "t1", 2, nil)

	conn := dial(t, base, "t1", "alice")
	send(t, conn, `{"event":"joinTrip","data":{"tripId":"t1","userId":"alice"}}`)
	if env := readEnvelope(t, conn); env.Event != EventTripJoined {
		t.Fatalf("expected tripJoined, got %s", env.Event)
	}

	send(t, conn, `{"event":"finishExperience","data":{"tripId":"t1","userId":"alice","index":0,"score":10}}`)
	if env := readEnvelope(t, conn); env.Event != EventExperienceFinished {
		t.Fatalf("expected experienceFinished, got %s", env.Event)
	}
	if env := readEnvelope(t, conn); env.Event != EventAllUsersFinished {
		t.Fatalf("expected advance, got %s", env.Event)
	}

	send(t, conn, `{"event":"finishExperience","data":{"tripId":"t1","userId":"alice","index":0,"score":99}}`)
	env := readEnvelope(t, conn)
	if env.Event != EventError {
		t.Fatalf("expected error event, got %s", env.Event)
	}
}

func TestHandlersOutOfRangeFinishIndex(t *testing.T) {
	_, _, sessions, base := newTestApp(t)
	ctx := context.Background()
	_ = sessions.Seed(ctx, "t1", 2, nil)

	conn := dial(t, base, "t1", "alice")
	send(t, conn, `{"event":"joinTrip","data":{"tripId":"t1","userId":"alice"}}`)
	if env := readEnvelope(t, conn); env.Event != EventTripJoined {
		t.Fatalf("expected tripJoined, got %s", env.Event)
	}

	// An absurd index must come back as a plain error frame; the connection
	// stays alive and usable.
	send(t, conn, `{"event":"finishExperience","data":{"tripId":"t1","userId":"alice","index":1152921504606846976,"score":1}}`)
	if env := readEnvelope(t, conn); env.Event != EventError {
		t.Fatalf("expected error event, got %s", env.Event)
	}

	send(t, conn, `{"event":"finishExperience","data":{"tripId":"t1","userId":"alice","index":0,"score":10}}`)
	if env := readEnvelope(t, conn); env.Event != EventExperienceFinished {
		t.Fatalf("expected experienceFinished, got %s", env.Event)
	}
}

func TestHandlersChatAndLocationFanout(t *testing.T) {
	_, _, sessions, base := newTestApp(t)
	_ = sessions.Seed(context.Background(), "t1", 1, nil)

	alice := dial(t, base, "t1", "alice")
	bob := dial(t, base, "t1", "bob")
	time.Sleep(20 * time.Millisecond)

	// location updates exclude the sender
	send(t, alice, `{"event":"updateLocation","data":{"tripId":"t1","location":{"lon":34.78,"lat":32.08}}}`)
	if env := readEnvelope(t, bob); env.Event != EventLocationUpdated {
		t.Fatalf("expected locationUpdated, got %s", env.Event)
	}

	// chat includes everyone
	send(t, alice, `{"event":"sendMessage","data":{"tripId":"t1","userId":"alice","message":"hi"}}`)
	if env := readEnvelope(t, alice); env.Event != EventMessageSent {
		t.Fatalf("expected messageSent for sender, got %s", env.Event)
	}
	if env := readEnvelope(t, bob); env.Event != EventMessageSent {
		t.Fatalf("expected messageSent for room, got %s", env.Event)
	}
}

func TestHandlersDisconnectNotifiesRoom(t *testing.T) {
	_, _, sessions, base := newTestApp(t)
	ctx := context.Background()
	_ = sessions.Seed(ctx, "t1", 1, nil)

	alice := dial(t, base, "t1", "alice")
	bob := dial(t, base, "t1", "bob")

	send(t, bob, `{"event":"joinTrip","data":{"tripId":"t1","userId":"bob"}}`)
	if env := readEnvelope(t, alice); env.Event != EventTripJoined {
		t.Fatalf("expected tripJoined, got %s", env.Event)
	}
	if env := readEnvelope(t, bob); env.Event != EventTripJoined {
		t.Fatalf("expected tripJoined, got %s", env.Event)
	}

	_ = bob.Close()

	env := readEnvelope(t, alice)
	if env.Event != EventUserDisconnected {
		t.Fatalf("expected userDisconnected, got %s", env.Event)
	}
	var who string
	if err := json.Unmarshal(env.Data, &who); err != nil || who != "bob" {
		t.Fatalf("unexpected payload: %s err=%v", env.Data, err)
	}

	// bob was detached from the live sets but keeps his progress record
	if _, err := sessions.Progress(ctx, "t1", "bob"); err != nil {
		t.Fatalf("progress lost on disconnect: %v", err)
	}
	lb, _ := sessions.Leaderboard(ctx, "t1")
	for _, e := range lb {
		if e.UserID == "bob" {
			t.Fatalf("bob still on leaderboard after disconnect")
		}
	}
}
