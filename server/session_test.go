package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edisonsu0623/krunker-game-backend/domain/room"
	"github.com/edisonsu0623/krunker-game-backend/protocol"
)

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	return env
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	b, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write %q: %v", event, err)
	}
}

func connectPlayer(t *testing.T, ts *httptest.Server, roomID, name string) (*websocket.Conn, string) {
	t.Helper()
	conn := dialWS(t, ts)
	env := readEnvelope(t, conn)
	if env.T != protocol.MsgWelcome {
		t.Fatalf("first frame %q, want %q", env.T, protocol.MsgWelcome)
	}
	id := decodeInto[welcome](t, env).PlayerID
	if id == "" {
		t.Fatal("welcome without player id")
	}

	writeEvent(t, conn, protocol.MsgJoinRoom, protocol.JoinRoom{RoomID: roomID, PlayerName: name})
	env = readEnvelope(t, conn)
	if env.T != protocol.MsgJoinedRoom {
		t.Fatalf("got %q, want %q", env.T, protocol.MsgJoinedRoom)
	}
	if got := decodeInto[room.Joined](t, env); got.Player.ID != id || got.Player.Name != name {
		t.Fatalf("joined as %+v, want id %s", got.Player, id)
	}
	return conn, id
}

func TestWebSocketSession(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.server.Handler())
	defer ts.Close()

	alice, aliceID := connectPlayer(t, ts, "ARENA1", "Alice")
	bob, bobID := connectPlayer(t, ts, "ARENA1", "Bob")

	env := readEnvelope(t, alice)
	if env.T != protocol.MsgPlayerJoined || decodeInto[room.Player](t, env).ID != bobID {
		t.Fatalf("alice got %q %s", env.T, env.P)
	}

	writeEvent(t, bob, protocol.MsgPlayerHit, protocol.PlayerHit{TargetID: aliceID, Damage: 100})
	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readEnvelope(t, conn)
		if env.T != protocol.MsgPlayerHit {
			t.Fatalf("got %q, want %q", env.T, protocol.MsgPlayerHit)
		}
		if hit := decodeInto[room.HitResult](t, env); !hit.IsKill || hit.ShooterScore.Kills != 1 {
			t.Fatalf("hit = %+v", hit)
		}
	}

	// Closing the host's connection hands the room to Bob.
	alice.Close()
	env = readEnvelope(t, bob)
	if env.T != protocol.MsgPlayerLeft || decodeInto[room.PlayerLeft](t, env).PlayerID != aliceID {
		t.Fatalf("bob got %q %s", env.T, env.P)
	}
	env = readEnvelope(t, bob)
	if env.T != protocol.MsgHostChanged || decodeInto[room.HostChanged](t, env).HostID != bobID {
		t.Fatalf("bob got %q %s", env.T, env.P)
	}
}

func TestWebSocketMalformedFrameKeepsSession(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.server.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	readEnvelope(t, conn) // welcome

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if env := readEnvelope(t, conn); env.T != protocol.MsgError {
		t.Fatalf("got %q, want %q", env.T, protocol.MsgError)
	}

	writeEvent(t, conn, protocol.MsgGetRoomList, struct{}{})
	if env := readEnvelope(t, conn); env.T != protocol.MsgRoomList {
		t.Fatalf("got %q, want %q", env.T, protocol.MsgRoomList)
	}
}
