package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/presence"
	"github.com/trezcool/classboard/core/whiteboard"
	testutil "github.com/trezcool/classboard/tests"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// serve registers every incoming connection in the rooms named by the `room` query param.
func serve(t *testing.T, hub *Hub, frames chan<- Frame) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := hub.Register(conn, KindTeacher, r.URL.Query()["room"]...)
		defer c.Release()
		go c.WritePump()
		c.ReadPump(func(f Frame) {
			if frames != nil {
				frames <- f
			}
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func waitRoomSize(t *testing.T, hub *Hub, room string, n int) {
	assert.Eventually(t, func() bool { return hub.RoomSize(room) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_Emit(t *testing.T) {
	hub := NewHub(new(testutil.Logger))
	srv := serve(t, hub, nil)

	teacherA := dial(t, srv, "room="+whiteboard.TeacherRoom("a"))
	teacherB := dial(t, srv, "room="+whiteboard.TeacherRoom("b"))
	waitRoomSize(t, hub, whiteboard.TeacherRoom("a"), 1)
	waitRoomSize(t, hub, whiteboard.TeacherRoom("b"), 1)

	hb := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	wb := whiteboard.Whiteboard{ID: "wb-1", IsOnline: true, LastHeartbeat: &hb}
	hub.Emit(presence.EventStatusUpdate, presence.NewStatusEvent(wb, time.UTC), whiteboard.TeacherRoom("a"))

	f := readFrame(t, teacherA)
	assert.Equal(t, presence.EventStatusUpdate, f.Event)
	var got presence.StatusEvent
	require.NoError(t, json.Unmarshal(f.Data, &got))
	assert.Equal(t, "wb-1", got.WhiteboardID)
	assert.True(t, got.IsOnline)
	if assert.NotNil(t, got.LastHeartbeat) {
		assert.Equal(t, *core.FormatTime(&hb, time.UTC), *got.LastHeartbeat)
	}

	// teacher b is not in the room
	_ = teacherB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := teacherB.ReadMessage()
	assert.Error(t, err)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub := NewHub(new(testutil.Logger))
	srv := serve(t, hub, nil)

	room := whiteboard.Room("wb-1")
	conn := dial(t, srv, "room="+room)
	waitRoomSize(t, hub, room, 1)

	_ = conn.Close()
	waitRoomSize(t, hub, room, 0)
	assert.Equal(t, 0, hub.Broadcast(room, []byte(`{}`)))
}

func isNormalClosure(t *testing.T, conn *websocket.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return websocket.IsCloseError(err, websocket.CloseNormalClosure)
		}
	}
}

func TestHub_CloseAll(t *testing.T) {
	hub := NewHub(new(testutil.Logger))
	srv := serve(t, hub, nil)

	room := whiteboard.TeacherRoom("a")
	first := dial(t, srv, "room="+room)
	second := dial(t, srv, "room="+room)
	waitRoomSize(t, hub, room, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.CloseAll(ctx))

	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.RoomSize(room))
	assert.True(t, isNormalClosure(t, first))
	assert.True(t, isNormalClosure(t, second))

	// late connections are turned away
	late := dial(t, srv, "room="+room)
	assert.True(t, isNormalClosure(t, late))
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_CloseAllWaitsForRelease(t *testing.T) {
	hub := NewHub(new(testutil.Logger))
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := hub.Register(conn, KindBoard, "r")
		defer c.Release()
		go c.WritePump()
		c.ReadPump(func(Frame) {})
		<-hold
	}))
	t.Cleanup(srv.Close)

	dial(t, srv, "room=r")
	waitRoomSize(t, hub, "r", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, hub.CloseAll(ctx))
	assert.Equal(t, 1, hub.ClientCount())

	close(hold)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, hub.CloseAll(ctx2))
	assert.Equal(t, 0, hub.ClientCount())
}

func TestClient_ReadPump(t *testing.T) {
	hub := NewHub(new(testutil.Logger))
	frames := make(chan Frame, 4)
	srv := serve(t, hub, frames)
	conn := dial(t, srv, "room=r")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"heartbeat"}`)))

	select {
	case f := <-frames:
		assert.Equal(t, "heartbeat", f.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
	assert.Len(t, frames, 0)
}

func TestRedisEmitter(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	conf := core.NewTestConfig()
	conf.Redis.Address = addr
	conf.Redis.Channel = "classboard:test:" + time.Now().Format("150405.000000")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewRedisClient(ctx, conf.Redis)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub(new(testutil.Logger))
	srv := serve(t, hub, nil)
	room := whiteboard.TeacherRoom("t-1")
	conn := dial(t, srv, "room="+room)
	waitRoomSize(t, hub, room, 1)

	emitter := NewRedisEmitter(client, conf.Redis.Channel, hub, new(testutil.Logger))
	go func() { _ = emitter.Listen(ctx) }()

	received := make(chan Frame, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if json.Unmarshal(data, &f) == nil {
				received <- f
				return
			}
		}
	}()

	// the subscription may not be active yet; publish until it is
	assert.Eventually(t, func() bool {
		emitter.Emit(presence.EventStatusUpdate, presence.StatusEvent{WhiteboardID: "wb-1"}, room)
		select {
		case f := <-received:
			return f.Event == presence.EventStatusUpdate
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}
