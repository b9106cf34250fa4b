package web

import (
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axondata/go-svcd"
)

func (f *fixture) subscribe(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/events"
	header := http.Header{}
	if user != "" {
		req, _ := http.NewRequest(http.MethodGet, url, nil)
		req.SetBasicAuth(user, user)
		header.Set("Authorization", req.Header.Get("Authorization"))
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) svcd.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := svcd.DecodeEvent(data)
	require.NoError(t, err)
	return ev
}

func TestEventStreamFiltersByLevel(t *testing.T) {
	f := newFixture(t)
	root := f.subscribe(t, "root")
	anon := f.subscribe(t, "")

	list := readEvent(t, root).(*svcd.ServiceListEvent)
	assert.Len(t, list.Services, 2)
	list = readEvent(t, anon).(*svcd.ServiceListEvent)
	assert.Len(t, list.Services, 1)

	require.Eventually(t, func() bool { return f.srv.Subscribers() == 2 }, 5*time.Second, 10*time.Millisecond)

	f.srv.EmitEvent(&svcd.StatusEvent{Service: "db", State: svcd.StateRunning})
	f.srv.EmitEvent(&svcd.StatusEvent{Service: "web", State: svcd.StateRunning})

	assert.Equal(t, "db", readEvent(t, root).(*svcd.StatusEvent).Service)
	assert.Equal(t, "web", readEvent(t, root).(*svcd.StatusEvent).Service)
	assert.Equal(t, "web", readEvent(t, anon).(*svcd.StatusEvent).Service, "db is hidden from anonymous clients")

	// a reload broadcasts the list, narrowed per subscriber
	require.NoError(t, f.h.TriggerReload(svcd.NewClientInfo(svcd.LevelAdmin)))
	assert.Len(t, readEvent(t, root).(*svcd.ServiceListEvent).Services, 2)
	assert.Len(t, readEvent(t, anon).(*svcd.ServiceListEvent).Services, 1)

	f.srv.EmitEvent(&svcd.FoundHostEvent{Host: "10.0.0.9", Version: svcd.ProtocolVersion})
	assert.Equal(t, "10.0.0.9", readEvent(t, anon).(*svcd.FoundHostEvent).Host)
}

func TestEventStreamDisconnect(t *testing.T) {
	f := newFixture(t)
	conn := f.subscribe(t, "ops")
	readEvent(t, conn)
	require.Eventually(t, func() bool { return f.srv.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.srv.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	f := newFixture(t)
	sub := &subscriber{client: svcd.NewClientInfo(svcd.LevelAdmin), send: make(chan []byte, 1)}
	f.srv.mu.Lock()
	f.srv.subs[sub] = struct{}{}
	f.srv.mu.Unlock()

	f.srv.EmitEvent(&svcd.StatusEvent{Service: "web"})
	assert.Equal(t, 1, f.srv.Subscribers())
	f.srv.EmitEvent(&svcd.StatusEvent{Service: "web", State: svcd.StateRunning})
	assert.Equal(t, 0, f.srv.Subscribers())

	_, open := <-sub.send
	assert.True(t, open, "the queued event is still delivered")
	_, open = <-sub.send
	assert.False(t, open)
}

func TestEventStreamKeepsEventsDuringInitialList(t *testing.T) {
	f := newFixture(t)
	b := f.backend("public")
	var once sync.Once
	b.mu.Lock()
	b.onStatus = func(id svcd.ServiceID) {
		once.Do(func() {
			f.srv.EmitEvent(&svcd.StatusEvent{Service: id.Service, State: svcd.StateStarting, ExtStatus: "while listing"})
		})
	}
	b.mu.Unlock()

	conn := f.subscribe(t, "")
	var status *svcd.StatusEvent
	var list *svcd.ServiceListEvent
	for i := 0; i < 2; i++ {
		switch ev := readEvent(t, conn).(type) {
		case *svcd.StatusEvent:
			status = ev
		case *svcd.ServiceListEvent:
			list = ev
		}
	}
	require.NotNil(t, status, "the event emitted while the list was built is delivered")
	assert.Equal(t, "while listing", status.ExtStatus)
	require.NotNil(t, list)
	assert.Contains(t, list.Services, "web")
}
