package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/axondata/go-svcd"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventQueueSize    = 64
	pingInterval      = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// subscriber is one websocket connection on /api/events
type subscriber struct {
	client svcd.ClientInfo
	send   chan []byte
	closed bool
}

// handleEvents upgrades to a websocket, sends the current service list and
// then every event the client may see
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	client := clientFrom(r)
	if client.Level() < svcd.LevelDisplay {
		s.writeError(w, &svcd.Fault{Msg: "events", Err: svcd.ErrUnauthorized})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// registered before the list is built so no event falls in between
	sub := &subscriber{client: client, send: make(chan []byte, eventQueueSize)}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	defer s.drop(sub)

	if data, err := svcd.EncodeEvent(s.h.RequestServiceList(r.Context(), client)); err == nil {
		s.mu.Lock()
		if !sub.closed {
			select {
			case sub.send <- data:
			default:
				s.closeLocked(sub)
			}
		}
		s.mu.Unlock()
	}

	s.log.Info().Str("remote_addr", r.RemoteAddr).Stringer("level", client.Level()).Msg("event subscriber connected")
	defer s.log.Info().Str("remote_addr", r.RemoteAddr).Msg("event subscriber disconnected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case data, ok := <-sub.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteTimeout)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// EmitEvent queues ev for every subscriber allowed to see it. A subscriber
// whose queue is full is disconnected.
func (s *Server) EmitEvent(ev svcd.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var shared []byte
	for sub := range s.subs {
		var data []byte
		switch e := ev.(type) {
		case *svcd.ServiceListEvent:
			data = s.encode(s.h.FilterServices(sub.client, e))
		case *svcd.StatusEvent:
			if !s.h.CanSeeStatus(sub.client, e) {
				continue
			}
			if shared == nil {
				shared = s.encode(ev)
			}
			data = shared
		default:
			if shared == nil {
				shared = s.encode(ev)
			}
			data = shared
		}
		if data == nil {
			continue
		}
		select {
		case sub.send <- data:
		default:
			s.log.Warn().Msg("event subscriber too slow, disconnecting")
			s.closeLocked(sub)
		}
	}
}

func (s *Server) encode(ev svcd.Event) []byte {
	data, err := svcd.EncodeEvent(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("encoding event")
		return nil
	}
	return data
}

// Subscribers returns the number of connected event subscribers
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Server) drop(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(sub)
}

// closeLocked closes sub's queue once and forgets it; s.mu is held
func (s *Server) closeLocked(sub *subscriber) {
	if !sub.closed {
		sub.closed = true
		close(sub.send)
	}
	delete(s.subs, sub)
}

func (s *Server) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		s.closeLocked(sub)
	}
}
