package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket protocol for solution events, modeled on graphql-transport-ws:
// connection_init/connection_ack, ping/pong, subscribe {id}, next, error,
// complete.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// Connections that send no connection_init within wsInitTimeout are closed.
var (
	wsInitTimeout = 10 * time.Second
	wsIdleTimeout = 60 * time.Second
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	SolutionID string `json:"solutionId"`
}

// WSHandler handles /v1/ws
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		solutionID string
		ch         chan SSEEvent
	}
	subs := map[string]sub{}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsInitTimeout))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout)); return nil })

	// gorilla connections allow one concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	fail := func(id, message string) {
		payload, _ := json.Marshal(map[string]string{"message": message})
		_ = write(wsMessage{Type: "error", ID: id, Payload: payload})
		_ = write(wsMessage{Type: "complete", ID: id})
	}
	done := make(chan struct{})
	defer close(done)

	initialized := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		if initialized || msg.Type == "connection_init" {
			_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		}
		switch msg.Type {
		case "connection_init":
			if initialized {
				continue
			}
			initialized = true
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "pong":
		case "subscribe":
			if !initialized {
				fail(msg.ID, "connection_init required")
				continue
			}
			if _, dup := subs[msg.ID]; dup || msg.ID == "" {
				fail(msg.ID, "subscription id missing or already in use")
				continue
			}
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			if pl.SolutionID == "" {
				fail(msg.ID, "solutionId required")
				continue
			}
			if _, err := s.Store.GetSolution(r.Context(), pl.SolutionID); err != nil {
				fail(msg.ID, problemFor(err, "").Title)
				continue
			}
			ch := s.Broker.Subscribe(pl.SolutionID)
			// a finished solve is replayed once, then the subscription completes
			if sol, err := s.Store.GetSolution(r.Context(), pl.SolutionID); err == nil {
				if evt, ok := terminalEvent(sol); ok {
					s.Broker.Unsubscribe(pl.SolutionID, ch)
					_ = write(wsMessage{Type: "next", ID: msg.ID, Payload: nextPayload(evt)})
					_ = write(wsMessage{Type: "complete", ID: msg.ID})
					continue
				}
			}
			subs[msg.ID] = sub{solutionID: pl.SolutionID, ch: ch}
			go func(id string, c chan SSEEvent) {
				for evt := range c {
					if err := write(wsMessage{Type: "next", ID: id, Payload: nextPayload(evt)}); err != nil {
						s.Log.Debug("ws write", zap.Error(err))
						return
					}
					if evt.terminal() {
						break
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.solutionID, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.solutionID, s0.ch)
		delete(subs, id)
	}
}

func nextPayload(evt SSEEvent) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"data": map[string]any{"solutionEvents": evt}})
	return b
}
