// Package main runs a demo WebSocket client for solution events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const demo = `{"coords":[[13.388860,52.517037],[13.397634,52.529407],[13.428555,52.523219],[13.376217,52.509771],[13.402967,52.500095]],
"demands":[0,3,2,4,1],"vehicle_capacities":[6,6],"options":{"timeLimitMs":2000}}`

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS first so no progress event is missed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()
	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}

	// Start an asynchronous solve
	resp, err := http.Post(base+"/v1/solutions", "application/json", bytes.NewReader([]byte(demo)))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var accepted struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		log.Fatal(err)
	}
	if accepted.ID == "" {
		log.Fatalf("solve not accepted: %s", resp.Status)
	}
	log.Printf("Solution ID: %s", accepted.ID)

	pl, _ := json.Marshal(map[string]string{"solutionId": accepted.ID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
			if m.Type == "complete" && m.ID == "1" {
				return
			}
		}
	}()

	select {
	case <-time.After(30 * time.Second):
	case <-done:
	}
}
