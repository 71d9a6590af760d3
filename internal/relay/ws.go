package relay

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Connection tuning for viewer websockets.
const (
	writeTimeout   = 10 * time.Second
	readTimeout    = 60 * time.Second
	pingInterval   = 50 * time.Second
	maxMessageSize = 64 * 1024
)

// Message types on the viewer websocket.
const (
	MsgData   = "data"   // both directions; Data is base64 terminal bytes
	MsgResize = "resize" // viewer to relay
	MsgReady  = "ready"  // relay to viewer, after the snapshot
	MsgError  = "error"  // relay to viewer
)

// Envelope is the JSON frame exchanged with terminal viewers.
type Envelope struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Cols  uint16 `json:"cols,omitempty"`
	Rows  uint16 `json:"rows,omitempty"`
	Error string `json:"error,omitempty"`
}

// ServeConn attaches one websocket viewer to a relay: replays the
// scrollback snapshot, then streams live output while accepting input and
// resize frames. Blocks until the viewer disconnects or the relay closes.
// Detaching never stops the underlying instance.
func ServeConn(conn *websocket.Conn, r *Relay) {
	sub := r.Subscribe()
	defer r.Unsubscribe(sub)

	send := make(chan Envelope, 64)
	done := make(chan struct{})

	go writePump(conn, send, done)
	defer close(done)

	if snap := r.Snapshot(); len(snap) > 0 {
		send <- Envelope{Type: MsgData, Data: base64.StdEncoding.EncodeToString(snap)}
	}
	send <- Envelope{Type: MsgReady}

	go func() {
		for chunk := range sub {
			select {
			case send <- Envelope{Type: MsgData, Data: base64.StdEncoding.EncodeToString(chunk)}:
			case <-done:
				return
			}
		}
		// Relay closed underneath us; tell the viewer and let the read
		// side notice the shutdown.
		select {
		case send <- Envelope{Type: MsgError, Error: "relay closed"}:
		case <-done:
		}
		conn.Close()
	}()

	readPump(conn, r)
}

func readPump(conn *websocket.Conn, r *Relay) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("relay: viewer read %s/%s: %v", r.InstanceID, r.Kind, err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("relay: viewer frame %s/%s: %v", r.InstanceID, r.Kind, err)
			continue
		}

		switch env.Type {
		case MsgData:
			data, err := base64.StdEncoding.DecodeString(env.Data)
			if err != nil {
				log.Printf("relay: viewer data %s/%s: %v", r.InstanceID, r.Kind, err)
				continue
			}
			if err := r.Write(data); err != nil {
				log.Printf("relay: viewer write %s/%s: %v", r.InstanceID, r.Kind, err)
				return
			}
		case MsgResize:
			r.Resize(env.Cols, env.Rows)
		default:
			log.Printf("relay: viewer sent unknown frame type %q", env.Type)
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan Envelope, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
