package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sigmalens/search"
)

// WebSocket configuration constants
const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from peer.
	maxMessageSize = 4096

	sendChannelSize = 16
)

// Message types on the live-search socket.
const (
	wsTypeQuery   = "query"
	wsTypeResults = "results"
	wsTypeError   = "error"
)

type wsInbound struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

type wsResults struct {
	Type string `json:"type"`
	search.Result
}

type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// upgrader configures WebSocket connection upgrades. Origins are checked by
// corsMiddleware's allow list.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// searchRulesWS runs live search over a websocket. Each query message is a
// keystroke; results arrive only for the latest input after the debounce
// window.
func (a *API) searchRulesWS(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	up.CheckOrigin = a.checkOrigin
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	send := make(chan []byte, sendChannelSize)

	live := search.NewLiveSearch(ctx, a.searcher, a.config.Search.DebounceWindow, a.recordsFunc(), func(res search.Result) {
		a.enqueue(send, wsResults{Type: wsTypeResults, Result: res})
	})

	go a.writePump(conn, send, cancel)
	a.readPump(ctx, conn, live, send)

	live.Stop()
	cancel()
}

// readPump reads query messages until the peer goes away.
func (a *API) readPump(ctx context.Context, conn *websocket.Conn, live *search.LiveSearch, send chan<- []byte) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Debugw("WebSocket unexpected close", "error", err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != wsTypeQuery {
			a.enqueue(send, wsError{Type: wsTypeError, Error: "expected {\"type\":\"query\",\"query\":...}"})
			continue
		}
		live.Input(msg.Query)
	}
}

// writePump serializes writes and keeps the connection alive with pings.
func (a *API) writePump(conn *websocket.Conn, send <-chan []byte, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case message := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-a.stopCh:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// enqueue drops the message when the client is not keeping up.
func (a *API) enqueue(send chan<- []byte, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Errorw("Failed to encode websocket message", "error", err)
		return
	}
	select {
	case send <- data:
	default:
		a.logger.Warnw("WebSocket send buffer full, dropping message")
	}
}

func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range a.config.API.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
