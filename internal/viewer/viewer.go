// Package viewer serves a local page that follows the watch event stream and
// shows the latest capture.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/neboloop/canvas/internal/artifact"
	"github.com/neboloop/canvas/internal/protocol"
	"github.com/neboloop/canvas/internal/watch"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// ErrSlowClient is returned to the watch hub when a viewer cannot keep up;
// the hub then drops it.
var ErrSlowClient = errors.New("viewer: client send buffer full")

// Events is the part of the watch engine the viewer subscribes through.
type Events interface {
	Subscribe(sink watch.Sink, opts watch.SubscribeOptions, store *artifact.Store) (string, error)
	Unsubscribe(id string) bool
}

// Status describes the viewer for viewer.status and daemon.status.
type Status struct {
	Running bool   `json:"running"`
	URL     string `json:"url,omitempty"`
	Root    string `json:"root,omitempty"`
	Clients int    `json:"clients"`
}

// Server is the viewer HTTP server. It is started and stopped on demand.
type Server struct {
	events   Events
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	httpSrv *http.Server
	url     string
	store   *artifact.Store
	clients map[*client]struct{}
}

func New(events Events, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		events:  events,
		logger:  logger.With("component", "viewer"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return isLocalOrigin(r.Header.Get("Origin")) },
		},
	}
}

// Start listens on addr and serves artifacts from store. Starting a running
// viewer only switches the store.
func (s *Server) Start(addr string, store *artifact.Store) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	if s.httpSrv != nil {
		return s.statusLocked(), nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Status{}, fmt.Errorf("viewer listen: %w", err)
	}
	// WebSocket connections are hijacked, so no read or write timeouts here.
	srv := &http.Server{Handler: s.Handler(), IdleTimeout: 120 * time.Second}
	s.httpSrv = srv
	s.url = "http://" + ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("viewer stopped", "error", err)
		}
	}()
	s.logger.Info("viewer listening", "url", s.url)
	return s.statusLocked(), nil
}

// Stop shuts the HTTP server down and disconnects every client.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.url = ""
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	for _, c := range clients {
		c.close()
	}
	return srv.Shutdown(ctx)
}

func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Server) statusLocked() Status {
	st := Status{Running: s.httpSrv != nil, URL: s.url, Clients: len(s.clients)}
	if s.store != nil {
		st.Root = s.store.Root()
	}
	return st
}

// Handler returns the viewer routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/", s.handleIndex)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/latest.png", s.handleLatest)
	r.Get("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store == nil {
		http.Error(w, "no project attached", http.StatusNotFound)
		return
	}
	path, ok := latest(store)
	if !ok {
		http.Error(w, "no captures yet", http.StatusNotFound)
		return
	}
	data, err := store.ReadFile(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// latest picks the newest live capture or screenshot.
func latest(store *artifact.Store) (string, bool) {
	var all []artifact.Artifact
	if live, err := store.LiveCaptures(); err == nil {
		all = append(all, live...)
	}
	if shots, err := store.Screenshots(); err == nil {
		all = append(all, shots...)
	}
	if len(all) == 0 {
		return "", false
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].ModTime.After(all[j].ModTime) })
	return all[0].Path, true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}

	id, err := s.events.Subscribe(c, watch.SubscribeOptions{}, nil)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("viewer client connected", "subscription", id)

	go c.writePump()
	c.readPump()

	s.events.Unsubscribe(id)
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	s.logger.Debug("viewer client disconnected", "subscription", id)
}

// client is one websocket viewer and a watch.Sink.
type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) Send(ev protocol.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return net.ErrClosed
	case c.send <- data:
		return nil
	default:
		return ErrSlowClient
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump only watches for close and keeps the read deadline fresh.
func (c *client) readPump() {
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isLocalOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "http://[::1]"} {
		if len(origin) >= len(prefix) && origin[:len(prefix)] == prefix {
			rest := origin[len(prefix):]
			if rest == "" || rest[0] == ':' {
				return true
			}
		}
	}
	return false
}
