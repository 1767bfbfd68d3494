// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

// Package monitor serves the clients seen on the status group over HTTP,
// server-sent events and websockets.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SeisComP/common-sub009/internal/session"
	"github.com/SeisComP/common-sub009/pkg/core"
	"github.com/SeisComP/common-sub009/pkg/message"
)

const DefaultMetricsPath = "/metrics"

// Publisher sends messages on behalf of the publish endpoint.
// *client.Connection implements it.
type Publisher interface {
	SendMessageTo(ctx context.Context, group string, msg message.Message) core.Result
}

type Option func(*Server)

func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithGatherer exposes g on the metrics path. Without it the metrics
// endpoint is not served.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithMetricsPath(path string) Option {
	return func(s *Server) {
		if path != "" {
			s.metricsPath = path
		}
	}
}

func WithMaxBody(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

type Server struct {
	addr        string
	tracker     *Tracker
	sessions    *session.Manager
	publisher   Publisher
	gatherer    prometheus.Gatherer
	metricsPath string
	maxBody     int64
	upgrader    websocket.Upgrader
	server      *http.Server
	logger      *slog.Logger
}

func New(addr string, tracker *Tracker, sessions *session.Manager, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		addr:        addr,
		tracker:     tracker,
		sessions:    sessions,
		metricsPath: DefaultMetricsPath,
		maxBody:     1 << 20,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routes of the monitor.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/clients", s.handleClients)
	mux.HandleFunc("/events", s.handleSSE)
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/publish/{group}", s.handlePublish)
	if s.gatherer != nil {
		mux.Handle(s.metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{Addr: s.addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.sessions.DestroyAll()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("monitor starting", "addr", s.addr, "metrics", s.gatherer != nil)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.sessions.DestroyAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Clients())
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sess := s.sessions.CreateSession(r.Context(), r.RemoteAddr)
	defer s.sessions.DestroySession(sess.ID)

	for _, v := range s.tracker.Clients() {
		if err := writeEvent(w, v); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-sess.Done():
			return
		case report := <-sess.Downstream:
			if err := writeEvent(w, viewOf(report, time.Now())); err != nil {
				s.logger.Debug("sse write failed", "client_id", sess.ClientID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, v ClientView) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\ndata: %s\n\n", uuid.New().String(), data)
	return err
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", "error", err)
		return
	}

	sess := s.sessions.CreateSession(r.Context(), r.RemoteAddr)
	defer func() {
		conn.Close()
		s.sessions.DestroySession(sess.ID)
	}()

	go s.readLoop(conn, sess)

	for _, v := range s.tracker.Clients() {
		if err := conn.WriteJSON(v); err != nil {
			return
		}
	}
	for {
		select {
		case <-sess.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case report := <-sess.Downstream:
			if err := conn.WriteJSON(viewOf(report, time.Now())); err != nil {
				s.logger.Error("ws write failed", "client_id", sess.ClientID, "error", err)
				return
			}
		}
	}
}

// readLoop drains the peer until it goes away and then ends the session.
func (s *Server) readLoop(conn *websocket.Conn, sess *session.Session) {
	defer s.sessions.DestroySession(sess.ID)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("ws read error", "client_id", sess.ClientID, "error", err)
			}
			return
		}
	}
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	group := r.PathValue("group")
	if !core.ValidGroupName(group) {
		http.Error(w, "invalid group", http.StatusBadRequest)
		return
	}
	if s.publisher == nil {
		http.Error(w, "publishing disabled", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	res := s.publisher.SendMessageTo(r.Context(), group, message.NewText(string(body)))
	if !res.OK() {
		s.logger.Warn("publish failed", "group", group, "result", res.String())
		code := http.StatusBadGateway
		if res.Code() == core.NotConnected {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": "failed", "result": res.String()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "group": group})
}
