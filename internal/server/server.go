// Package server exposes one crdt.State over HTTP and pushes every local
// insert to websocket subscribers.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/kevinxiao27/textcrdt/crdt"
	"github.com/kevinxiao27/textcrdt/ol"
	"github.com/kevinxiao27/textcrdt/util"
)

type Server struct {
	// mu is the single writer lock around state. Lock order is mu, then subsMu.
	mu     sync.Mutex
	state  *crdt.State
	logger *slog.Logger

	upgrader websocket.Upgrader
	subsMu   sync.Mutex
	subs     map[*websocket.Conn]struct{}
}

type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ClientRequest struct {
	Name string `json:"name,omitempty"`
}

type ClientResponse struct {
	ID   ol.ClientID `json:"id"`
	Name string      `json:"name"`
}

type InsertRequest struct {
	Client ol.ClientID `json:"client"`
	Pos    int         `json:"pos"`
	Len    int         `json:"len"`
}

type AddressJSON struct {
	Client ol.ClientID `json:"client"`
	Seq    ol.Seq      `json:"seq"`
	Root   bool        `json:"root"`
}

type InsertEvent struct {
	ID     AddressJSON `json:"id"`
	Origin AddressJSON `json:"origin"`
	Len    int         `json:"len"`
}

type RunJSON struct {
	Origin AddressJSON `json:"origin"`
	Len    int         `json:"len"`
}

type StatsResponse struct {
	Len     int `json:"len"`
	Runs    int `json:"runs"`
	Clients int `json:"clients"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toAddressJSON(a ol.Address) AddressJSON {
	return AddressJSON{Client: a.Client, Seq: a.Seq, Root: a.IsRoot()}
}

func toInsertEvent(op crdt.Op) InsertEvent {
	return InsertEvent{ID: toAddressJSON(op.ID), Origin: toAddressJSON(op.Origin), Len: op.Len}
}

func New(state *crdt.State, logger *slog.Logger) *Server {
	return &Server{
		state:  state,
		logger: logger,
		subs:   make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/clients", s.handleClient).Methods(http.MethodPost)
	r.HandleFunc("/insert", s.handleInsert).Methods(http.MethodPost)
	r.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket)
	return r
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, crdt.ErrInvalidPosition),
		errors.Is(err, crdt.ErrInvalidLength),
		errors.Is(err, crdt.ErrUnknownClient):
		return http.StatusBadRequest
	case errors.Is(err, crdt.ErrClientCapacityExceeded),
		errors.Is(err, crdt.ErrSeqExhausted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) registerClient(name string) (ClientResponse, error) {
	if name == "" {
		name = uuid.NewString()
	}
	s.mu.Lock()
	id, err := s.state.GetOrCreateClientID(name)
	s.mu.Unlock()
	return ClientResponse{ID: id, Name: name}, err
}

func (s *Server) localInsert(req InsertRequest) (crdt.Op, error) {
	// broadcast under mu so subscribers see inserts in the order they applied
	s.mu.Lock()
	defer s.mu.Unlock()
	op, err := s.state.LocalInsertOp(req.Client, req.Pos, req.Len)
	if err != nil {
		return op, err
	}
	s.broadcast(WSMessage{Type: "insert", Data: mustMarshal(toInsertEvent(op))})
	return op, nil
}

func (s *Server) stats() StatsResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsResponse{Len: s.state.Len(), Runs: s.state.NumRuns(), Clients: s.state.NumClients()}
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := s.registerClient(req.Name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.logger.Info("client registered", slog.String("name", resp.Name), slog.Int("id", int(resp.ID)))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	op, err := s.localInsert(req)
	if err != nil {
		s.logger.Warn("insert rejected",
			slog.Int("client", int(req.Client)),
			slog.Int("pos", req.Pos),
			slog.Int("len", req.Len),
			slog.Any("error", err))
		writeError(w, statusFor(err), err)
		return
	}
	s.logger.Info("insert",
		slog.String("id", op.ID.String()),
		slog.String("origin", op.Origin.String()),
		slog.Int("len", op.Len))
	writeJSON(w, http.StatusOK, toInsertEvent(op))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	runs := s.state.Runs()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, util.Map(runs, func(run ol.Run) RunJSON {
		return RunJSON{Origin: toAddressJSON(run.Origin), Len: run.Len()}
	}))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
