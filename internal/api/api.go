package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scanhive/mula/internal/middleware"
	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/observability"
	"github.com/scanhive/mula/internal/queue"
)

// API is the Control API: it reads and mutates scheduler and queue state
// through a Registry and never owns a scheduler itself.
type API struct {
	registry Registry
	version  string
}

// New builds an API reading from registry.
func New(registry Registry, version string) *API {
	return &API{registry: registry, version: version}
}

// Routes builds the full mux, wrapped in CORS, ready for ListenAndServe.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.handleRoot)
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/schedulers", a.handleSchedulers)
	mux.HandleFunc("/schedulers/", a.handleScheduler)
	mux.HandleFunc("/queues", a.handleQueues)
	mux.HandleFunc("/queues/", a.handleQueueSubroutes)
	mux.Handle("/metrics", promhttp.Handler())
	return middleware.CORSMiddleware(mux)
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service": "mula",
		"healthy": true,
		"version": a.version,
	})
}

func (a *API) handleSchedulers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.registry.Schedulers())
}

// handleScheduler serves GET/PATCH /schedulers/{id}.
func (a *API) handleScheduler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/schedulers/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		info, ok := a.registry.Scheduler(id)
		if !ok {
			http.Error(w, "scheduler not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, info)

	case http.MethodPatch:
		var patch struct {
			PopulateEnabled *bool `json:"populate_enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if patch.PopulateEnabled == nil {
			http.Error(w, "populate_enabled is required", http.StatusBadRequest)
			return
		}
		info, err := a.registry.SetPopulateEnabled(id, *patch.PopulateEnabled)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	queues := a.registry.Queues()
	summaries := make([]queueSummaryDTO, 0, len(queues))
	for _, q := range queues {
		summaries = append(summaries, queueSummary(q))
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleQueueSubroutes dispatches /queues/{id}, /queues/{id}/pop,
// /queues/{id}/push and /queues/{id}/stream.
func (a *API) handleQueueSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/queues/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	q, ok := a.registry.Queue(id)
	if !ok {
		http.Error(w, "queue not found", http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		a.handleQueueGet(w, r, q)
		return
	}

	switch parts[1] {
	case "pop":
		a.handleQueuePop(w, r, q)
	case "push":
		a.handleQueuePush(w, r, q)
	case "stream":
		a.handleQueueStream(w, r, q)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) handleQueueGet(w http.ResponseWriter, r *http.Request, q queue.Queue) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, queueSummary(q))
}

func (a *API) handleQueuePop(w http.ResponseWriter, r *http.Request, q queue.Queue) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	item, err := q.Pop()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

func (a *API) handleQueuePush(w http.ResponseWriter, r *http.Request, q queue.Queue) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	item, err := req.toItem()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := q.Push(item); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleQueueStream upgrades to a websocket and relays every Decision
// published for q (accepted pushes and successful pops; see
// observability.Decision) for as long as the client stays connected, a
// live feed on top of the plain REST endpoints above.
func (a *API) handleQueueStream(w http.ResponseWriter, r *http.Request, q queue.Queue) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("queue stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	decisions, unsubscribe := observability.Decisions.Subscribe()
	defer unsubscribe()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case d, ok := <-decisions:
			if !ok {
				return
			}
			if d.SchedulerID != q.SchedulerID() {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(d); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps a model.Error's Kind to the matching HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	var derr *model.Error
	if !errors.As(err, &derr) {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	switch derr.Kind {
	case model.KindQueueEmpty, model.KindQueueFull, model.KindInvalidItem, model.KindNotAllowed:
		http.Error(w, derr.Error(), http.StatusBadRequest)
	case model.KindNotFound:
		http.Error(w, derr.Error(), http.StatusNotFound)
	default:
		http.Error(w, derr.Error(), http.StatusInternalServerError)
	}
}
