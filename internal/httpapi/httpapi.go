// Package httpapi exposes the Service Facade (internal/service) over a thin
// HTTP/JSON router plus a websocket upgrade endpoint for the client
// notification channel.
//
// Router wiring follows the original daemon's GraphQL server setup
// (cmd/server/main.go's chi/cors middleware stack), generalized off the
// GraphQL-specific parts this surface doesn't need.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/lacylights/lacylightsd/internal/lladerr"
	"github.com/lacylights/lacylightsd/internal/pubsub"
	"github.com/lacylights/lacylightsd/internal/service"
	"github.com/lacylights/lacylightsd/internal/universe"
)

// Config configures the HTTP surface.
type Config struct {
	CORSOrigin string
	Debug      bool
}

// NewRouter builds the chi router mapping the service facade's five
// operations onto HTTP/JSON, plus a websocket endpoint fed by ps.
func NewRouter(svc *service.Service, ps *pubsub.PubSub, cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		Debug:            cfg.Debug,
	})
	r.Use(corsMiddleware.Handler)

	h := &handler{svc: svc, ps: ps}

	r.Get("/health", h.handleHealth)
	r.Get("/ws", h.handleWebsocket)
	r.Route("/api/v1/universes/{net}/{num}", func(r chi.Router) {
		r.Get("/dmx", h.handleGetDmx)
		r.Put("/dmx", h.handleUpdateDmx)
		r.Post("/register", h.handleRegister)
		r.Put("/name", h.handleSetName)
		r.Put("/merge-mode", h.handleSetMergeMode)
	})

	return r
}

type handler struct {
	svc *service.Service
	ps  *pubsub.PubSub
}

func universeIDFromRequest(r *http.Request) (universe.ID, error) {
	netVal, err := strconv.Atoi(chi.URLParam(r, "net"))
	if err != nil {
		return universe.ID{}, errors.New("invalid net path segment")
	}
	numVal, err := strconv.Atoi(chi.URLParam(r, "num"))
	if err != nil {
		return universe.ID{}, errors.New("invalid num path segment")
	}
	return universe.ID{Net: uint8(netVal), Num: uint16(numVal)}, nil
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleGetDmx(w http.ResponseWriter, r *http.Request) {
	id, err := universeIDFromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	data, err := h.svc.GetDmx(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

type registerRequest struct {
	ClientID string `json:"client_id"`
	Action   string `json:"action"`
}

func (h *handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, err := universeIDFromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body")
		return
	}

	var action service.RegisterAction
	switch req.Action {
	case "REGISTER":
		action = service.Register
	case "UNREGISTER":
		action = service.Unregister
	default:
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "action must be REGISTER or UNREGISTER")
		return
	}

	if err := h.svc.RegisterForDmx(id, req.ClientID, action); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateDmxRequest struct {
	ClientID string `json:"client_id"`
	Data     []byte `json:"data"`
}

func (h *handler) handleUpdateDmx(w http.ResponseWriter, r *http.Request) {
	id, err := universeIDFromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req updateDmxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body")
		return
	}
	if err := h.svc.UpdateDmxData(id, req.ClientID, req.Data); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setNameRequest struct {
	Name string `json:"name"`
}

func (h *handler) handleSetName(w http.ResponseWriter, r *http.Request) {
	id, err := universeIDFromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req setNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body")
		return
	}
	if err := h.svc.SetUniverseName(id, req.Name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type setMergeModeRequest struct {
	Mode string `json:"mode"`
}

func (h *handler) handleSetMergeMode(w http.ResponseWriter, r *http.Request) {
	id, err := universeIDFromRequest(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var req setMergeModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body")
		return
	}

	var mode universe.MergeMode
	switch req.Mode {
	case "HTP":
		mode = universe.HTP
	case "LTP":
		mode = universe.LTP
	default:
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "mode must be HTP or LTP")
		return
	}

	if err := h.svc.SetMergeMode(id, mode); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebsocket upgrades the connection and streams every DMX output
// change for the universe named by the "universe" query param ("net.num").
func (h *handler) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("universe")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := h.ps.Subscribe(pubsub.TopicDMXOutput, filter, 16)
	defer h.ps.Unsubscribe(sub)

	for msg := range sub.Channel {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeServiceError maps an internal/lladerr sentinel to its string code
// and an appropriate HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	var lerr *lladerr.Error
	if !errors.As(err, &lerr) {
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch lerr.Category {
	case lladerr.NotFound:
		status = http.StatusNotFound
	case lladerr.Conflict:
		status = http.StatusConflict
	case lladerr.Invalid:
		status = http.StatusBadRequest
	case lladerr.Transient:
		status = http.StatusServiceUnavailable
	case lladerr.Fatal:
		status = http.StatusInternalServerError
	}
	writeJSONError(w, status, lerr.Code, lerr.Error())
}
