package devicemapper

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kenneth/blockcrypt/internal/target"
)

// Handler exposes a Registry's construction and control surface over
// HTTP: one struct owning its collaborator, registering routes onto
// a caller-supplied *mux.Router rather than constructing its own
// server, decoding/encoding JSON at the handler boundary and leaving
// everything below that boundary error-returning Go.
type Handler struct {
	registry *Registry
}

// NewHandler wraps registry for HTTP construction/status/control serving.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes registers every control-plane route onto r: target
// construction and the status/message/suspend/resume verbs.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/targets", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/targets", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/targets/{name}", h.handleRemove).Methods(http.MethodDelete)
	r.HandleFunc("/targets/{name}/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/targets/{name}/message", h.handleMessage).Methods(http.MethodPost)
	r.HandleFunc("/targets/{name}/suspend", h.handleSuspend).Methods(http.MethodPost)
	r.HandleFunc("/targets/{name}/resume", h.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/hardware", h.handleHardware).Methods(http.MethodGet)
	r.HandleFunc("/audit/events", h.handleAuditEvents).Methods(http.MethodGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"targets": h.registry.Names()})
}

// handleHardware reports AES hardware acceleration support.
func (h *Handler) handleHardware(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.HardwareInfo())
}

// handleAuditEvents returns the shared audit logger's recorded events,
// empty if audit logging is disabled.
func (h *Handler) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": h.registry.AuditEvents()})
}

// createRequest carries the five positional target-construction
// arguments, plus the name the target is filed under.
type createRequest struct {
	Name        string `json:"name"`
	CipherSpec  string `json:"cipher_spec"`
	KeyHex      string `json:"key_hex"`
	IVOffset    string `json:"iv_offset"`
	Device      string `json:"device"`
	StartSector string `json:"start_sector"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	_, err := h.registry.Create(CreateArgs{
		Name:        req.Name,
		CipherSpec:  req.CipherSpec,
		KeyHex:      req.KeyHex,
		IVOffset:    req.IVOffset,
		Device:      req.Device,
		StartSector: req.StartSector,
	})
	if err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"name": req.Name})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.registry.Remove(name); err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	status, err := h.registry.Status(name)
	if err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "status": status})
}

// messageRequest carries the "key set <hex>" / "key wipe" argument
// vector of the message interface.
type messageRequest struct {
	Args []string `json:"args"`
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	if err := h.registry.Message(name, req.Args); err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name})
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.registry.Suspend(name); err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "suspended": true})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.registry.Resume(name); err != nil {
		writeJSON(w, statusForError(err), map[string]interface{}{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "suspended": false})
}

// statusForError maps a control-plane error onto the HTTP status a
// device-mapper-style client expects: not-found targets are 404,
// "try again" (no key installed yet) is 409, and everything else
// (malformed arguments, construction failures) is 400.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExists):
		return http.StatusConflict
	case errors.Is(err, target.ErrAgain):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
