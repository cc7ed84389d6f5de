package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/agents"
	"github.com/eldtechnologies/chatrelay/internal/apperr"
	"github.com/eldtechnologies/chatrelay/internal/bus"
	"github.com/eldtechnologies/chatrelay/internal/store"
	"github.com/eldtechnologies/chatrelay/internal/validation"
)

// ChannelBroadcaster pushes events to live connections.
type ChannelBroadcaster interface {
	BroadcastToChannel(channelID uuid.UUID, event string, data any) int
	SessionCount() int
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store     store.DataStore
	redis     *store.RedisStore
	registry  *agents.Registry
	gateway   ChannelBroadcaster
	bus       *bus.Bus
	validator *validation.Validator
	logger    zerolog.Logger
	started   time.Time
}

// Deps groups the collaborators of Handler.
type Deps struct {
	Store     store.DataStore
	Redis     *store.RedisStore // optional
	Registry  *agents.Registry
	Gateway   ChannelBroadcaster
	Bus       *bus.Bus
	Validator *validation.Validator
	Logger    zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:     d.Store,
		redis:     d.Redis,
		registry:  d.Registry,
		gateway:   d.Gateway,
		bus:       d.Bus,
		validator: d.Validator,
		logger:    d.Logger.With().Str("component", "http").Logger(),
		started:   time.Now(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a classified error to its status. Internal causes are logged
// and never sent to the caller.
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	h.Error(w, apperr.HTTPStatus(err), apperr.Public(err))
}

// pathID validates a UUID route parameter. It writes the error response and
// returns false when the parameter is malformed.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, ok := h.validator.ValidateID(chi.URLParam(r, param), param, r.RemoteAddr)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid "+param+" format")
	}
	return id, ok
}

// decode reads a JSON body into v.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	// Limit to 100 characters
	if len(name) > 100 {
		name = name[:100]
	}

	return name
}
