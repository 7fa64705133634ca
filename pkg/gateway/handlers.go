package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/meeplemeet/go-catalog/pkg/bgg"
	"github.com/rs/zerolog"
)

// errorEnvelope is the JSON error body for every non-200 response.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler exposes the gateway over HTTP.
type Handler struct {
	gateway *Gateway
	logger  zerolog.Logger
}

// NewHandler creates the HTTP handler for a Gateway.
func NewHandler(gateway *Gateway, logger zerolog.Logger) *Handler {
	return &Handler{
		gateway: gateway,
		logger:  logger.With().Str("component", "HTTPHandler").Logger(),
	}
}

// Register mounts the catalog routes on the given router.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/items", h.getItems).Methods(http.MethodGet)
	router.HandleFunc("/search", h.search).Methods(http.MethodGet)
}

// getItems handles GET /items?ids=<comma-separated ids>.
func (h *Handler) getItems(w http.ResponseWriter, r *http.Request) {
	rawIDs := r.URL.Query().Get("ids")
	if strings.TrimSpace(rawIDs) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "ids query parameter is required")
		return
	}

	items, err := h.gateway.GetItems(r.Context(), strings.Split(rawIDs, ","))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, items)
}

// search handles GET /search?query=<string>&maxResults=<int>&ignoreCase=<"true"|other>.
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if strings.TrimSpace(query) == "" {
		h.writeError(w, http.StatusBadRequest, "validation_error", "query parameter is required")
		return
	}

	maxResults := 0
	if raw := r.URL.Query().Get("maxResults"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			maxResults = parsed
		}
	}
	ignoreCase := r.URL.Query().Get("ignoreCase") == "true"

	candidates, err := h.gateway.Search(r.Context(), query, maxResults, ignoreCase)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, candidates)
}

// writeFailure maps a gateway error to its HTTP status and envelope.
func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, bgg.ErrUpstream):
		h.writeError(w, http.StatusBadGateway, "upstream_error", "the catalog provider could not be reached")
	default:
		h.logger.Error().Err(err).Msg("Unexpected failure handling request.")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response body.")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorEnvelope{Error: code, Message: message}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode error body.")
	}
}
