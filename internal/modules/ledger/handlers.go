package ledger

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mapleledger/mapleledger/internal/domain"
)

// Handler handles ledger HTTP requests.
type Handler struct {
	service *Service
	log     zerolog.Logger
}

// NewHandler creates a new ledger handler.
func NewHandler(service *Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleCreateTransaction handles POST /transactions. The response carries
// the recorded event merged with its freshly computed outputs.
func (h *Handler) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		h.writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}

	result, err := h.service.Create(r.Context(), tx)
	if err != nil {
		h.logFailure(err, "Failed to create transaction")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// HandleListTransactions handles GET /transactions with optional accountId
// and securityId filters. Results are in canonical replay order.
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	securityID := r.URL.Query().Get("securityId")

	txs, err := h.service.List(r.Context(), accountID, securityID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list transactions")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// HandleGetTransaction handles GET /transactions/{id}.
func (h *Handler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// HandleUpdateTransaction handles PUT /transactions/{id} with a partial
// body; omitted fields keep their stored values.
func (h *Handler) HandleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch domain.TransactionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}

	result, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		h.logFailure(err, "Failed to update transaction")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleDeleteTransaction handles DELETE /transactions/{id}.
func (h *Handler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.logFailure(err, "Failed to delete transaction")
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePositions handles GET /positions with an optional accountId filter.
func (h *Handler) HandlePositions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")

	positions, err := h.service.Positions(r.Context(), accountID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute positions")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, positions)
}

// logFailure logs rejected writes at debug and real failures at error.
// Validation and legality rejections are normal traffic, not incidents.
func (h *Handler) logFailure(err error, msg string) {
	switch domain.KindOf(err) {
	case domain.ErrValidation, domain.ErrLegality, domain.ErrDuplicate, domain.ErrNotFound:
		h.log.Debug().Err(err).Msg(msg)
	default:
		h.log.Error().Err(err).Msg(msg)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, domain.HTTPStatus(err), map[string]string{"error": err.Error()})
}
