package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mapleledger/mapleledger/internal/domain"
)

// Handler handles catalog HTTP requests.
type Handler struct {
	securities *SecurityRepository
	accounts   *AccountRepository
	log        zerolog.Logger
}

// NewHandler creates a new catalog handler.
func NewHandler(securities *SecurityRepository, accounts *AccountRepository, log zerolog.Logger) *Handler {
	return &Handler{
		securities: securities,
		accounts:   accounts,
		log:        log.With().Str("handler", "catalog").Logger(),
	}
}

// HandleCreateSecurity handles POST /securities.
func (h *Handler) HandleCreateSecurity(w http.ResponseWriter, r *http.Request) {
	var sec domain.Security
	if err := json.NewDecoder(r.Body).Decode(&sec); err != nil {
		h.writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}
	if sec.Symbol == "" {
		h.writeError(w, domain.Validationf("symbol is required"))
		return
	}
	if sec.Currency != domain.CAD && sec.Currency != domain.USD {
		h.writeError(w, domain.Validationf("currency must be CAD or USD"))
		return
	}

	if err := h.securities.Create(r.Context(), &sec); err != nil {
		h.log.Error().Err(err).Msg("Failed to create security")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sec)
}

// HandleListSecurities handles GET /securities.
func (h *Handler) HandleListSecurities(w http.ResponseWriter, r *http.Request) {
	secs, err := h.securities.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list securities")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, secs)
}

// HandleDeleteSecurity handles DELETE /securities/{id}.
func (h *Handler) HandleDeleteSecurity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.securities.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateAccount handles POST /accounts.
func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var acc domain.Account
	if err := json.NewDecoder(r.Body).Decode(&acc); err != nil {
		h.writeError(w, domain.Validationf("invalid request body: %v", err))
		return
	}
	if acc.Name == "" {
		h.writeError(w, domain.Validationf("name is required"))
		return
	}

	if err := h.accounts.Create(r.Context(), &acc); err != nil {
		h.log.Error().Err(err).Msg("Failed to create account")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, acc)
}

// HandleListAccounts handles GET /accounts.
func (h *Handler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accs, err := h.accounts.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list accounts")
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accs)
}

// HandleDeleteAccount handles DELETE /accounts/{id}.
func (h *Handler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.accounts.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, domain.HTTPStatus(err), map[string]string{"error": err.Error()})
}
