// Package handlers holds the HTTP handlers of the analytics API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvoronkov/ledgerlens/internal/api/middleware"
	"github.com/dvoronkov/ledgerlens/internal/ingest"
)

// TransactionsHandler handles transaction ingestion endpoints.
type TransactionsHandler struct {
	svc *ingest.Service
	log zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(svc *ingest.Service, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{svc: svc, log: log}
}

// Ingest handles POST /api/transactions/ingest
func (h *TransactionsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transactions        []ingest.RawRecord `json:"transactions"`
		ExcludeDebtAccounts bool               `json:"exclude_debt_accounts"`
		SkipEmbedding       bool               `json:"skip_embedding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.svc.Ingest(r.Context(), req.Transactions, ingest.Options{
		ExcludeDebtAccounts: req.ExcludeDebtAccounts,
		SkipEmbedding:       req.SkipEmbedding,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidBatch) {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to ingest batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to ingest batch")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, res)
}
