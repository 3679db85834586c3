package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/creditd/internal/billing/domain"
	"github.com/felixgeelhaar/creditd/internal/shared/infrastructure/database"
)

// CreditsHandler serves read-only balance and ledger queries.
type CreditsHandler struct {
	users  domain.UserRepository
	ledger domain.LedgerRepository
	logger *slog.Logger
}

// NewCreditsHandler creates the credits query handler.
func NewCreditsHandler(users domain.UserRepository, ledger domain.LedgerRepository, logger *slog.Logger) *CreditsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditsHandler{users: users, ledger: ledger, logger: logger}
}

type balanceResponse struct {
	UserID  string `json:"user_id"`
	Credits int64  `json:"credits"`
}

// GetBalance handles GET /api/v1/users/{userID}/credits
func (h *CreditsHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		if database.IsNoRows(err) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("balance lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		UserID:  user.ID.String(),
		Credits: user.Credits,
	})
}

type ledgerEntryResponse struct {
	ID              string `json:"id"`
	Delta           int64  `json:"delta"`
	PreviousCredits int64  `json:"previous_credits"`
	NewCredits      int64  `json:"new_credits"`
	Reason          string `json:"reason"`
	ReasonDetail    string `json:"reason_detail,omitempty"`
	SourceEventID   string `json:"source_event_id,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type ledgerResponse struct {
	UserID  string                `json:"user_id"`
	Entries []ledgerEntryResponse `json:"entries"`
	Sum     int64                 `json:"sum"`
}

// GetLedger handles GET /api/v1/users/{userID}/ledger
func (h *CreditsHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	entries, err := h.ledger.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("ledger lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	sum, err := h.ledger.SumDeltas(r.Context(), userID)
	if err != nil {
		h.logger.Error("ledger sum failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := ledgerResponse{
		UserID:  userID.String(),
		Entries: make([]ledgerEntryResponse, 0, len(entries)),
		Sum:     sum,
	}
	for _, entry := range entries {
		item := ledgerEntryResponse{
			ID:              entry.ID.String(),
			Delta:           entry.Delta,
			PreviousCredits: entry.PreviousCredits,
			NewCredits:      entry.NewCredits,
			Reason:          string(entry.Reason),
			ReasonDetail:    entry.ReasonDetail,
			CreatedAt:       entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if entry.SourceEventID != nil {
			item.SourceEventID = *entry.SourceEventID
		}
		resp.Entries = append(resp.Entries, item)
	}
	writeJSON(w, http.StatusOK, resp)
}
