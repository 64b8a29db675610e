package withdrawal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/internal/dto"
	"github.com/nstepanov/bankline/internal/service/holdservice"
	"github.com/nstepanov/bankline/pkg/auth"
	"github.com/nstepanov/bankline/pkg/utils"
	"github.com/nstepanov/bankline/pkg/validate"
)

type Service interface {
	Active(ctx context.Context, userID int) (*domain.WithdrawalHold, error)
	Claim(ctx context.Context, userID int) (*domain.Transaction, error)
	Cancel(ctx context.Context, userID int) error
}

type WithdrawalHandler struct {
	holdService Service
}

func New(holdService Service) *WithdrawalHandler {
	return &WithdrawalHandler{
		holdService: holdService,
	}
}

// GetHold godoc
//
//	@Summary		Get the active withdrawal hold
//	@Description	The live hold with remaining seconds computed from the persisted expiry timestamp
//	@Tags			Withdrawal
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	dto.HoldResponseDTO
//	@Success		204	{object}	utils.Response	"No active hold"
//	@Failure		401	{object}	utils.Response	"User not authorized"
//	@Failure		500	{object}	utils.Response	"Internal server error"
//	@Router			/api/withdrawal [get]
func (h *WithdrawalHandler) GetHold(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)

	hold, err := h.holdService.Active(r.Context(), userID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if hold == nil {
		utils.RespondWithError(w, http.StatusNoContent, "No active hold")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dto.HoldResponseDTO{
		Reference:        hold.TransactionID,
		Code:             hold.Code,
		Amount:           validate.FormatAmount(hold.Amount),
		ExpiresAt:        hold.ExpiresAt,
		RemainingSeconds: int(time.Until(hold.ExpiresAt).Seconds()),
	})
}

// Claim godoc
//
//	@Summary		Claim the active withdrawal hold
//	@Description	Performs the deferred deduction and completes the pending entry
//	@Tags			Withdrawal
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	dto.ReceiptResponseDTO
//	@Failure		401	{object}	utils.Response	"User not authorized"
//	@Failure		402	{object}	utils.Response	"Insufficient funds"
//	@Failure		404	{object}	utils.Response	"No active hold"
//	@Failure		410	{object}	utils.Response	"Hold expired"
//	@Failure		500	{object}	utils.Response	"Internal server error"
//	@Router			/api/withdrawal/claim [post]
func (h *WithdrawalHandler) Claim(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)

	entry, err := h.holdService.Claim(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, holdservice.ErrNoActiveHold):
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, holdservice.ErrHoldExpired):
			utils.RespondWithError(w, http.StatusGone, err.Error())
		case errors.Is(err, domain.ErrInsufficientFunds):
			utils.RespondWithError(w, http.StatusPaymentRequired, err.Error())
		default:
			utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	amount := entry.Amount
	if amount < 0 {
		amount = -amount
	}
	utils.RespondWithJSON(w, http.StatusOK, dto.ReceiptResponseDTO{
		Reference:    entry.ID,
		Type:         string(entry.Type),
		Status:       string(entry.Status),
		Amount:       validate.FormatAmount(amount),
		Counterparty: entry.Counterparty,
		BalanceAfter: validate.FormatAmount(entry.BalanceAfter),
		CreatedAt:    entry.CreatedAt,
	})
}

// Cancel godoc
//
//	@Summary		Cancel the active withdrawal hold
//	@Description	Marks the pending entry Cancelled; no balance change
//	@Tags			Withdrawal
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	utils.Response
//	@Failure		401	{object}	utils.Response	"User not authorized"
//	@Failure		404	{object}	utils.Response	"No active hold"
//	@Failure		500	{object}	utils.Response	"Internal server error"
//	@Router			/api/withdrawal/cancel [post]
func (h *WithdrawalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)

	if err := h.holdService.Cancel(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, holdservice.ErrNoActiveHold):
			utils.RespondWithError(w, http.StatusNotFound, err.Error())
		default:
			utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.Response{Message: "withdrawal cancelled"})
}
