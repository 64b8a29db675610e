package account

import (
	"context"
	"net/http"

	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/internal/dto"
	"github.com/nstepanov/bankline/pkg/auth"
	"github.com/nstepanov/bankline/pkg/utils"
	"github.com/nstepanov/bankline/pkg/validate"
)

type Service interface {
	GetAccount(ctx context.Context, userID int) (*domain.Account, error)
	History(ctx context.Context, userID int) ([]domain.Transaction, error)
}

type AccountHandler struct {
	movementService Service
}

func New(movementService Service) *AccountHandler {
	return &AccountHandler{
		movementService: movementService,
	}
}

// GetAccount godoc
//
//	@Summary		Get the current account
//	@Description	Retrieve the authenticated user's account number and balance
//	@Tags			Account
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	dto.AccountResponseDTO
//	@Failure		401	{object}	utils.Response	"User not authorized"
//	@Failure		500	{object}	utils.Response	"Internal server error"
//	@Router			/api/account [get]
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)

	account, err := h.movementService.GetAccount(r.Context(), userID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dto.AccountResponseDTO{
		Number:  account.Number,
		Balance: validate.FormatAmount(account.Balance),
	})
}

// GetTransactions godoc
//
//	@Summary		Get transaction history
//	@Description	Ledger entries for the authenticated user's account, newest first
//	@Tags			Account
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{array}		dto.TransactionResponseDTO
//	@Success		204	{object}	utils.Response	"No transactions"
//	@Failure		401	{object}	utils.Response	"User not authorized"
//	@Failure		500	{object}	utils.Response	"Internal server error"
//	@Router			/api/transactions [get]
func (h *AccountHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)

	txs, err := h.movementService.History(r.Context(), userID)
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to fetch transactions")
		return
	}

	if len(txs) == 0 {
		utils.RespondWithError(w, http.StatusNoContent, "No transactions found")
		return
	}

	response := make([]dto.TransactionResponseDTO, len(txs))
	for i, tx := range txs {
		response[i] = dto.TransactionResponseDTO{
			Reference:    tx.ID,
			Amount:       validate.FormatAmount(tx.Amount),
			Type:         string(tx.Type),
			Status:       string(tx.Status),
			Counterparty: tx.Counterparty,
			Description:  tx.Description,
			BalanceAfter: validate.FormatAmount(tx.BalanceAfter),
			CreatedAt:    tx.CreatedAt,
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, response)
}
