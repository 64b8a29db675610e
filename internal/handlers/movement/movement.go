package movement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/internal/dto"
	"github.com/nstepanov/bankline/internal/service/movementservice"
	"github.com/nstepanov/bankline/internal/service/otpservice"
	"github.com/nstepanov/bankline/pkg/auth"
	"github.com/nstepanov/bankline/pkg/utils"
	"github.com/nstepanov/bankline/pkg/validate"
)

type Service interface {
	Begin(ctx context.Context, userID int, req domain.MovementRequest) (*movementservice.FlowInfo, error)
	Confirm(ctx context.Context, userID int, flowID string) error
	Resend(ctx context.Context, userID int, flowID string) error
	VerifyAndCommit(ctx context.Context, userID int, flowID, code, pin string) (*domain.Receipt, error)
	Cancel(ctx context.Context, userID int, flowID string) error
}

type MovementHandler struct {
	movementService Service
}

func New(movementService Service) *MovementHandler {
	return &MovementHandler{
		movementService: movementService,
	}
}

// Begin godoc
//
//	@Summary		Start a money movement
//	@Description	Validate a movement request, resolve the recipient and check funds; returns a pending flow awaiting confirmation
//	@Tags			Movements
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		dto.MovementRequestDTO	true	"Movement request payload"
//	@Success		200		{object}	dto.MovementFlowResponseDTO
//	@Failure		400		{object}	utils.Response	"Validation error"
//	@Failure		402		{object}	utils.Response	"Insufficient funds"
//	@Failure		404		{object}	utils.Response	"Recipient not registered"
//	@Failure		409		{object}	utils.Response	"Withdrawal hold already active"
//	@Failure		500		{object}	utils.Response	"Internal server error"
//	@Router			/api/movements [post]
func (h *MovementHandler) Begin(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)

	var req dto.MovementRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amount, err := validate.ParseAmount(req.Amount)
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.movementService.Begin(r.Context(), userID, domain.MovementRequest{
		Type:         domain.MovementType(req.Type),
		Amount:       amount,
		Recipient:    req.Recipient,
		Counterparty: req.Counterparty,
		Description:  req.Description,
	})
	if err != nil {
		respondMovementError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dto.MovementFlowResponseDTO{
		FlowID:        info.FlowID,
		Type:          string(info.Type),
		Amount:        validate.FormatAmount(info.Amount),
		Fee:           validate.FormatAmount(info.Fee),
		Recipient:     info.Recipient,
		RecipientName: info.RecipientName,
	})
}

// Confirm godoc
//
//	@Summary		Confirm a pending movement
//	@Description	Explicit user confirmation; dispatches the one-time code to the phone on file
//	@Tags			Movements
//	@Security		BearerAuth
//	@Produce		json
//	@Param			flowID	path		string	true	"Flow identifier"
//	@Success		200		{object}	utils.Response
//	@Failure		404		{object}	utils.Response	"Flow not found"
//	@Failure		412		{object}	utils.Response	"No contact phone on file"
//	@Failure		423		{object}	dto.LockedResponseDTO	"Verification locked"
//	@Failure		502		{object}	utils.Response	"Code dispatch failed"
//	@Router			/api/movements/{flowID}/confirm [post]
func (h *MovementHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)
	flowID := chi.URLParam(r, "flowID")

	if err := h.movementService.Confirm(r.Context(), userID, flowID); err != nil {
		respondMovementError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.Response{Message: "code sent"})
}

// Resend godoc
//
//	@Summary		Resend the one-time code
//	@Tags			Movements
//	@Security		BearerAuth
//	@Produce		json
//	@Param			flowID	path		string	true	"Flow identifier"
//	@Success		200		{object}	utils.Response
//	@Failure		404		{object}	utils.Response	"Flow not found"
//	@Failure		423		{object}	dto.LockedResponseDTO	"Verification locked"
//	@Failure		429		{object}	utils.Response	"Resend cooldown active"
//	@Router			/api/movements/{flowID}/resend [post]
func (h *MovementHandler) Resend(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)
	flowID := chi.URLParam(r, "flowID")

	if err := h.movementService.Resend(r.Context(), userID, flowID); err != nil {
		respondMovementError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.Response{Message: "code sent"})
}

// Verify godoc
//
//	@Summary		Verify the code and commit the movement
//	@Description	Checks the entered one-time code (and withdrawal PIN where applicable) and performs the ledger mutation
//	@Tags			Movements
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			flowID	path		string				true	"Flow identifier"
//	@Param			request	body		dto.VerifyRequestDTO	true	"Verification payload"
//	@Success		200		{object}	dto.ReceiptResponseDTO
//	@Failure		400		{object}	utils.Response	"Invalid code"
//	@Failure		402		{object}	utils.Response	"Insufficient funds"
//	@Failure		403		{object}	utils.Response	"Invalid withdrawal PIN"
//	@Failure		404		{object}	utils.Response	"Flow not found"
//	@Failure		423		{object}	dto.LockedResponseDTO	"Verification locked"
//	@Failure		500		{object}	utils.Response	"Ledger write failed"
//	@Router			/api/movements/{flowID}/verify [post]
func (h *MovementHandler) Verify(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)
	flowID := chi.URLParam(r, "flowID")

	var req dto.VerifyRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	receipt, err := h.movementService.VerifyAndCommit(r.Context(), userID, flowID, req.Code, req.PIN)
	if err != nil {
		respondMovementError(w, err)
		return
	}

	resp := dto.ReceiptResponseDTO{
		Reference:    receipt.Reference,
		Type:         string(receipt.Type),
		Status:       string(receipt.Status),
		Amount:       validate.FormatAmount(receipt.Amount),
		Fee:          validate.FormatAmount(receipt.Fee),
		Counterparty: receipt.Counterparty,
		BalanceAfter: validate.FormatAmount(receipt.BalanceAfter),
		CreatedAt:    receipt.CreatedAt,
		Code:         receipt.Code,
	}
	if !receipt.ExpiresAt.IsZero() {
		expires := receipt.ExpiresAt
		resp.ExpiresAt = &expires
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// Cancel godoc
//
//	@Summary		Cancel a pending movement
//	@Description	Abandons the flow and discards all challenge state; the ledger is untouched
//	@Tags			Movements
//	@Security		BearerAuth
//	@Produce		json
//	@Param			flowID	path		string	true	"Flow identifier"
//	@Success		200		{object}	utils.Response
//	@Failure		404		{object}	utils.Response	"Flow not found"
//	@Router			/api/movements/{flowID}/cancel [post]
func (h *MovementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(auth.UserIDKey).(int)
	flowID := chi.URLParam(r, "flowID")

	if err := h.movementService.Cancel(r.Context(), userID, flowID); err != nil {
		respondMovementError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.Response{Message: "movement cancelled"})
}

func respondMovementError(w http.ResponseWriter, err error) {
	var validationErr *movementservice.ValidationError
	var locked *otpservice.LockedError

	switch {
	case errors.As(err, &validationErr):
		utils.RespondWithError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &locked):
		utils.RespondWithJSON(w, http.StatusLocked, dto.LockedResponseDTO{
			Message:          locked.Error(),
			RemainingSeconds: int(locked.Remaining.Seconds() + 0.5),
		})
	case errors.Is(err, movementservice.ErrFlowNotFound):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, movementservice.ErrUnregisteredRecipient):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		utils.RespondWithError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, movementservice.ErrHoldActive):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, movementservice.ErrNotConfirmed):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, movementservice.ErrNoContactOnFile):
		utils.RespondWithError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, movementservice.ErrOTPDispatchFailed):
		utils.RespondWithError(w, http.StatusBadGateway, movementservice.ErrOTPDispatchFailed.Error())
	case errors.Is(err, otpservice.ErrResendCooldown):
		utils.RespondWithError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, otpservice.ErrCodeMismatch), errors.Is(err, otpservice.ErrNoChallenge):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, movementservice.ErrPINMismatch):
		utils.RespondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, movementservice.ErrLedgerWrite):
		utils.RespondWithError(w, http.StatusInternalServerError, movementservice.ErrLedgerWrite.Error())
	default:
		utils.RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
