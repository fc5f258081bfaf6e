package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/linemk/market-checkout/internal/domain/models"
	"github.com/linemk/market-checkout/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/market-checkout/internal/service"
	"github.com/linemk/market-checkout/internal/storage"
)

// CheckoutResponse - ответ шага оформления.
// Redirect непуст, когда покупателя нужно отправить на 3-D Secure.
type CheckoutResponse struct {
	Order     *models.Order `json:"order"`
	Redirect  string        `json:"redirect,omitempty"`
	Completed bool          `json:"completed"`
}

// CheckoutHandler обрабатывает PUT /api/checkout/{orderID}
func CheckoutHandler(log *slog.Logger, checkout service.CheckoutService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CheckoutHandler"
		logger := log.With(slog.String("op", op))

		userID, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("userID not found in context")
			writeError(logger, w, http.StatusUnauthorized, "unauthorized")
			return
		}
		orderID, ok := idParam(r, "orderID")
		if !ok {
			writeError(logger, w, http.StatusBadRequest, "invalid order id")
			return
		}

		var attrs service.CheckoutAttributes
		if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(logger, w, http.StatusBadRequest, "invalid request")
			return
		}

		res, err := checkout.Update(r.Context(), userID, orderID, &attrs, service.PaymentContext{IP: clientIP(r)})
		if err != nil {
			writeCheckoutError(logger, w, err)
			return
		}
		writeCheckoutResult(logger, w, r, res)
	}
}

// ThreeDSCallbackHandler обрабатывает POST /api/checkout/{orderID}/3ds.
// Запрос приходит из браузера покупателя формой провайдера, поэтому без JWT.
func ThreeDSCallbackHandler(log *slog.Logger, checkout service.CheckoutService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.ThreeDSCallbackHandler"
		logger := log.With(slog.String("op", op))

		orderID, ok := idParam(r, "orderID")
		if !ok {
			writeError(logger, w, http.StatusBadRequest, "invalid order id")
			return
		}
		if err := r.ParseForm(); err != nil {
			logger.Error("invalid request: form error", slog.Any("error", err))
			writeError(logger, w, http.StatusBadRequest, "invalid request")
			return
		}

		cb := service.ThreeDSCallback{
			Status:           r.PostForm.Get("status"),
			PaymentID:        r.PostForm.Get("paymentId"),
			ConversationID:   r.PostForm.Get("conversationId"),
			ConversationData: r.PostForm.Get("conversationData"),
			MDStatus:         r.PostForm.Get("mdStatus"),
		}
		logger = logger.With(slog.Int64("orderID", orderID), slog.String("status", cb.Status))

		res, err := checkout.CompleteThreeDS(r.Context(), orderID, cb, service.PaymentContext{IP: clientIP(r)})
		if err != nil {
			writeCheckoutError(logger, w, err)
			return
		}
		writeCheckoutResult(logger, w, r, res)
	}
}

func writeCheckoutResult(logger *slog.Logger, w http.ResponseWriter, r *http.Request, res *service.CheckoutResult) {
	if res.Redirect != "" && wantsHTML(r) {
		// форма провайдера сама отправляет браузер в банк
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(res.Redirect)); err != nil {
			logger.Error("failed to write redirect", slog.Any("error", err))
		}
		return
	}
	writeJSON(logger, w, http.StatusOK, CheckoutResponse{
		Order:     res.Order,
		Redirect:  res.Redirect,
		Completed: res.Completed,
	})
}

func writeCheckoutError(logger *slog.Logger, w http.ResponseWriter, err error) {
	var (
		verr *service.ValidationError
		cerr *service.CheckoutError
		perr *service.ProtocolError
	)
	switch {
	case errors.As(err, &verr):
		logger.Info("checkout validation failed", slog.Any("fields", verr.Fields))
		writeJSON(logger, w, http.StatusUnprocessableEntity, ErrorResponse{Errors: verr.Fields})
	case errors.As(err, &cerr):
		logger.Info("checkout failed", slog.Any("error", err))
		writeJSON(logger, w, http.StatusBadRequest, ErrorResponse{Errors: cerr.Messages, Flash: cerr.Flash})
	case errors.Is(err, service.ErrOrderCompleted):
		writeError(logger, w, http.StatusConflict, "order is already completed")
	case errors.Is(err, storage.ErrOrderLocked):
		writeError(logger, w, http.StatusConflict, "order is being processed")
	case errors.Is(err, service.ErrForbidden):
		writeError(logger, w, http.StatusForbidden, "forbidden")
	case errors.Is(err, storage.ErrOrderNotFound):
		writeError(logger, w, http.StatusNotFound, "order not found")
	case errors.Is(err, service.ErrCheckoutNotAllowed):
		writeError(logger, w, http.StatusUnprocessableEntity, "order is not ready for checkout")
	case errors.As(err, &perr):
		logger.Error("unexpected provider payload", slog.Any("error", err))
		writeError(logger, w, http.StatusBadGateway, service.MsgPaymentProcessingFailed)
	default:
		logger.Error("checkout error", slog.Any("error", err))
		writeError(logger, w, http.StatusInternalServerError, "internal server error")
	}
}
