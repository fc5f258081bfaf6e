package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/linemk/market-checkout/internal/service"
	"github.com/linemk/market-checkout/internal/storage"
)

// SubmerchantErrorPrefix - префикс сообщения админу при отказе провайдера
const SubmerchantErrorPrefix = "Alt üye işyeri kaydederken hata: "

// RegisterSubmerchantHandler обрабатывает POST /api/admin/vendors/{vendorID}/submerchant
func RegisterSubmerchantHandler(log *slog.Logger, registry service.SubmerchantRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RegisterSubmerchantHandler"
		logger := log.With(slog.String("op", op))

		vendorID, ok := idParam(r, "vendorID")
		if !ok {
			writeError(logger, w, http.StatusBadRequest, "invalid vendor id")
			return
		}

		var req service.RegistrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(logger, w, http.StatusBadRequest, "invalid request")
			return
		}

		account, err := registry.Register(r.Context(), vendorID, req)
		if err != nil {
			writeSubmerchantError(logger, w, err)
			return
		}
		writeJSON(logger, w, http.StatusCreated, account)
	}
}

// GetSubmerchantHandler обрабатывает GET /api/admin/vendors/{vendorID}/submerchant?including_deleted=true
func GetSubmerchantHandler(log *slog.Logger, registry service.SubmerchantRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetSubmerchantHandler"
		logger := log.With(slog.String("op", op))

		vendorID, ok := idParam(r, "vendorID")
		if !ok {
			writeError(logger, w, http.StatusBadRequest, "invalid vendor id")
			return
		}
		includingDeleted, _ := strconv.ParseBool(r.URL.Query().Get("including_deleted"))

		account, err := registry.Lookup(r.Context(), vendorID, includingDeleted)
		if err != nil {
			writeSubmerchantError(logger, w, err)
			return
		}
		writeJSON(logger, w, http.StatusOK, account)
	}
}

// DeleteSubmerchantHandler обрабатывает DELETE /api/admin/vendors/{vendorID}/submerchant
func DeleteSubmerchantHandler(log *slog.Logger, registry service.SubmerchantRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.DeleteSubmerchantHandler"
		logger := log.With(slog.String("op", op))

		vendorID, ok := idParam(r, "vendorID")
		if !ok {
			writeError(logger, w, http.StatusBadRequest, "invalid vendor id")
			return
		}

		if err := registry.Delete(r.Context(), vendorID); err != nil {
			writeSubmerchantError(logger, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeSubmerchantError(logger *slog.Logger, w http.ResponseWriter, err error) {
	var (
		verr *service.ValidationError
		gerr *service.GatewayError
		perr *service.ProtocolError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(logger, w, http.StatusUnprocessableEntity, ErrorResponse{Errors: verr.Fields})
	case errors.As(err, &gerr):
		writeError(logger, w, http.StatusBadRequest, SubmerchantErrorPrefix+gerr.Error())
	case errors.As(err, &perr):
		logger.Error("unexpected provider payload", slog.Any("error", err))
		writeError(logger, w, http.StatusBadGateway, SubmerchantErrorPrefix+"unexpected provider response")
	case errors.Is(err, storage.ErrVendorNotFound):
		writeError(logger, w, http.StatusNotFound, "vendor not found")
	case errors.Is(err, storage.ErrSubmerchantNotFound):
		writeError(logger, w, http.StatusNotFound, "submerchant account not found")
	default:
		logger.Error("submerchant error", slog.Any("error", err))
		writeError(logger, w, http.StatusInternalServerError, "internal server error")
	}
}
