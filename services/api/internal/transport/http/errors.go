package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/antonio12761/roxy-bar-sub005/services/api/internal/domain"
	"go.uber.org/zap"
)

const (
	codeMethodNotAllowed     = "method_not_allowed"
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeUnauthorized         = "unauthorized"
	codeForbidden            = "forbidden"
	codeInternalError        = "internal_error"
)

// Seconds a client should wait before resubmitting a retryable request.
const (
	retryAfterConflict    = 1
	retryAfterUnavailable = 5
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorResponse(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(resp)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error","retryable":false}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeDomainError maps a service error onto its status code and stable kind.
// Internal errors are logged and hidden from the client.
func writeDomainError(w http.ResponseWriter, err error, logger *zap.Logger) {
	kind := domain.Kind(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.Error("request failed", zap.Error(err))
		}
		writeError(w, status, codeInternalError, "internal error")
		return
	}

	retryable := domain.IsRetryable(err)
	if retryable {
		after := retryAfterConflict
		if status == http.StatusServiceUnavailable {
			after = retryAfterUnavailable
		}
		w.Header().Set("Retry-After", strconv.Itoa(after))
	}
	writeErrorResponse(w, status, errorResponse{
		Error:     err.Error(),
		Code:      kind,
		Retryable: retryable,
	})
}

func statusForKind(kind string) int {
	switch kind {
	case domain.KindOrderNotFound, domain.KindCreditNotFound, domain.KindLineNotFound:
		return http.StatusNotFound
	case domain.KindInvalidAmount, domain.KindInvalidPaymentMethod, domain.KindEmptyBatch,
		domain.KindInvalidID, domain.KindInvalidSplit:
		return http.StatusBadRequest
	case domain.KindInvalidLineSelection, domain.KindOverpaymentRejected:
		return http.StatusUnprocessableEntity
	case domain.KindAlreadySettled, domain.KindConcurrentModification:
		return http.StatusConflict
	case domain.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
