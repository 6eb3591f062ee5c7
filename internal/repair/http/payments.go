package http

import (
	"errors"
	"io"
	"net/http"

	"repairBack/internal/repair/lifecycle"
	"repairBack/internal/repair/pay"
)

const maxCallbackBody = 64 << 10

func (s *Server) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		writeError(w, http.StatusServiceUnavailable, "payments are not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}
	cb, err := s.payments.ParseCallback(body, r.Header.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, pay.ErrBadSignature) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(cb); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	if err := s.flow.PaymentCallback(ctx, cb); err != nil {
		switch lifecycle.Classify(err) {
		case lifecycle.KindNotFound:
			writeError(w, http.StatusNotFound, "unknown order")
		case lifecycle.KindIllegal:
			// The order is settled differently already; the gateway must stop retrying.
			s.logger.Infof("repair: payment callback for %s ignored: %v", cb.OrderID, err)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		default:
			s.logger.Errorf("repair: payment callback for %s failed: %v", cb.OrderID, err)
			writeError(w, statusFor(err), "callback not applied")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
