package pay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// ErrBadSignature is returned for webhook bodies that fail HMAC verification.
var ErrBadSignature = errors.New("pay: invalid callback signature")

// Callback is the webhook payload sent by the gateway.
type Callback struct {
	OrderID string `json:"order_id" validate:"required"`
	State   string `json:"state" validate:"required"`
}

// Paid reports whether the callback confirms the payment.
func (cb Callback) Paid() bool { return isPaid(cb.State) }

// Failed reports whether the gateway gave up on the order.
func (cb Callback) Failed() bool { return Status{RawState: cb.State}.Failed() }

// VerifyHMAC validates a hex encoded HMAC-SHA256 signature of body.
func VerifyHMAC(body []byte, signature, secret string) bool {
	sig, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(sig) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), sig)
}

// ParseCallback verifies the signature with the client secret and decodes the body.
func (c *Client) ParseCallback(body []byte, signature string) (Callback, error) {
	if !VerifyHMAC(body, signature, c.secret) {
		return Callback{}, ErrBadSignature
	}
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Callback{}, err
	}
	return cb, nil
}
