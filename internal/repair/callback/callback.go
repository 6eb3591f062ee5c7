package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxLen is the messaging platform limit for button payloads.
const MaxLen = 64

// UI operations carried by buttons next to lifecycle events.
const (
	KindPricePrompt      = "price_prompt"
	KindFinalPricePrompt = "final_price_prompt"
	KindCodePrompt       = "code_prompt"
	KindCodeResend       = "code_resend"
	KindPayCheck         = "pay_check"
	KindPrepay           = "prepay"
	KindPrepayCheck      = "prepay_check"
	KindContact          = "contact"
	KindPhotosDone       = "photos_done"
	KindCategory         = "category"
)

// ErrMalformed is returned for payloads that cannot be decoded.
var ErrMalformed = errors.New("callback: malformed payload")

// Action is a decoded button payload: kind:request:version[:extra].
type Action struct {
	Kind      string
	RequestID int64
	Version   int
	Extra     string
}

// Encode renders the action as a button payload.
func Encode(a Action) string {
	out := a.Kind + ":" + strconv.FormatInt(a.RequestID, 10) + ":" + strconv.Itoa(a.Version)
	if a.Extra != "" {
		out += ":" + a.Extra
	}
	if len(out) > MaxLen {
		out = out[:MaxLen]
	}
	return out
}

// Decode parses a button payload.
func Decode(data string) (Action, error) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 4)
	if len(parts) < 3 || parts[0] == "" {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, data)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id < 0 {
		return Action{}, fmt.Errorf("%w: bad request id in %q", ErrMalformed, data)
	}
	version, err := strconv.Atoi(parts[2])
	if err != nil || version < 0 {
		return Action{}, fmt.Errorf("%w: bad version in %q", ErrMalformed, data)
	}
	a := Action{Kind: parts[0], RequestID: id, Version: version}
	if len(parts) == 4 {
		a.Extra = parts[3]
	}
	return a, nil
}

// ExtraInt parses Extra as an integer id.
func (a Action) ExtraInt() (int64, error) {
	return strconv.ParseInt(a.Extra, 10, 64)
}
