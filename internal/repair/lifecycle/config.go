package lifecycle

import (
	"time"

	"repairBack/internal/repair/pricing"
)

// Config aggregates behavioural parameters of the request lifecycle.
type Config struct {
	// MaxCodeAttempts is how many wrong confirmation codes are tolerated
	// before the code is revoked and an admin is asked to step in.
	MaxCodeAttempts int
	// DenyLimit is the number of receipt denials after which the request
	// is rejected instead of being sent to admin review.
	DenyLimit int
	// Tariff computes the delivery cost from the repair price.
	Tariff pricing.Tariff
	// ButtonPolicies throttles repeated user actions that hit external services.
	ButtonPolicies map[Action]ButtonPolicy
}

// ButtonPolicy configures how often a specific action can be triggered.
type ButtonPolicy struct {
	// Cooldown enforces a minimal duration between two presses.
	Cooldown time.Duration
	// MaxPresses limits button presses within the TTL window. Zero means no limit.
	MaxPresses int
	// TTL defines the time window for MaxPresses accounting. Zero disables TTL logic.
	TTL time.Duration
}

// Action identifies a throttled user action.
type Action string

const (
	ActionResendCode   Action = "code_resend"
	ActionCheckPayment Action = "pay_check"
	ActionPrepay       Action = "prepay"
)

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxCodeAttempts: 5,
		DenyLimit:       2,
		Tariff:          pricing.DefaultTariff(),
		ButtonPolicies: map[Action]ButtonPolicy{
			ActionResendCode:   {Cooldown: 30 * time.Second, MaxPresses: 3, TTL: 10 * time.Minute},
			ActionCheckPayment: {Cooldown: 5 * time.Second},
			ActionPrepay:       {Cooldown: 10 * time.Second},
		},
	}
}
