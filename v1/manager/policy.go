package manager

import "time"

// Policy is the per-resource TTL and retry budget.
type Policy struct {
	TTL        time.Duration
	MaxRetries int
}

// DefaultPolicies returns the tunable per-resource defaults: short TTL and a
// generous retry budget where contention is routine (inventory), long TTL for
// multi-step work (order processing), a single attempt for payment.
func DefaultPolicies() map[Resource]Policy {
	return map[Resource]Policy{
		Cart:      {TTL: 10 * time.Second, MaxRetries: 3},
		Inventory: {TTL: 5 * time.Second, MaxRetries: 5},
		Order:     {TTL: 60 * time.Second, MaxRetries: 2},
		Payment:   {TTL: 30 * time.Second, MaxRetries: 1},
		Coupon:    {TTL: 10 * time.Second, MaxRetries: 3},
	}
}
