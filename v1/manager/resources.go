package manager

import (
	"context"
	"fmt"
)

func (m *Manager) policy(r Resource) Policy {
	if p, ok := m.policies[r]; ok {
		return p
	}
	return Policy{TTL: DefaultPolicies()[Cart].TTL, MaxRetries: 1}
}

// CartOp runs fn under the cart lock for the given user, with the cart
// policy applied.
func (m *Manager) CartOp(ctx context.Context, userID string, fn func(context.Context) error) (bool, error) {
	p := m.policy(Cart)
	return m.Do(ctx, Key(Cart, userID), p.TTL, p.MaxRetries, fn)
}

// InventoryOp runs fn under the inventory lock for the given product.
func (m *Manager) InventoryOp(ctx context.Context, productID string, fn func(context.Context) error) (bool, error) {
	p := m.policy(Inventory)
	return m.Do(ctx, Key(Inventory, productID), p.TTL, p.MaxRetries, fn)
}

// OrderOp runs fn under the order-processing lock. Strict: skipping an order
// silently would be wrong, so a missed lock is ErrNotAcquired.
func (m *Manager) OrderOp(ctx context.Context, orderID string, fn func(context.Context) error) error {
	p := m.policy(Order)
	return m.DoOrFail(ctx, Key(Order, orderID), p.TTL, p.MaxRetries, fn)
}

// PaymentOp runs fn under the payment-processing lock. Strict, and the
// payment policy keeps the retry budget minimal.
func (m *Manager) PaymentOp(ctx context.Context, paymentID string, fn func(context.Context) error) error {
	p := m.policy(Payment)
	return m.DoOrFail(ctx, Key(Payment, paymentID), p.TTL, p.MaxRetries, fn)
}

// CouponOp runs fn under the coupon-redemption lock for the given code.
func (m *Manager) CouponOp(ctx context.Context, code string, fn func(context.Context) error) (bool, error) {
	p := m.policy(Coupon)
	return m.Do(ctx, Key(Coupon, code), p.TTL, p.MaxRetries, fn)
}

// CheckoutOp runs fn while holding the user's cart lock plus one inventory
// lock per distinct product, acquired in deterministic order through
// DoMulti. Strict: checkout must not be skipped silently.
func (m *Manager) CheckoutOp(ctx context.Context, userID string, productIDs []string, fn func(context.Context) error) error {
	keys := make([]string, 0, len(productIDs)+1)
	keys = append(keys, Key(Cart, userID))
	for _, id := range productIDs {
		keys = append(keys, Key(Inventory, id))
	}
	p := m.policy(Order)
	ran, err := m.DoMulti(ctx, keys, p.TTL, p.MaxRetries, fn)
	if !ran {
		if err != nil {
			return fmt.Errorf("%w: checkout %s: %v", ErrNotAcquired, userID, err)
		}
		return fmt.Errorf("%w: checkout %s", ErrNotAcquired, userID)
	}
	return err
}
