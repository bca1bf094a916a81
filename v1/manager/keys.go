package manager

// Resource tags the closed set of business resource kinds a lock can
// protect. The manager, not its callers, owns the mapping from a resource
// and identifier to the canonical key string: two callers that mean the same
// cart always collide here, on purpose.
type Resource int

const (
	Cart Resource = iota
	Inventory
	Order
	Payment
	Coupon
)

// String returns the resource name used in key prefixes.
func (r Resource) String() string {
	switch r {
	case Cart:
		return "cart"
	case Inventory:
		return "inventory"
	case Order:
		return "order"
	case Payment:
		return "payment"
	case Coupon:
		return "coupon"
	}
	return "unknown"
}

// Key returns the canonical lock key for a resource instance.
func Key(r Resource, id string) string {
	switch r {
	case Cart:
		return "cart:user:" + id
	case Inventory:
		return "inventory:product:" + id
	case Order:
		return "order:process:" + id
	case Payment:
		return "payment:process:" + id
	case Coupon:
		return "coupon:redeem:" + id
	}
	return "unknown:" + id
}
