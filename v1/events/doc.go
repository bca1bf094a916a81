// Package events propagates lock lifecycle notifications (acquired, released,
// cleaned) across nodes. The in-memory bus serves tests and single-process
// setups; Redis pub/sub and NATS back multi-node deployments, and the Kafka
// sink feeds an external audit pipeline. Delivery is best effort: the lock
// protocol never depends on an event arriving.
package events
