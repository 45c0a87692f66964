// Package gpulock serializes use of the single physical accelerator.
//
// A Lock admits one holder at a time within the process (waiters queue in
// arrival order) and, through its Backend, across every process sharing the
// lease. The default backend is a JSON lease file guarded by flock; leases
// carry an expiry and are renewed in the background, so a crashed holder
// cannot wedge the accelerator. Redis and in-memory backends follow the same
// contract. The flag backend reproduces the older non-expiring lock file.
//
// Acquire returns a Lease whose Release is idempotent; Guard wraps the
// acquire/release pair around a function.
package gpulock
