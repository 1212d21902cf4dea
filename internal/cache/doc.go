// Package cache stores remote inference results keyed by analysis kind and
// content digest.
//
// Two Store implementations are provided:
//   - MemoryStore: a bounded, TTL-evicting in-process store (the default)
//   - RedisStore: a shared store for several jscryptoscan processes, using
//     Redis key expiry for the TTL
//
// Design decision: The store is an explicit value injected into the
// inference orchestrator, never package-level state. Tests construct
// their own stores with fake clocks, and batch runs share one store
// across targets.
package cache
