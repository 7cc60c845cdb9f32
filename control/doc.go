// Package control provides the kernel's runtime introspection layer:
// a dynamic metrics registry (the kernel publishes process count, ring
// depths and the CQ-overflow flag) and debug probes, both readable by
// cmd/nyxctl without reaching into Kernel internals, plus a standalone
// snapshot config store that the kernel does not read.
//
// Author: momentics <momentics@gmail.com>
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates
//   - Runtime observers for hot-reload
//   - Metrics telemetry contracts
//   - State export, debug hooks, and probe registration
package control
