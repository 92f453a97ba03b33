// ABOUTME: Package documentation for the capability registry.
// ABOUTME: Explains namespacing, the published snapshot, and health-driven exclusion.

// Package registry aggregates tool metadata from all registered adapters
// into one flat, collision-free namespace.
//
// # Namespacing
//
// Every tool name is prefixed with its owning adapter's ID
// ("<adapterID>_<toolName>"). A collision that survives namespacing is a
// configuration error and is reported at registration time, never swallowed.
//
// # Publishing
//
// The merged descriptor set is an immutable snapshot swapped through an
// atomic pointer. Many concurrent gateway requests read it; only Register,
// Deregister, and Refresh write it. Readers never block on a slow refresh.
//
// # Health
//
// The Monitor probes each adapter on a fixed interval. After three
// consecutive failures an adapter is marked degraded and its descriptors
// are removed from the published set; the handle is retained so a later
// successful probe restores it.
package registry
