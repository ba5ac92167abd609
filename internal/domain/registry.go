package domain

import "iter"

// Registry maps tool names to descriptors. Safe for unlimited concurrent
// lookups with writer-exclusive registration; a lookup never observes a
// partially constructed descriptor.
type Registry interface {
	// Register inserts or atomically replaces the descriptor for a name.
	Register(reg ToolRegistration) (ToolDescriptor, error)
	// Unregister removes a name; no-op when absent.
	Unregister(name string)
	// Lookup returns the descriptor for a name.
	Lookup(name string) (ToolDescriptor, bool)
	// List yields descriptors as of call time. The sequence is restartable
	// and unaffected by later mutations.
	List() iter.Seq[ToolDescriptor]
	// Len returns the number of registered tools.
	Len() int
}
