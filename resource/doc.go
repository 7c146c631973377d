// Package resource provides generational handle tables.
//
// A handle is an integer that can be passed across the sandbox boundary and
// later presented back to look up the value it was issued for. The bridge
// uses it for in-flight host operations: the host only ever sees handles.
//
// # Handle Table
//
// The Table maps handles to Go values:
//
//	table := resource.NewTable[*Operation]()
//
//	// Insert a value, get a handle
//	handle := table.Insert(op)
//
//	// Retrieve value by handle
//	op, ok := table.Get(handle)
//
//	// Remove and get value
//	op, ok := table.Remove(handle)
//
// # Generations
//
// Slots are reused, but every reuse bumps the slot generation, which is part
// of the handle. A handle therefore stays unique for the lifetime of the
// table, and Status tells a handle that was dropped (StatusStale) apart from
// one that was never issued (StatusUnknown):
//
//	h := table.Insert(op)
//	table.Remove(h)
//	table.Status(h) // StatusStale
//	table.Status(resource.Handle(999)) // StatusUnknown
//
// # Observers
//
// Register observers to track lifecycle events:
//
//	table.Subscribe(resource.ObserverFunc[*Operation](func(e resource.Event[*Operation]) {
//	    if e.Type == resource.EventDropped {
//	        log.Printf("entry %s dropped", e.Handle)
//	    }
//	}))
//
// Tables are not safe for concurrent use.
package resource
