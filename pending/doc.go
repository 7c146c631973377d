// Package pending tracks operations delegated to the host.
//
// A task that needs something only the host can do (fire a timer, read a
// socket, look up storage) calls Register, which returns a handle and queues
// a Request for the host. The task parks. When the host calls Resolve with
// that handle, the payload is staged in linear memory and the waiting task is
// woken through the Waker. On its next poll the task calls Take to consume the
// result exactly once.
//
// Handles are generational: once an operation is taken or abandoned its
// handle never addresses anything again, so late or duplicate resolutions
// from the host are detected and ignored instead of corrupting a newer
// operation.
package pending
