// Package host is a Go embedding environment for the bridge.
//
// Host runs the loop the bridge expects from its embedder: drive until
// idle, deliver responses, start the operations the bridge asked for, wait
// for the next event. Timers use time.AfterFunc; sockets and peer requests
// use TCP connections owned by the host and addressed by socket handles.
// Work happens on service goroutines, but results are applied to the bridge
// only on the goroutine running Run.
package host
