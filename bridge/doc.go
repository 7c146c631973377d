// Package bridge assembles the executor, the pending-operation table, the
// JSON-RPC multiplexer and the light client into the surface a host drives.
//
// A host runs this loop:
//
//	b := bridge.New(cfg)
//	b.Ingest(`{"jsonrpc":"2.0","id":1,"method":"chain_getHeader","params":[]}`)
//	for {
//		b.RunUntilIdle()
//		for resp := range b.DrainResponses() {
//			deliver(resp)
//		}
//		for _, req := range b.HostRequests() {
//			start(req) // later: b.Resolve(req.Handle, payload, err)
//		}
//		waitForHostEvent()
//	}
package bridge
