// Package engine is the light-client side of the bridge.
//
// LightClient implements rpc.Engine. Every method is an executor task written
// as an explicit state machine: a task that needs the network, a timer or
// storage registers a pending operation, returns Park, and picks the result
// up with Take when the host has resolved it. Timeouts are ordinary timer
// operations raced against the request they guard.
//
// Methods:
//
//	rpc_methods                      list of supported methods
//	system_name, system_version      static node information
//	system_chain, system_health      chain name and peer status
//	system_addReservedPeer [addr]    socket handshake, then adds the peer
//	chain_getHeader [hash?]          header from cache or a peer
//	chain_getBlockHash [number?]     block hash from cache or a peer
//	state_getStorage [key]           storage lookup through the host
//	chain_subscribeNewHeads          new best headers, polled from peers
//	chain_subscribeFinalizedHeads    headers once they are final
//
// Peers speak line-delimited JSON-RPC; the host carries each network-request
// operation to one peer and resolves it with the peer's result member.
package engine
