// Package session owns the device side of the link protocol.
//
// Ownership boundary:
// - handshake state machine (HostHello -> DeviceHello -> HostAck)
// - capability registration and negotiation entry point
// - inbound packet routing to data/error handler tables
// - typed send helpers and the disconnect hook
//
// A Session is driven from exactly one receive loop. Receive and Unavailable
// run to completion, including handler invocation and any reply, before the
// next packet is accepted; nothing in the package blocks or locks.
package session
