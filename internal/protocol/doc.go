// Package protocol owns the packet-level wire contract shared by the device
// session and the host driver.
//
// Ownership boundary:
// - packet types and reserved error codes
// - codec primitives (codec/)
// - stream framing (frame/)
// - code-keyed dispatch (dispatch/)
// - capability negotiation (capability/)
// - device session and host driver (session/, host/)
package protocol
