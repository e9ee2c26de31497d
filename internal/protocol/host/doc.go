// Package host drives the host end of the link protocol.
//
// A Device sends HostHello with the capabilities the device must accept,
// reads the DeviceHello reply into the capabilities the device offers, and
// acknowledges with HostAck. Status changes and disposal fan out through an
// event bus. Unlike the device session, a Device is safe for use from
// application goroutines while a transport loop drives Receive.
package host
