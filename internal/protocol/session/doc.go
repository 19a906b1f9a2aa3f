// Package session owns the connect and flow-control policy shared by the
// dual-socket transport.
//
// Ownership boundary:
// - connect timeout / retry decision
// - retry backoff pacing
// - receive buffer and inbound ceiling sizing
//
// The transport package consumes these values; nothing here touches sockets.
package session
