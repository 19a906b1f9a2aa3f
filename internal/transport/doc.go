// Package transport implements the framed dual-socket TCP link to a remote
// target process.
//
// A Transport owns two TCP connections to the same endpoint: a command
// socket, dialed first and used for all outbound packets, and an event
// socket for server-pushed frames. Frames are [ticket][message_id][u16 BE
// length][payload]; see package frame.
//
// Callers drive it from one goroutine: BeginConnect, BeginSend, then wait on
// TransportEvent and call GetIncomingPackets / Exception after every signal.
// Faults never cross goroutines as panics or return values; they land in a
// first-write-wins exception slot. An empty packet in the inbound queue marks
// a remote disconnect and always follows every frame reassembled before it.
package transport
