// Package packet defines the application protocol spoken inside websocket frames.
//
// Every packet is a one byte tag followed by the variant's payload. Integers are
// little-endian; strings and byte slices are prefixed with a u32 length.
//
// Variants:
//
//	0 Debug{Message}           client and server
//	1 RequestNewSession        client
//	2 NewSession{Token}        server
//	3 AttemptAuthSession{Token} client
//	4 AuthSuccessful{Token}    server
//	5 AuthFail                 server
//	6 RequestDownloadWorld     client
//	7 WorldState{Tick, Data}   server
//
// Each variant reports the direction it may travel in through ValidFromClient and
// ValidFromServer. The network loop drops inbound packets a client may not send
// and refuses to emit packets a server may not send.
//
// Usage:
//
//	raw := packet.Encode(packet.AttemptAuthSession{Token: 123})
//	p, err := packet.Decode(raw)
//	if err != nil {
//		var derr *packet.DecodeError
//		errors.As(err, &derr)
//	}
package packet
