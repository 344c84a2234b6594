package quic

import "github.com/quicwire/quic/transport"

// Handler reacts to per-connection events the run loop collects, the
// role client.go's clientHandler plays: Serve is called once per
// iteration of the run loop for every connection that produced new
// events (spec.md §4.7 step 6, "move connections with new data to the
// c_ready list").
type Handler interface {
	Serve(c Conn, events []transport.Event)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(c Conn, events []transport.Event)

func (f HandlerFunc) Serve(c Conn, events []transport.Event) { f(c, events) }
