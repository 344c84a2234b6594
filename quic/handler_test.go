package quic

import (
	"testing"

	"github.com/quicwire/quic/transport"
)

func TestHandlerFuncAdaptsPlainFunction(t *testing.T) {
	var got []transport.Event
	var h Handler = HandlerFunc(func(c Conn, events []transport.Event) {
		got = events
	})
	want := []transport.Event{acceptEvent()}
	h.Serve(nil, want)
	if len(got) != 1 || got[0].Type != EventConnAccept {
		t.Fatalf("HandlerFunc did not forward events, got %v", got)
	}
}

func TestAcceptAndCloseEventsAreDistinct(t *testing.T) {
	if acceptEvent().Type == closeEvent().Type {
		t.Fatal("EventConnAccept and EventConnClose must not collide")
	}
}
