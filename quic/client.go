package quic

// NewClient returns an Endpoint configured for originating connections,
// mirroring client.go's `quic.NewClient(config)` entry point. A client
// Endpoint still runs the same RX pipeline as a server one (spec.md §9:
// "client" and "server" differ only in who originates the handshake),
// so this is nothing more than a named constructor.
func NewClient(config *Config) *Endpoint {
	return NewEndpoint(config)
}
