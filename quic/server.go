package quic

// NewServer returns an Endpoint configured to accept inbound
// connections (the RX-driven half of spec.md §4.7's "connect"/"accept"
// pair). Its Connect method remains usable for outbound connections
// the same process originates (e.g. a server dialing upstream).
func NewServer(config *Config) *Endpoint {
	return NewEndpoint(config)
}
