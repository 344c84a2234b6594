package quic

import "github.com/google/uuid"

// newQlogGroupID mints a fresh qlog "group_id" for one connection's
// trace (https://quiclog.github.io/internet-drafts/draft-ietf-quic-qlog-main-schema.html#name-group-ids),
// SPEC_FULL.md §B: every LogEvent line a connection emits is stamped
// with this value so a trace collector can group a connection's events
// even when several connections share one writer.
func newQlogGroupID() string {
	return uuid.New().String()
}
