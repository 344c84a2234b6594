package quic

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quicwire/quic/transport"
)

type logLevel int

// Log levels, matching the CLI surface's `-v` flag (spec.md §6).
const (
	levelOff logLevel = iota
	levelError
	levelInfo
	levelDebug
	levelTrace
)

// logger logs endpoint- and connection-level activity to a single
// io.Writer, SPEC_FULL.md §A.1: the core only emits typed LogEvent
// values over a callback; this is the sink that renders them as text.
type logger struct {
	level  logLevel
	mu     sync.Mutex
	writer io.Writer
}

func (s *logger) setWriter(w io.Writer) {
	s.mu.Lock()
	s.writer = w
	s.mu.Unlock()
}

func (s *logger) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return len(b), nil
	}
	return s.writer.Write(b)
}

func (s *logger) log(level logLevel, format string, values ...interface{}) {
	if s.level < level || s.writer == nil {
		return
	}
	b := bytes.Buffer{}
	b.WriteString(time.Now().Format(time.RFC3339))
	b.WriteString(" ")
	fmt.Fprintf(&b, format, values...)
	b.WriteString("\n")
	s.Write(b.Bytes())
}

// attachLogger wires a connection's qlog-shaped LogEvent stream
// (transport.Conn.OnLogEvent) into this sink, tagged with the
// connection's qlog group_id (quic/qlog.go) and remote address.
func (s *logger) attachLogger(c *remoteConn) {
	if s.level < levelDebug || s.writer == nil {
		c.conn.OnLogEvent(nil)
		return
	}
	tl := transactionLogger{
		writer: s,
		prefix: fmt.Sprintf("addr=%s cid=%x group_id=%s", c.addr, c.scid, c.groupID),
	}
	c.conn.OnLogEvent(tl.logEvent)
}

func (s *logger) detachLogger(c *remoteConn) {
	c.conn.OnLogEvent(nil)
}

type transactionLogger struct {
	writer io.Writer
	prefix string
}

func (s *transactionLogger) logEvent(e transport.LogEvent) {
	s.writer.Write(formatLogEvent(e, s.prefix))
}

func formatLogEvent(e transport.LogEvent, prefix string) []byte {
	b := bytes.Buffer{}
	b.WriteString(e.Time.Format(time.RFC3339))
	b.WriteString("   ")
	b.WriteString(e.Type)
	if prefix != "" {
		b.WriteString(" ")
		b.WriteString(prefix)
	}
	for _, f := range e.Fields {
		b.WriteString(" ")
		b.WriteString(f.String())
	}
	b.WriteString("\n")
	return b.Bytes()
}
