package quic

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/quicwire/quic/transport"
)

func testLogEvent() transport.LogEvent {
	return transport.LogEvent{
		Time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Type: "packet_sent",
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logger{level: levelError}
	l.setWriter(&buf)

	l.log(levelDebug, "should not appear")
	if buf.Len() != 0 {
		t.Fatalf("debug line logged at error level: %q", buf.String())
	}

	l.log(levelError, "boom %d", 7)
	if !strings.Contains(buf.String(), "boom 7") {
		t.Fatalf("error line missing from output: %q", buf.String())
	}
}

func TestLoggerNoWriterIsSilent(t *testing.T) {
	l := logger{level: levelTrace}
	l.log(levelTrace, "nobody is listening")
}

func TestFormatLogEventIncludesPrefixAndFields(t *testing.T) {
	line := formatLogEvent(testLogEvent(), "addr=1.2.3.4:5 cid=aabb group_id=g1")
	s := string(line)
	if !strings.Contains(s, "addr=1.2.3.4:5") || !strings.Contains(s, "group_id=g1") {
		t.Fatalf("formatted line missing prefix: %q", s)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Fatalf("formatted line must end in newline: %q", s)
	}
}
