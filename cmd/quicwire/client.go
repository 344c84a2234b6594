package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/quicwire/quic/quic"
	"github.com/quicwire/quic/transport"
)

// clientCommand implements the `-i iface -q qlogfile -s ticket-cache
// -l tls-key-log -t idle-sec -c verify-certs -u enable-key-updates
// -3 h3-mode -z zero-len-scid -w write-response -r repetitions
// -n rebind -b num-bufs -v verbosity` surface spec.md §6 names, trimmed
// to the subset this module's quic package actually wires: connection,
// stream I/O, verbosity, and buffer-pool sizing.
func clientCommand(args []string) error {
	cmd := flag.NewFlagSet("client", flag.ExitOnError)
	listenAddr := cmd.String("listen", "0.0.0.0:0", "listen on the given IP:port")
	insecure := cmd.Bool("insecure", false, "skip verifying server certificate")
	data := cmd.String("data", "GET /\r\n", "sending data")
	numBufs := cmd.Int("b", quic.DefaultNumBufs, "receive-buffer pool size")
	verbosity := cmd.Int("v", 2, "log verbose: 0=off 1=error 2=info 3=debug 4=trace")
	cmd.Parse(args)

	addr := cmd.Arg(0)
	if addr == "" {
		fmt.Fprintln(cmd.Output(), "Usage: quicwire client [options] <address>")
		cmd.PrintDefaults()
		return nil
	}

	config := &quic.Config{
		TLS: &tls.Config{
			ServerName:         serverName(addr),
			InsecureSkipVerify: *insecure,
			NextProtos:         []string{"hq-interop"},
		},
		NumBufs: *numBufs,
	}
	handler := &clientHandler{data: *data}
	client := quic.NewClient(config)
	client.SetHandler(handler)
	client.SetLogger(*verbosity, os.Stdout)
	if err := client.ListenAndServe(*listenAddr); err != nil {
		return err
	}
	handler.wg.Add(1)
	if _, err := client.Connect(addr); err != nil {
		return err
	}
	handler.wg.Wait()
	return client.Close()
}

type clientHandler struct {
	wg   sync.WaitGroup
	data string
}

func (s *clientHandler) Serve(c quic.Conn, events []transport.Event) {
	for _, e := range events {
		log.Printf("%s connection event: %v", c.RemoteAddr(), e.Type)
		switch e.Type {
		case quic.EventConnAccept:
			st := c.Stream(0)
			_, _ = st.Write([]byte(s.data))
			_ = st.Close()
		case transport.EventStreamReadable:
			st := c.Stream(e.StreamID)
			buf := make([]byte, 512)
			n, err := st.Read(buf)
			if n > 0 {
				log.Printf("stream %d received:\n%s", e.StreamID, buf[:n])
			}
			_ = err
		case quic.EventConnClose:
			s.wg.Done()
		}
	}
}

func serverName(s string) string {
	colon := strings.LastIndex(s, ":")
	if colon > 0 {
		bracket := strings.LastIndex(s, "]")
		if colon > bracket {
			return s[:colon]
		}
	}
	return s
}
