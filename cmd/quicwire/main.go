// Command quicwire is the CLI surface spec.md §6 describes as external
// to the transport core: a thin driver over the quic package exercising
// Connect/ListenAndServe against a real UDP socket.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "client":
		err = clientCommand(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: quicwire client [options] <address>")
}
