//go:build linux

package quic

import (
	"fmt"
	"net"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxSocket batches UDP receive with recvmmsg(2), SPEC_FULL.md §B's
// golang.org/x/sys/unix wiring for the run loop's step 3 (spec.md
// §4.7, "receive a batch from the socket"): one syscall fills many
// packetBufs instead of one ReadFrom call per datagram. ECN markings
// (IP_TOS / IPV6_TCLASS ancillary data) are decoded from the control
// message so Recovery's ECN bookkeeping (spec.md §4.4's ect0/ect1/ce
// counters) has real data to feed on Linux, falling back to "not
// marked" everywhere else.
type linuxSocket struct {
	udp *udpSocket
	fd  int
}

func listenLinuxUDP(addr string) (*linuxSocket, error) {
	u, err := listenUDP(addr)
	if err != nil {
		return nil, err
	}
	raw, err := u.conn.SyscallConn()
	if err != nil {
		u.Close()
		return nil, err
	}
	var fd int
	rawErr := raw.Control(func(sysfd uintptr) {
		fd = int(sysfd)
		// Ask the kernel to attach the ECN codepoint to every
		// received datagram's ancillary data.
		unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_RECVTOS, 1)
		unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVTCLASS, 1)
	})
	if rawErr != nil {
		u.Close()
		return nil, rawErr
	}
	return &linuxSocket{udp: u, fd: fd}, nil
}

// ReadBatch fills up to len(bufs) packetBufs with one recvmmsg(2) call.
// Each Mmsghdr's iovec points directly at a packetBuf.data, so the
// kernel writes straight into the pool's own backing arrays — no extra
// copy between the syscall and the run loop's RX pipeline.
func (s *linuxSocket) ReadBatch(bufs []*packetBuf, timeout time.Duration) (int, error) {
	if len(bufs) == 0 {
		return 0, nil
	}
	hdrs := make([]unix.Mmsghdr, len(bufs))
	iovs := make([]unix.Iovec, len(bufs))
	names := make([]unix.RawSockaddrInet6, len(bufs))
	control := make([][]byte, len(bufs))

	for i, b := range bufs {
		iovs[i].Base = &b.data[0]
		iovs[i].SetLen(len(b.data))
		control[i] = make([]byte, 64)
		hdrs[i].Hdr.Iov = &iovs[i]
		hdrs[i].Hdr.Iovlen = 1
		hdrs[i].Hdr.Name = (*byte)(unsafe.Pointer(&names[i]))
		hdrs[i].Hdr.Namelen = uint32(unix.SizeofSockaddrInet6)
		hdrs[i].Hdr.Control = &control[i][0]
		hdrs[i].Hdr.SetControllen(len(control[i]))
	}

	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	n, err := unix.Recvmmsg(s.fd, hdrs, 0, &ts)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("recvmmsg: %w", err)
	}
	for i := 0; i < n; i++ {
		bufs[i].n = int(hdrs[i].Len)
		bufs[i].addr = sockaddrToAddr(&names[i])
		bufs[i].ect0, bufs[i].ect1, bufs[i].ce = readECN(control[i][:int(hdrs[i].Hdr.Controllen)])
	}
	return n, nil
}

func (s *linuxSocket) WriteTo(b []byte, addr net.Addr) (int, error) {
	return s.udp.WriteTo(b, addr)
}

func (s *linuxSocket) LocalAddr() net.Addr { return s.udp.LocalAddr() }
func (s *linuxSocket) Close() error        { return s.udp.Close() }

func sockaddrToAddr(sa *unix.RawSockaddrInet6) net.Addr {
	switch sa.Family {
	case unix.AF_INET6:
		ip := make(net.IP, 16)
		copy(ip, sa.Addr[:])
		port := int(sa.Port>>8) | int(sa.Port&0xff)<<8
		return &net.UDPAddr{IP: ip, Port: port}
	default:
		in4 := (*unix.RawSockaddrInet4)(unsafe.Pointer(sa))
		ip := make(net.IP, 4)
		copy(ip, in4.Addr[:])
		port := int(in4.Port>>8) | int(in4.Port&0xff)<<8
		return &net.UDPAddr{IP: ip, Port: port}
	}
}

// readECN extracts the ECN codepoint (bits 0-1 of the TOS/TCLASS byte)
// from recvmmsg's control message, spec.md §4.4's ect0/ect1/ce inputs.
func readECN(control []byte) (ect0, ect1, ce bool) {
	msgs, err := unix.ParseSocketControlMessage(control)
	if err != nil {
		return false, false, false
	}
	for _, m := range msgs {
		if len(m.Data) == 0 {
			continue
		}
		switch m.Data[0] & 0x03 {
		case 1:
			ect1 = true
		case 2:
			ect0 = true
		case 3:
			ce = true
		}
	}
	return
}

var _ = syscall.AF_INET // keep syscall imported for platform constants parity

// newPlatformSocket prefers the recvmmsg-batched socket on Linux,
// falling back to the portable implementation when listenLinuxUDP
// returns an error. listenLinuxUDP ignores failures of the ECN
// ancillary-data setsockopt calls, so those never cause the fallback.
func newPlatformSocket(addr string) (socket, error) {
	s, err := listenLinuxUDP(addr)
	if err != nil {
		return listenUDP(addr)
	}
	return s, nil
}
