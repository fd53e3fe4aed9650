package motion

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
)

// multicastSocket is the receive socket shared by the listener and by
// discovery: bound to the report port with SO_REUSEADDR so several clients
// on one host can watch the same gateways, and joined to the report group
// on the chosen interface. Probes are sent from this socket so that unicast
// replies land back on it.
type multicastSocket struct {
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
	group net.IP
	ifi   *net.Interface
}

// openMulticast binds port and joins group on ifi (nil selects the system
// default interface). A non-multicast group address skips the join and the
// socket behaves as plain bound UDP, which is how loopback tests run
// without touching the real network.
func openMulticast(group string, port int, ifi *net.Interface) (*multicastSocket, error) {
	ip := net.ParseIP(group)
	if ip == nil {
		return nil, fmt.Errorf("%w: multicast group %q", ErrInvalidArgument, group)
	}

	lc := net.ListenConfig{Control: reuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, classifyNetError("bind report port", err)
	}
	conn := pc.(*net.UDPConn)

	s := &multicastSocket{conn: conn, group: ip, ifi: ifi}
	if ip.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		if err := p.JoinGroup(ifi, &net.UDPAddr{IP: ip}); err != nil {
			conn.Close()
			return nil, classifyNetError("join group "+group, err)
		}
		// Loopback stays on so a simulator on this host is visible.
		if err := p.SetMulticastLoopback(true); err != nil {
			conn.Close()
			return nil, classifyNetError("set multicast loopback", err)
		}
		s.pconn = p
	}
	return s, nil
}

// reuseAddr sets SO_REUSEADDR before bind. The report port is a well-known
// constant, so without it a second client on the host could never start.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func (s *multicastSocket) read(buf []byte) (int, *net.UDPAddr, error) {
	return s.conn.ReadFromUDP(buf)
}

func (s *multicastSocket) setReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// sendTo writes one datagram from the bound socket, so the source port the
// peer sees is the report port and its reply is routed back here.
func (s *multicastSocket) sendTo(addr *net.UDPAddr, payload []byte) error {
	_, err := s.conn.WriteToUDP(payload, addr)
	return err
}

func (s *multicastSocket) close() error {
	if s.pconn != nil {
		s.pconn.LeaveGroup(s.ifi, &net.UDPAddr{IP: s.group})
	}
	return s.conn.Close()
}
