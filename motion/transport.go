package motion

import (
	"net"
	"time"

	"github.com/muurk/motionlan/protocol"
)

// DefaultTimeout bounds a single command exchange. Gateways answer unicast
// commands well within a second on a healthy network; five seconds leaves
// room for Wi-Fi retransmits without hanging interactive callers.
const DefaultTimeout = 5 * time.Second

// Transport performs one request/response datagram exchange with a gateway.
// Implementations send exactly one datagram and wait for exactly one reply;
// retry policy belongs to the caller.
type Transport interface {
	Exchange(addr string, request []byte, timeout time.Duration) ([]byte, error)
}

// UDPTransport is the production Transport. Each exchange opens a fresh
// connected UDP socket so replies from other hosts cannot be mistaken for
// the answer, and closes it when done.
type UDPTransport struct{}

// Exchange sends request to addr and returns the first reply datagram.
// Timeouts surface as ErrTimeout, delivery failures as ErrUnreachable.
func (UDPTransport) Exchange(addr string, request []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, classifyNetError("resolve "+addr, err)
	}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, classifyNetError("dial "+addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, classifyNetError("deadline", err)
	}
	if _, err := conn.Write(request); err != nil {
		return nil, classifyNetError("send to "+addr, err)
	}

	buf := make([]byte, protocol.MaxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, classifyNetError("receive from "+addr, err)
	}
	return buf[:n], nil
}
