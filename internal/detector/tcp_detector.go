package detector

import (
	"net"
	"strconv"
	"time"
)

// DefaultDialTimeout bounds a single TCP reachability attempt.
const DefaultDialTimeout = time.Second

// TCPDetector reports an endpoint alive when a TCP connection to Host:Port
// can be opened. The connection is closed immediately; nothing is sent.
type TCPDetector struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Addr returns the dial address.
func (d TCPDetector) Addr() string {
	host := d.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(d.Port))
}

// Alive never returns an error: a refused or timed-out dial only means
// "not yet".
func (d TCPDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", d.Addr(), timeout)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (d TCPDetector) Describe() string { return "tcp:" + d.Addr() }
