package iogateway

import (
	"fmt"
	"net"
	"os"
)

// Listen binds to the first available port in [basePort, basePort+portRange]
// on host, the binding rule for server nodes. The returned port is the
// one actually bound, which matters when basePort is 0 and the OS picks
// an ephemeral port.
func Listen(host string, basePort, portRange int) (net.Listener, int, error) {
	for port := basePort; port <= basePort+portRange; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
		if err == nil {
			bound := port
			if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
				bound = tcp.Port
			}
			return ln, bound, nil
		}
	}
	return nil, 0, fmt.Errorf("iogateway: no free port in [%d, %d] on %s", basePort, basePort+portRange, host)
}

// DefaultLocalAddress picks the address a node advertises when none is
// configured: the first non-loopback interface address, falling back to
// the OS-reported host name, and finally to loopback.
func DefaultLocalAddress() string {
	ifaces, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range ifaces {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
				continue
			}
			return ipNet.IP.String()
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "127.0.0.1"
}
