package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
)

// PortInUseError is returned by Start when the listen address is taken
type PortInUseError struct {
	Address string
	Err     error
}

func (e *PortInUseError) Error() string {
	return "listen address " + e.Address + " is already in use"
}

func (e *PortInUseError) Unwrap() error { return e.Err }

func listen(addr string) (net.Listener, error) {
	if err := checkListenAddress(addr); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	switch {
	case err == nil:
		return ln, nil
	case addrInUse(err):
		return nil, &PortInUseError{Address: addr, Err: err}
	default:
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
}

// addrInUse matches EADDRINUSE and the Windows WSAEADDRINUSE message, which
// syscall has no constant for
func addrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "only one usage of each socket address")
}

// checkListenAddress requires an explicit host:port with port in range
func checkListenAddress(addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid listen port %q", portStr)
	}
	return nil
}
