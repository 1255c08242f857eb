package cmd

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// validateAddr checks an override listen address before it replaces the
// configured one. Port 0 is allowed and means auto-assign.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be in host:port format: %w", err)
	}
	if strings.ContainsAny(host, " \t\r\n") {
		return fmt.Errorf("invalid host: %q", host)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("port must be a number between 0 and 65535, got %q", port)
	}
	return nil
}
