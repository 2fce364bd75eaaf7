package cmd

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// parseServeAddr resolves the listen address for serve mode. A leading
// positional argument overrides defaultAddr, and an -addr/--addr flag
// overrides both:
//
//	ragchat serve :8080
//	ragchat serve --addr :8080
//	ragchat serve -addr=:8080
//
// defaultAddr comes from configuration.
func parseServeAddr(args []string, defaultAddr string) (string, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	addr := fs.String("addr", defaultAddr, "listen address (host:port)")

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		*addr = args[0]
		args = args[1:]
	}

	if err := fs.Parse(args); err != nil {
		return "", fmt.Errorf("parsing serve flags: %w", err)
	}
	if err := validateAddr(*addr); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", *addr, err)
	}
	return *addr, nil
}

// validateAddr checks the host:port shape eagerly so a bad address fails
// the command instead of surfacing later as a bind error.
func validateAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("must be in host:port format: %w", err)
	}
	if strings.ContainsAny(host, " \t\n") {
		return fmt.Errorf("invalid host: %s", host)
	}
	if port == "" {
		return errors.New("port is required")
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be numeric: %w", err)
	}
	if n < 0 || n > 65535 {
		return fmt.Errorf("port must be 0-65535 (0 = auto-assign), got %d", n)
	}
	return nil
}
