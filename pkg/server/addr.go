package server

import (
	"net"
	"os"
	"strconv"
)

// Elevated reports whether the process runs with root privileges. On platforms
// without user IDs it reports false.
func Elevated() bool {
	return os.Geteuid() == 0
}

// BindHost picks the interface to listen on: every interface for a privileged
// process, loopback only otherwise.
func BindHost(elevated bool) string {
	if elevated {
		return ""
	}
	return "127.0.0.1"
}

// listenAddress builds the host:port the acceptor binds to.
func listenAddress(cfg Config, elevated bool) string {
	host := cfg.Host
	if host == "" {
		host = BindHost(elevated)
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}
