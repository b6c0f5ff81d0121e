//go:build !linux && !windows

package util

import "net"

// ReuseAddrListenConfig is a no-op on platforms without a SO_REUSEADDR shim.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
