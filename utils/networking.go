package utils

import (
	"fmt"
	"net"
)

// GetOutboundIp returns the address of the interface external traffic leaves
// through. Dialing UDP resolves the route without sending any packet.
func GetOutboundIp() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, fmt.Errorf("cannot determine the outbound address: %v", err)
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
