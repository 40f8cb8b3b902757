package wsrelay

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

// MDNSServiceName, MDNSServiceType and MDNSDomain mirror
// nedpals-davi-nfc-agent/server/server.go's startMDNS constants,
// renamed for this system's own service.
const (
	MDNSServiceName = "ASCII Pay NFC Terminal"
	MDNSServiceType = "_ascii-pay-terminal._tcp"
	MDNSDomain      = "local."
)

// registerMDNS advertises the relay's listen port over mDNS so a backend on
// the local network can auto-discover it, the same role
// server/server.go's startMDNS plays for the teacher's own websocket
// server. A registration failure is logged and otherwise ignored: mDNS
// discovery is a convenience, not a condition of the relay working at all.
func registerMDNS(listenAddr string, logger *log.Logger) (*zeroconf.Server, error) {
	port, err := portOf(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("wsrelay: mdns: %w", err)
	}

	txt := []string{"protocol=websocket", "path=/"}
	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("wsrelay: mdns register: %w", err)
	}
	logger.Printf("[wsrelay] mDNS service registered: %s on port %d", MDNSServiceName, port)
	return server, nil
}

func portOf(addr string) (int, error) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return 0, fmt.Errorf("listen address %q has no port", addr)
	}
	return strconv.Atoi(addr[i+1:])
}
