package console

import (
	"fmt"
	"net"
)

// AllocatePort picks the first free port in [from, to] that is neither in
// used nor currently bound on the host. Servers keep their console port
// across restarts, so used holds every port already assigned to a record.
func AllocatePort(from, to int, used map[int]bool) (int, error) {
	for port := from; port <= to; port++ {
		if used[port] {
			continue
		}
		if isPortAvailable(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free console port in range %d-%d", from, to)
}

func isPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
