package config

// DefaultPort is appended to server addresses given without a port.
const DefaultPort = ":8080"

// withDefaultPort returns addr with DefaultPort appended unless it already
// names a port. Bracketed IPv6 literals are only scanned after the bracket.
func withDefaultPort(addr string) string {
	if addr == "" {
		return addr
	}
LOOP:
	for i := len(addr) - 1; i >= 0; i-- {
		switch addr[i] {
		case ']':
			break LOOP
		case ':':
			return addr
		}
	}
	return addr + DefaultPort
}
