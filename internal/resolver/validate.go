package resolver

import (
	"net"
	"strings"
)

// isIPLiteral reports whether name parses as an IPv4 or IPv6 address.
func isIPLiteral(name string) bool {
	return net.ParseIP(name) != nil
}

// validateName enforces §4.8: non-empty, 1-63 char labels of
// [A-Za-z0-9_-], no leading/trailing hyphen per label, total length <= 253.
func validateName(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	labels := strings.Split(strings.TrimSuffix(name, "."), ".")
	for _, label := range labels {
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
