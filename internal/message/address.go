package message

import (
	"fmt"
	"strings"
)

// UserOf extracts the user part of an address value such as
// "<sip:1001@localhost>;tag=abc" or "Alice <sip:alice@example.com>".
func UserOf(value string) (string, error) {
	before, _, ok := strings.Cut(value, "@")
	if !ok {
		return "", fmt.Errorf("%w: %q has no host part", ErrBadAddress, value)
	}
	_, user, ok := strings.Cut(before, ":")
	if !ok {
		return "", fmt.Errorf("%w: %q has no scheme", ErrBadAddress, value)
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return "", fmt.Errorf("%w: %q has an empty user", ErrBadAddress, value)
	}
	return user, nil
}

// User extracts the user from the named address-bearing header (From, To, Contact).
func (m *Message) User(name string) (string, error) {
	v, ok := m.Header(name)
	if !ok {
		return "", fmt.Errorf("%w: missing %s header", ErrBadAddress, name)
	}
	return UserOf(v)
}
