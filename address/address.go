// Package address implements the JAUS subsystem.node.component identity
// used to address every message that crosses the bridge.
package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedAddress is returned when a string does not parse as a
// subsystem.node.component triple of bytes.
var ErrMalformedAddress = errors.New("malformed JAUS address")

// Address is the 3-tuple identity (subsystem, node, component) used
// throughout the JAUS wire format and the JSON bridge format alike.
type Address struct {
	Subsystem byte
	Node      byte
	Component byte
}

// Zero is the sentinel address meaning "connection-management message, not
// application traffic".
var Zero = Address{}

// Parse splits s on '.' and expects exactly three decimal components, each
// in [0,255]. It fails with ErrMalformedAddress otherwise.
func Parse(s string) (Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("%w: %q: expected 3 dot-separated components, got %d", ErrMalformedAddress, s, len(parts))
	}
	var vals [3]byte
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return Address{}, fmt.Errorf("%w: %q: component %d (%q) not in [0,255]", ErrMalformedAddress, s, i, p)
		}
		vals[i] = byte(n)
	}
	return Address{Subsystem: vals[0], Node: vals[1], Component: vals[2]}, nil
}

// String returns the dot-separated decimal form, the inverse of Parse.
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Subsystem, a.Node, a.Component)
}

// IsZero reports whether all three components are zero.
func (a Address) IsZero() bool {
	return a == Zero
}

// MarshalJSON renders the address in its dotted string form, so Address can
// be embedded directly in the JSON bridge format (jausIdSrc/jausIdDst).
func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

// UnmarshalJSON parses the dotted string form produced by MarshalJSON.
func (a *Address) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedAddress, err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
