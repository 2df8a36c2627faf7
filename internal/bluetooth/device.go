package bluetooth

import (
	"strings"
	"time"
)

// Advertisement is one peripheral as heard during a discovery pass.
type Advertisement struct {
	Address   string
	Name      string
	RSSI      int16
	Payload   []byte
	CompanyID uint16 // first manufacturer data element, zero if none
	SeenAt    time.Time
}

// DisplayName returns the declared name, a manufacturer label, or "[unnamed]".
func (a Advertisement) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if mfr := LookupManufacturer(a.CompanyID); mfr != "" && len(a.Address) >= 17 {
		return mfr + " " + a.Address[12:] // last 2 octets e.g. "EE:FF"
	}
	return "[unnamed]"
}

// Filter selects advertisements.
type Filter func(Advertisement) bool

// Any matches every advertisement.
func Any() Filter {
	return func(Advertisement) bool { return true }
}

// ByName matches the declared local name exactly.
func ByName(name string) Filter {
	return func(a Advertisement) bool { return a.Name == name }
}

// ByAddress matches the device address, ignoring case.
func ByAddress(address string) Filter {
	return func(a Advertisement) bool { return strings.EqualFold(a.Address, address) }
}

// ByTarget prefers the address when set, the name otherwise.
func ByTarget(name, address string) Filter {
	if address != "" {
		return ByAddress(address)
	}
	return ByName(name)
}

// normalizeAddress upper-cases MAC style addresses so map keys are stable.
func normalizeAddress(addr string) string {
	return strings.ToUpper(addr)
}
