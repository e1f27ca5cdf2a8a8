package mflowlicense

import (
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"os/user"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// deviceIDLen is the number of hex characters kept from the identity hash.
const deviceIDLen = 16

// Identity is a device identifier. Volatile identities were generated
// without any stable system fact and must never be persisted as a
// long-term binding key: they always take the first-activation path.
type Identity struct {
	ID       string
	Volatile bool
}

// CurrentIdentity derives a stable identifier for this machine from its
// non-loopback MAC addresses, hostname, and OS user name, hashed with
// SHA-256 and truncated to 16 upper-case hex characters. The same facts
// always yield the same identifier.
//
// The MFLOW_DEVICE_ID environment variable overrides derivation entirely,
// for containers and other environments without stable hardware facts.
//
// If no system fact at all is available, the returned identity is a
// random one marked Volatile. Callers must surface this degraded mode
// rather than treat the identifier as equivalent to a stable one.
func CurrentIdentity() Identity {
	if id := os.Getenv("MFLOW_DEVICE_ID"); id != "" {
		return Identity{ID: strings.ToUpper(strings.TrimSpace(id))}
	}

	var parts []string

	if macs, err := deviceMACs(); err == nil && len(macs) > 0 {
		parts = append(parts, macs...)
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		parts = append(parts, hostname)
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		parts = append(parts, u.Username)
	}

	if len(parts) == 0 {
		return Identity{ID: strings.ToUpper(uuid.NewString()), Volatile: true}
	}

	digest := sha256.Sum256([]byte(strings.Join(parts, "-")))
	id := strings.ToUpper(fmt.Sprintf("%x", digest)[:deviceIDLen])
	return Identity{ID: id}
}

// deviceMACs returns sorted, non-loopback hardware MAC addresses.
func deviceMACs() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var macs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac != "" {
			macs = append(macs, mac)
		}
	}
	sort.Strings(macs)
	return macs, nil
}
