package replication

import (
	"fmt"
	"reflect"

	"github.com/gear6io/replicant/network/serial"
	"github.com/gear6io/replicant/pkg/errors"
)

// Role is the authority a peer holds over a replicable, weakest first
type Role uint8

const (
	RoleNone Role = iota
	RoleDumbProxy
	RoleSimulatedProxy
	RoleAutonomousProxy
	RoleAuthority
)

var roleNames = map[Role]string{
	RoleNone:            "none",
	RoleDumbProxy:       "dumb_proxy",
	RoleSimulatedProxy:  "simulated_proxy",
	RoleAutonomousProxy: "autonomous_proxy",
	RoleAuthority:       "authority",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Roles pairs the local peer's role with the remote peer's
type Roles struct {
	Local  Role
	Remote Role
}

// DefaultRoles keeps a replicable on the peer that created it
var DefaultRoles = Roles{Local: RoleAuthority, Remote: RoleNone}

func (r Roles) String() string {
	return fmt.Sprintf("Roles(local=%s, remote=%s)", r.Local, r.Remote)
}

// Netmode is the part a World plays in a session
type Netmode uint8

const (
	NetmodeServer Netmode = iota
	NetmodeClient
	NetmodeListen
	NetmodeSingle
)

var netmodeNames = map[Netmode]string{
	NetmodeServer: "server",
	NetmodeClient: "client",
	NetmodeListen: "listen",
	NetmodeSingle: "single",
}

func (n Netmode) String() string {
	if name, ok := netmodeNames[n]; ok {
		return name
	}
	return fmt.Sprintf("netmode(%d)", uint8(n))
}

// IsServer reports whether the world holds authority for remote peers
func (n Netmode) IsServer() bool {
	return n == NetmodeServer || n == NetmodeListen
}

// ParseNetmode maps a config or wire name back to a Netmode
func ParseNetmode(s string) (Netmode, error) {
	for mode, name := range netmodeNames {
		if name == s {
			return mode, nil
		}
	}
	return 0, errors.Newf(errors.CommonInvalidInput, "unknown netmode %q", s)
}

var rolesType = reflect.TypeOf(Roles{})

// rolesHandler packs the pair from the receiver's point of view, so the
// remote role goes first.
type rolesHandler struct{}

func (rolesHandler) Pack(value any) ([]byte, error) {
	roles, ok := value.(Roles)
	if !ok {
		return nil, errors.Newf(serial.ErrInvalidValue, "cannot pack %T as roles", value)
	}
	return []byte{byte(roles.Remote), byte(roles.Local)}, nil
}

func (rolesHandler) UnpackFrom(data []byte, offset int) (any, int, error) {
	if offset < 0 || offset+2 > len(data) {
		return nil, 0, errors.Newf(serial.ErrInsufficientData, "roles need 2 bytes, have %d", len(data)-offset)
	}
	return Roles{Local: Role(data[offset]), Remote: Role(data[offset+1])}, 2, nil
}

func (rolesHandler) Size([]byte) (int, error) {
	return 2, nil
}
