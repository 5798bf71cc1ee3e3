package kernel

import (
	"fmt"
	"strings"
)

// Group identifies the pose space a kernel lives in.
type Group int

const (
	// R3 kernels carry a position only.
	R3 Group = iota
	// S2 kernels carry a position and a direction.
	S2
	// S2P kernels carry a position and an axial (sign-less) direction.
	S2P
	// SE3 kernels carry a full 6-DoF pose.
	SE3
)

var groupNames = [...]string{"r3", "r3xs2", "r3xs2p", "se3"}

func (g Group) String() string {
	if g < R3 || g > SE3 {
		return fmt.Sprintf("group(%d)", int(g))
	}
	return groupNames[g]
}

// HasOrientation reports whether kernels of this group carry an orientation.
func (g Group) HasOrientation() bool {
	return g != R3
}

// Valid reports whether g is one of the four defined groups.
func (g Group) Valid() bool {
	return g >= R3 && g <= SE3
}

// ParseGroup accepts the names produced by String as well as the short
// aliases "s2" and "s2p".
func ParseGroup(s string) (Group, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r3":
		return R3, nil
	case "r3xs2", "s2":
		return S2, nil
	case "r3xs2p", "s2p":
		return S2P, nil
	case "se3":
		return SE3, nil
	}
	return 0, fmt.Errorf("unknown kernel group %q", s)
}
