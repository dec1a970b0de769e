package servicemanager

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a semantic version used as artifact metadata.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
}

// ParseVersion parses "major.minor.patch" with an optional "-prerelease"
// suffix and an optional leading "v".
func ParseVersion(raw string) (Version, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	if trimmed == "" {
		return Version{}, fmt.Errorf("invalid version %q", raw)
	}
	parts := strings.SplitN(trimmed, "-", 2)
	core := strings.Split(parts[0], ".")
	if len(core) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: want major.minor.patch", raw)
	}
	numbers := make([]int, 3)
	for i, field := range core {
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q: bad component %q", raw, field)
		}
		numbers[i] = n
	}
	v := Version{Major: numbers[0], Minor: numbers[1], Patch: numbers[2]}
	if len(parts) == 2 {
		if parts[1] == "" {
			return Version{}, fmt.Errorf("invalid version %q: empty prerelease", raw)
		}
		v.Prerelease = parts[1]
	}
	return v, nil
}

// MustParseVersion is ParseVersion that panics on error, for literals.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// IsZero reports whether v is the zero value, which the library treats as
// "no version set".
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1, 0 or 1 ordering v against other. A release sorts
// after any prerelease of the same core.
func (v Version) Compare(other Version) int {
	for _, pair := range [][2]int{
		{v.Major, other.Major},
		{v.Minor, other.Minor},
		{v.Patch, other.Patch},
	} {
		if pair[0] != pair[1] {
			if pair[0] < pair[1] {
				return -1
			}
			return 1
		}
	}
	switch {
	case v.Prerelease == other.Prerelease:
		return 0
	case v.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	case v.Prerelease < other.Prerelease:
		return -1
	default:
		return 1
	}
}
