package model

import (
	"fmt"
	"strings"
)

// Origin identifies where a Target came from.
type Origin int

const (
	// OriginFile marks targets read from a local list file.
	OriginFile Origin = iota + 1
	// OriginDirectory marks targets fetched from the remote directory listing.
	OriginDirectory
)

// String returns the string representation of the Origin.
func (o Origin) String() string {
	switch o {
	case OriginFile:
		return "file"
	case OriginDirectory:
		return "directory"
	default:
		return unknownStr
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Origin) UnmarshalText(text []byte) error {
	origin, err := ParseOrigin(string(text))
	if err != nil {
		return err
	}
	*o = origin
	return nil
}

// ParseOrigin converts the string form produced by Origin.String back to an Origin.
func ParseOrigin(s string) (Origin, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file":
		return OriginFile, nil
	case "directory":
		return OriginDirectory, nil
	case unknownStr, "":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown origin %q", s)
	}
}

// Target is one probe subject.
// Targets are values: the scheduler copies them and never modifies them.
// Two targets with the same Address are still two distinct probe subjects.
type Target struct {
	// Address is the onion endpoint identifier exactly as the source produced it.
	// It is not normalized or validated here; the transport reports malformed
	// addresses as a TransportError outcome.
	Address string `json:"address"`

	// Origin records which target source produced this target.
	Origin Origin `json:"origin"`

	// DisplayName is the directory listing title.
	// It is empty for targets read from a file.
	DisplayName string `json:"name,omitempty"`
}

// NewFileTarget creates a target read from a local list.
func NewFileTarget(address string) Target {
	return Target{Address: address, Origin: OriginFile}
}

// NewDirectoryTarget creates a target fetched from the remote directory.
func NewDirectoryTarget(address, title string) Target {
	return Target{Address: address, Origin: OriginDirectory, DisplayName: title}
}

// Label returns the display name when present, otherwise the address.
func (t Target) Label() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.Address
}
