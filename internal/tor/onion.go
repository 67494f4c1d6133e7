package tor

import (
	"encoding/base32"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Onion address constants.
const (
	// OnionV3Length is the length of a v3 onion address without the ".onion" suffix.
	OnionV3Length = 56

	// OnionV3TotalLength is the total length including the ".onion" suffix.
	OnionV3TotalLength = 62

	// OnionV3Version is the version byte for v3 onion addresses.
	OnionV3Version = 0x03

	// OnionV2Length is the length of a v2 onion address without the ".onion" suffix.
	// V2 was retired in 2021.
	OnionV2Length = 16

	// OnionSuffix is the common suffix for all onion addresses.
	OnionSuffix = ".onion"
)

// Onion address validation errors.
var (
	// ErrInvalidOnionAddress is returned when an address is not a valid onion address.
	ErrInvalidOnionAddress = errors.New("invalid onion address")

	// ErrV2AddressDeprecated is returned when a v2 address is provided.
	ErrV2AddressDeprecated = errors.New("v2 onion addresses are deprecated and no longer functional")

	// ErrInvalidPort is returned when an endpoint carries a port outside 1-65535.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")
)

var (
	onionV3Pattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)
	onionV2Pattern = regexp.MustCompile(`^[a-z2-7]{16}\.onion$`)
)

// checksumPrefix is the constant prefix hashed into a v3 checksum.
var checksumPrefix = []byte(".onion checksum")

// IsValidV3Address reports whether address is a v3 onion address with a
// correct version byte and checksum. The ".onion" suffix is required.
func IsValidV3Address(address string) bool {
	address = strings.ToLower(address)
	if !onionV3Pattern.MatchString(address) {
		return false
	}

	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(strings.TrimSuffix(address, OnionSuffix)))
	if err != nil || len(decoded) != 35 {
		return false
	}

	// pubkey(32) || checksum(2) || version(1)
	pubkey, checksum, version := decoded[:32], decoded[32:34], decoded[34]
	if version != OnionV3Version {
		return false
	}

	expected := computeV3Checksum(pubkey, version)
	return checksum[0] == expected[0] && checksum[1] == expected[1]
}

// computeV3Checksum returns the first two bytes of
// SHA3-256(".onion checksum" || pubkey || version).
func computeV3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)

	hash := sha3.Sum256(data)
	return hash[:2]
}

// IsV2Address reports whether address has the retired v2 format.
func IsV2Address(address string) bool {
	return onionV2Pattern.MatchString(strings.ToLower(address))
}

// NormalizeAddress returns address as a lowercase v3 onion hostname.
//
// It tolerates surrounding whitespace, uppercase letters, a missing
// ".onion" suffix, an http(s) scheme, and a trailing path, query or
// fragment. A port, if any, is rejected here; use ParseEndpoint for
// "host:port" input.
func NormalizeAddress(address string) (string, error) {
	host := trimURL(address)

	if !strings.HasSuffix(host, OnionSuffix) {
		host += OnionSuffix
	}

	if !IsValidV3Address(host) {
		if IsV2Address(host) {
			return "", ErrV2AddressDeprecated
		}
		return "", ErrInvalidOnionAddress
	}

	return host, nil
}

// ParseEndpoint splits an onion endpoint into its normalized hostname and
// port. The port is zero when address carries none.
func ParseEndpoint(address string) (string, int, error) {
	trimmed := trimURL(address)

	host, portText, err := net.SplitHostPort(trimmed)
	if err != nil {
		// No port.
		host, err := NormalizeAddress(trimmed)
		return host, 0, err
	}

	port, err := strconv.Atoi(portText)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, ErrInvalidPort
	}

	host, err = NormalizeAddress(host)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// trimURL lowercases address and strips the scheme and anything after the
// authority.
func trimURL(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	address = strings.TrimPrefix(address, "https://")
	address = strings.TrimPrefix(address, "http://")

	if idx := strings.IndexAny(address, "/?#"); idx != -1 {
		address = address[:idx]
	}
	return address
}
