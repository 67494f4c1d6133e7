package tor

import (
	"errors"
	"strings"
	"testing"
)

// Valid v3 addresses derived from fixed public keys. No service owns them.
const (
	// testOnionV3Addr1 is derived from an all-zero public key.
	testOnionV3Addr1 = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqd.onion"
	// testOnionV3Addr2 is derived from the public key 0, 1, ..., 31.
	testOnionV3Addr2 = "aaaqeayeaudaocajbifqydiob4ibceqtcqkrmfyydenbwha5dyp3kead.onion"
)

// TestIsValidV3Address tests v3 onion address validation.
func TestIsValidV3Address(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		address  string
		expected bool
	}{
		{"zero key address", testOnionV3Addr1, true},
		{"sequential key address", testOnionV3Addr2, true},
		{"uppercase", strings.ToUpper(strings.TrimSuffix(testOnionV3Addr1, OnionSuffix)) + OnionSuffix, true},
		{"v2 address", "facebookcorewwwi.onion", false},
		{"too short", "abc.onion", false},
		{"too long", strings.Repeat("a", 57) + OnionSuffix, false},
		{"missing suffix", strings.Repeat("a", 56), false},
		{"digit outside base32", strings.Repeat("1", 56) + OnionSuffix, false},
		{"empty string", "", false},
		{"only suffix", OnionSuffix, false},
		{"broken checksum", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaam2dqe.onion", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsValidV3Address(tc.address); got != tc.expected {
				t.Errorf("IsValidV3Address(%q) = %v, expected %v", tc.address, got, tc.expected)
			}
		})
	}
}

// TestIsV2Address tests detection of retired v2 addresses.
func TestIsV2Address(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		address  string
		expected bool
	}{
		{"facebookcorewwwi.onion", true},
		{"FACEBOOKCOREWWWI.onion", true},
		{testOnionV3Addr1, false},
		{"abc.onion", false},
	}

	for _, tc := range testCases {
		if got := IsV2Address(tc.address); got != tc.expected {
			t.Errorf("IsV2Address(%q) = %v, expected %v", tc.address, got, tc.expected)
		}
	}
}

// TestNormalizeAddress tests address normalization.
func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	t.Run("accepts common input variations", func(t *testing.T) {
		t.Parallel()

		inputs := []string{
			testOnionV3Addr1,
			strings.ToUpper(testOnionV3Addr1),
			strings.TrimSuffix(testOnionV3Addr1, OnionSuffix),
			"  " + testOnionV3Addr1 + "  \n",
			"https://" + testOnionV3Addr1,
			"http://" + testOnionV3Addr1,
			"https://" + testOnionV3Addr1 + "/search?q=test",
		}
		for _, input := range inputs {
			got, err := NormalizeAddress(input)
			if err != nil {
				t.Errorf("NormalizeAddress(%q): unexpected error: %v", input, err)
				continue
			}
			if got != testOnionV3Addr1 {
				t.Errorf("NormalizeAddress(%q) = %q, expected %q", input, got, testOnionV3Addr1)
			}
		}
	})

	t.Run("invalid address returns error", func(t *testing.T) {
		t.Parallel()
		if _, err := NormalizeAddress("invalid"); !errors.Is(err, ErrInvalidOnionAddress) {
			t.Errorf("expected ErrInvalidOnionAddress, got %v", err)
		}
	})

	t.Run("v2 address returns deprecated error", func(t *testing.T) {
		t.Parallel()
		if _, err := NormalizeAddress("facebookcorewwwi.onion"); !errors.Is(err, ErrV2AddressDeprecated) {
			t.Errorf("expected ErrV2AddressDeprecated, got %v", err)
		}
	})

	t.Run("address with port is rejected", func(t *testing.T) {
		t.Parallel()
		if _, err := NormalizeAddress(testOnionV3Addr1 + ":80"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

// TestParseEndpoint tests splitting endpoints into host and port.
func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		wantHost string
		wantPort int
		wantErr  error
	}{
		{"bare address", testOnionV3Addr1, testOnionV3Addr1, 0, nil},
		{"address with port", testOnionV3Addr2 + ":8080", testOnionV3Addr2, 8080, nil},
		{"url with port and path", "http://" + testOnionV3Addr2 + ":443/index.html", testOnionV3Addr2, 443, nil},
		{"port zero", testOnionV3Addr1 + ":0", "", 0, ErrInvalidPort},
		{"port too large", testOnionV3Addr1 + ":70000", "", 0, ErrInvalidPort},
		{"port not a number", testOnionV3Addr1 + ":http", "", 0, ErrInvalidPort},
		{"invalid host with port", "nope.onion:80", "", 0, ErrInvalidOnionAddress},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			host, port, err := ParseEndpoint(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if host != tc.wantHost || port != tc.wantPort {
				t.Errorf("got (%q, %d), expected (%q, %d)", host, port, tc.wantHost, tc.wantPort)
			}
		})
	}
}
