package ldap

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrInvalidUUID is returned for strings that are not a 128-bit hex UUID.
var ErrInvalidUUID = errors.New("invalid uuid")

// GUIDHandler provides objectGUID conversions.
// Active Directory stores GUIDs in a mixed-endian format that differs from standard UUID byte ordering.
type GUIDHandler struct{}

// NewGUIDHandler creates a new GUID handler instance.
func NewGUIDHandler() *GUIDHandler {
	return &GUIDHandler{}
}

var (
	// Hyphenated GUID format: 12345678-1234-1234-1234-123456789012
	hyphenatedGUIDRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// Compact GUID format: 32 hex digits
	compactGUIDRegex = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)
)

const (
	GUIDBytesLength   = 16 // GUID is always 16 bytes
	GUIDStringLength  = 36 // Hyphenated GUID string length
	CompactGUIDLength = 32 // Compact GUID string length
)

// IsValidGUID checks if a string is a valid GUID format (hyphenated or compact).
func (g *GUIDHandler) IsValidGUID(guidString string) bool {
	if guidString == "" {
		return false
	}

	return hyphenatedGUIDRegex.MatchString(guidString) || compactGUIDRegex.MatchString(guidString)
}

// NormalizeGUID converts a GUID string to lower case hyphenated format.
func (g *GUIDHandler) NormalizeGUID(guidString string) (string, error) {
	guidString = strings.TrimSpace(guidString)

	if !g.IsValidGUID(guidString) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUUID, guidString)
	}

	return formatGUIDHex(strings.ToLower(strings.ReplaceAll(guidString, "-", ""))), nil
}

// StringToGUIDBytes converts a UUID string to Active Directory byte format.
// Dashes are ignored; what remains must be exactly 32 hex digits.
// Active Directory uses mixed-endian encoding:
// - First 4 bytes (Data1): little-endian
// - Next 2 bytes (Data2): little-endian
// - Next 2 bytes (Data3): little-endian
// - Last 8 bytes (Data4): big-endian
func (g *GUIDHandler) StringToGUIDBytes(guidString string) ([]byte, error) {
	guidHex := strings.ReplaceAll(strings.TrimSpace(guidString), "-", "")
	if len(guidHex) != CompactGUIDLength {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUUID, guidString)
	}

	guidBytes, err := hex.DecodeString(guidHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUUID, guidString)
	}

	return swapGUIDEndianness(guidBytes), nil
}

// GUIDBytesToString converts Active Directory GUID bytes to standard string format.
func (g *GUIDHandler) GUIDBytesToString(guidBytes []byte) (string, error) {
	if len(guidBytes) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(guidBytes))
	}

	return formatGUIDHex(hex.EncodeToString(swapGUIDEndianness(guidBytes))), nil
}

// swapGUIDEndianness converts between RFC 4122 and Active Directory byte order.
// The transformation is its own inverse.
func swapGUIDEndianness(in []byte) []byte {
	out := make([]byte, GUIDBytesLength)

	// Data1 (bytes 0-3)
	out[0], out[1], out[2], out[3] = in[3], in[2], in[1], in[0]
	// Data2 (bytes 4-5)
	out[4], out[5] = in[5], in[4]
	// Data3 (bytes 6-7)
	out[6], out[7] = in[7], in[6]
	// Data4 (bytes 8-15): unchanged
	copy(out[8:], in[8:])

	return out
}

func formatGUIDHex(h string) string {
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

// GUIDToSearchFilter creates an LDAP search filter for a GUID using binary format.
func (g *GUIDHandler) GUIDToSearchFilter(guidString string) (string, error) {
	guidBytes, err := g.StringToGUIDBytes(guidString)
	if err != nil {
		return "", fmt.Errorf("failed to convert GUID to bytes: %w", err)
	}

	return fmt.Sprintf("(objectGUID=%s)", ldap.EscapeFilter(string(guidBytes))), nil
}

// ExtractGUID extracts the objectGUID from an LDAP entry and returns it as a string.
func (g *GUIDHandler) ExtractGUID(entry *ldap.Entry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("LDAP entry cannot be nil")
	}

	guidAttr := entry.GetEqualFoldRawAttributeValue("objectGUID")
	if len(guidAttr) == 0 {
		return "", fmt.Errorf("objectGUID attribute not found in entry")
	}

	return g.GUIDBytesToString(guidAttr)
}

// UUIDToADGUID encodes a UUID string as the 16 byte objectGUID value.
func UUIDToADGUID(s string) ([]byte, error) {
	return NewGUIDHandler().StringToGUIDBytes(s)
}

// ADGUIDToUUID decodes a 16 byte objectGUID value into a lower case UUID string.
func ADGUIDToUUID(b []byte) (string, error) {
	return NewGUIDHandler().GUIDBytesToString(b)
}

// ParseGUIDValue interprets an objectGUID assertion value from a search
// filter. Sixteen raw bytes are the binary objectGUID; anything else must be a
// hyphenated or compact UUID in text form.
func ParseGUIDValue(v string) (string, error) {
	if len(v) == GUIDBytesLength {
		return ADGUIDToUUID([]byte(v))
	}

	return NewGUIDHandler().NormalizeGUID(v)
}
