package ldap

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/go-objectsid"
)

// SIDHandler provides objectSid operations.
// Active Directory transmits SIDs in binary form; the string form is S-1-5-21-...
type SIDHandler struct{}

// NewSIDHandler creates a new SID handler instance.
func NewSIDHandler() *SIDHandler {
	return &SIDHandler{}
}

// minUserRID is the first relative identifier Active Directory hands to
// non built-in accounts.
const minUserRID = 1000

// ConvertBinarySIDToString converts a binary SID to its string representation.
func (s *SIDHandler) ConvertBinarySIDToString(binarySID []byte) (string, error) {
	if len(binarySID) < 8 {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(binarySID))
	}
	if want := 8 + 4*int(binarySID[1]); len(binarySID) < want {
		return "", fmt.Errorf("binary SID truncated: %d bytes, want %d", len(binarySID), want)
	}

	sid := objectsid.Decode(binarySID)

	return sid.String(), nil
}

// ConvertStringToBinarySID encodes an S-R-I-S... string in the binary wire form:
// revision, sub-authority count, 48-bit big-endian authority and
// little-endian 32-bit sub-authorities.
func (s *SIDHandler) ConvertStringToBinarySID(sidString string) ([]byte, error) {
	if err := s.ValidateSIDString(sidString); err != nil {
		return nil, err
	}

	parts := strings.Split(sidString, "-")
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid SID format: %s", sidString)
	}

	revision, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("invalid SID revision: %w", err)
	}

	authority, err := strconv.ParseUint(parts[2], 10, 48)
	if err != nil {
		return nil, fmt.Errorf("invalid SID authority: %w", err)
	}

	subs := parts[3:]
	if len(subs) > 15 {
		return nil, fmt.Errorf("invalid SID: too many sub-authorities")
	}

	out := make([]byte, 8, 8+4*len(subs))
	out[0] = byte(revision)
	out[1] = byte(len(subs))
	for i := 0; i < 6; i++ {
		out[2+i] = byte(authority >> (8 * (5 - i)))
	}

	for _, sub := range subs {
		v, err := strconv.ParseUint(sub, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid SID sub-authority %q: %w", sub, err)
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(v))
	}

	return out, nil
}

// UserSID derives a stable objectSid for a user from the domain SID and the
// user's objectGUID. The relative identifier is taken from the last four GUID
// bytes and never falls into the built-in range.
func (s *SIDHandler) UserSID(domainSID, objectGUID string) ([]byte, error) {
	guid, err := UUIDToADGUID(objectGUID)
	if err != nil {
		return nil, err
	}

	rid := binary.BigEndian.Uint32(guid[12:16])%(1<<30) + minUserRID

	return s.ConvertStringToBinarySID(fmt.Sprintf("%s-%d", domainSID, rid))
}

// CanonicalSID encodes sidString and decodes the result again. A string
// that does not come back unchanged, such as one with leading zeros, is
// rejected, so clients see exactly the configured prefix.
func (s *SIDHandler) CanonicalSID(sidString string) (string, error) {
	b, err := s.ConvertStringToBinarySID(sidString)
	if err != nil {
		return "", err
	}

	decoded, err := s.ConvertBinarySIDToString(b)
	if err != nil {
		return "", err
	}
	if decoded != sidString {
		return "", fmt.Errorf("SID %q is not canonical, decodes as %q", sidString, decoded)
	}

	return decoded, nil
}

// ValidateSIDString validates that a string is a properly formatted SID.
func (s *SIDHandler) ValidateSIDString(sidString string) error {
	if sidString == "" {
		return fmt.Errorf("SID string cannot be empty")
	}

	if len(sidString) < 5 || sidString[:2] != "S-" {
		return fmt.Errorf("invalid SID format: must start with 'S-'")
	}

	return nil
}
