package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// BuildDN joins cn=, ou= and dc= components into a distinguished name.
// cn values come first in the given order, then ou values, then one dc=
// component per dot separated label of dc. Values are escaped per RFC 4514.
//
// Input:  []string{"alice", "Users"}, nil, "example.local"
// Output: "cn=alice,cn=Users,dc=example,dc=local"
func BuildDN(cn []string, ou []string, dc string) string {
	var rdns []string

	for _, v := range cn {
		rdns = append(rdns, "cn="+ldap.EscapeDN(v))
	}

	for _, v := range ou {
		rdns = append(rdns, "ou="+ldap.EscapeDN(v))
	}

	for _, label := range strings.Split(dc, ".") {
		if label != "" {
			rdns = append(rdns, "dc="+ldap.EscapeDN(label))
		}
	}

	return strings.Join(rdns, ",")
}

// UsernameFromDN returns the value of the leading RDN of dn, whatever its
// attribute type.
// For example "cn=jack1, cn=Users, dc=example, dc=local" yields "jack1".
func UsernameFromDN(dn string) (string, bool) {
	if parsed, err := ldap.ParseDN(dn); err == nil {
		if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
			return "", false
		}
		v := parsed.RDNs[0].Attributes[0].Value
		return v, v != ""
	}

	// Unparseable DNs still get a best effort split on the first component.
	first, _, _ := strings.Cut(dn, ",")
	_, v, ok := strings.Cut(first, "=")
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// LeadingRDNValue returns the value of the leading RDN of dn if its
// attribute type is attrType (compared case-insensitively).
// For example, extracting "cn" from "CN=alice,CN=Users,DC=example,DC=local" returns "alice".
func LeadingRDNValue(dn, attrType string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	if len(parsedDN.RDNs) > 0 {
		for _, attr := range parsedDN.RDNs[0].Attributes {
			if strings.EqualFold(attr.Type, attrType) {
				return attr.Value, nil
			}
		}
	}

	return "", fmt.Errorf("attribute type '%s' not found in DN '%s'", attrType, dn)
}

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// EqualDN compares two DNs with distinguishedNameMatch semantics, ignoring case.
// Unparseable DNs are never equal.
func EqualDN(a, b string) bool {
	pa, err := ldap.ParseDN(a)
	if err != nil {
		return false
	}
	pb, err := ldap.ParseDN(b)
	if err != nil {
		return false
	}
	return pa.EqualFold(pb)
}

// IsDNWithin reports whether dn equals base or lies beneath it.
func IsDNWithin(dn string, base *ldap.DN) bool {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return false
	}
	return base.EqualFold(parsed) || base.AncestorOfFold(parsed)
}
