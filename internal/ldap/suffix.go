package ldap

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// Suffix builds the DNs of the two trees this directory publishes: users
// under cn=<cnUsers> and roles under ou=<ouRoles>, both below the domain.
type Suffix struct {
	cnUsers string
	ouRoles string
	dc      string

	users *ldap.DN
	roles *ldap.DN
}

// NewSuffix validates the naming configuration and returns a Suffix.
func NewSuffix(cnUsers, ouRoles, dc string) (*Suffix, error) {
	if cnUsers == "" || ouRoles == "" || dc == "" {
		return nil, fmt.Errorf("suffix requires users container, roles unit and domain")
	}

	s := &Suffix{cnUsers: cnUsers, ouRoles: ouRoles, dc: dc}

	var err error
	if s.users, err = ldap.ParseDN(s.UsersDN()); err != nil {
		return nil, fmt.Errorf("users suffix: %w", err)
	}
	if s.roles, err = ldap.ParseDN(s.RolesDN()); err != nil {
		return nil, fmt.Errorf("roles suffix: %w", err)
	}

	return s, nil
}

// Domain returns the DNS domain, e.g. example.local.
func (s *Suffix) Domain() string {
	return s.dc
}

// UsersDN returns cn=<cnUsers>,dc=...
func (s *Suffix) UsersDN() string {
	return BuildDN([]string{s.cnUsers}, nil, s.dc)
}

// UserDN returns the DN of a user entry.
func (s *Suffix) UserDN(username string) string {
	return BuildDN([]string{username, s.cnUsers}, nil, s.dc)
}

// RolesDN returns ou=<ouRoles>,dc=...
func (s *Suffix) RolesDN() string {
	return BuildDN(nil, []string{s.ouRoles}, s.dc)
}

// RoleDN returns the DN of a role (group) entry.
func (s *Suffix) RoleDN(role string) string {
	return BuildDN([]string{role}, []string{s.ouRoles}, s.dc)
}

// IsUsersDN reports whether dn is the users suffix or an entry below it.
func (s *Suffix) IsUsersDN(dn string) bool {
	return IsDNWithin(dn, s.users)
}

// IsRolesDN reports whether dn is the roles suffix or an entry below it.
func (s *Suffix) IsRolesDN(dn string) bool {
	return IsDNWithin(dn, s.roles)
}

// RoleFromDN returns the role name of a role entry DN. Values that are not
// DNs below the roles suffix are returned unchanged, so plain role names pass
// through.
func (s *Suffix) RoleFromDN(value string) string {
	if !s.IsRolesDN(value) {
		return value
	}
	if role, err := LeadingRDNValue(value, "cn"); err == nil {
		return role
	}
	return value
}
