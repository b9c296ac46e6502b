package ldap

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRecord is returned when a mapper is given something other than a user record.
	ErrInvalidRecord = errors.New("user must be an object")

	// ErrMissingUsername is returned when a record without username is published.
	ErrMissingUsername = errors.New("user record has no username")
)

// DefaultAttributeMap maps lower case LDAP attribute names to record fields.
// Attribute names follow what LDAP federation clients request from Active Directory.
var DefaultAttributeMap = map[string]string{
	"objectguid":  FieldObjectGUID,
	"whencreated": FieldCreatedAt,
	"whenchanged": FieldUpdatedAt,
	// user data
	"uid":               FieldUID,
	"cn":                FieldUsername,
	"givenname":         FieldFirstName,
	"sn":                FieldName,
	"middlename":        "middleName",
	"nickname":          "nickName",
	"gender":            "gender",
	"preferredlanguage": "language",
	"timezone":          "timezone",
	"memberof":          FieldMemberOf,
	"oid":               FieldOrgID,
	"dateofbirth":       "dateOfBirth",
	// devices
	"mail":           FieldMail,
	"emailverified":  FieldEmailVerified,
	"mobile":         FieldMobile,
	"mobileverified": FieldMobileVerified,
	// account data
	"useraccountcontrol": FieldUserAccountControl,
	"userpassword":       FieldUserPassword,
	"pwdlastset":         FieldPwdLastSet,
	"badpasswordtime":    FieldBadPasswordTime,
	"badpwdcount":        FieldBadPwdCount,
	"accountexpires":     FieldAccountExpiresAt,
}

// readonlyAttributes are dropped by Update unless readonly values are explicitly accepted.
var readonlyAttributes = map[string]bool{
	"objectguid":        true,
	"samaccountname":    true,
	"whencreated":       true,
	"whenchanged":       true,
	"badpasswordtime":   true,
	"badpwdcount":       true,
	"accountexpires":    true,
	"memberof":          true,
	"userprincipalname": true,
}

// derivedAttributes are computed on publication and never written back.
var derivedAttributes = map[string]bool{
	"objectclass":       true,
	"objectsid":         true,
	"userprincipalname": true,
}

var (
	generalizedTimeAttributes = map[string]bool{"whencreated": true, "whenchanged": true}
	fileTimeAttributes        = map[string]bool{"badpasswordtime": true, "accountexpires": true}
	multiValuedAttributes     = map[string]bool{"memberof": true, "objectclass": true}
)

// UserObjectClasses is the objectClass chain of a published user entry.
var UserObjectClasses = []string{"top", "person", "organizationalPerson", "user"}

// wireNames holds the mixed case spelling clients expect for attributes whose
// names are handled in lower case internally.
var wireNames = map[string]string{
	"objectguid":         "objectGUID",
	"objectsid":          "objectSid",
	"objectclass":        "objectClass",
	"samaccountname":     "sAMAccountName",
	"userprincipalname":  "userPrincipalName",
	"useraccountcontrol": "userAccountControl",
	"pwdlastset":         "pwdLastSet",
	"whencreated":        "whenCreated",
	"whenchanged":        "whenChanged",
	"memberof":           "memberOf",
	"givenname":          "givenName",
	"badpwdcount":        "badPwdCount",
	"badpasswordtime":    "badPasswordTime",
	"accountexpires":     "accountExpires",
	"preferredlanguage":  "preferredLanguage",
}

// WireName returns the spelling of a lower case attribute name used in responses.
func WireName(attr string) string {
	if name, ok := wireNames[attr]; ok {
		return name
	}
	return attr
}

// Entry is a directory entry ready to be sent to a client. Attribute names
// are lower case; binary values are carried as raw bytes in the string.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// First returns the first value of attr.
func (e *Entry) First(attr string) string {
	if values := e.Attributes[attr]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// AttributeMap is the immutable translation table between LDAP attributes
// and user record fields. It is safe for concurrent use.
type AttributeMap struct {
	suffix    *Suffix
	domainSID string
	toField   map[string]string
	toLDAP    map[string]string
}

// AttributeMapOption configures an AttributeMap.
type AttributeMapOption func(*AttributeMap)

// WithDomainSID enables objectSid publication for users, derived from sid and objectGUID.
func WithDomainSID(sid string) AttributeMapOption {
	return func(m *AttributeMap) {
		m.domainSID = sid
	}
}

// NewAttributeMap merges overrides into DefaultAttributeMap. When several
// attributes map to the same field, the alphabetically last attribute is used
// on publication.
func NewAttributeMap(suffix *Suffix, overrides map[string]string, opts ...AttributeMapOption) *AttributeMap {
	m := &AttributeMap{
		suffix:  suffix,
		toField: maps.Clone(DefaultAttributeMap),
		toLDAP:  make(map[string]string, len(DefaultAttributeMap)),
	}

	for attr, field := range overrides {
		m.toField[strings.ToLower(attr)] = field
	}

	for _, attr := range slices.Sorted(maps.Keys(m.toField)) {
		m.toLDAP[m.toField[attr]] = attr
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Field returns the record field an LDAP attribute is stored in.
func (m *AttributeMap) Field(attr string) string {
	attr = strings.ToLower(attr)
	if field, ok := m.toField[attr]; ok {
		return field
	}
	return attr
}

// Attribute returns the LDAP attribute a record field is published as.
func (m *AttributeMap) Attribute(field string) string {
	if attr, ok := m.toLDAP[field]; ok {
		return attr
	}
	return strings.ToLower(field)
}

// Suffix returns the naming suffix entries are published under.
func (m *AttributeMap) Suffix() *Suffix {
	return m.suffix
}

// NewMapper wraps record, which may be nil, a User or a map[string]any.
func (m *AttributeMap) NewMapper(record any) (*UserMapper, error) {
	u := &UserMapper{attrs: m}
	if err := u.Set(record); err != nil {
		return nil, err
	}
	return u, nil
}

// UserMapper converts one user record to and from its LDAP representation.
type UserMapper struct {
	attrs *AttributeMap
	user  User
}

// Get returns the record in storage form.
func (u *UserMapper) Get() User {
	return u.user
}

// Set replaces the wrapped record.
func (u *UserMapper) Set(record any) error {
	switch r := record.(type) {
	case nil:
		u.user = User{}
	case User:
		if r == nil {
			return ErrInvalidRecord
		}
		u.user = r.Clone()
	case map[string]any:
		if r == nil {
			return ErrInvalidRecord
		}
		u.user = User(r).Clone()
	default:
		return fmt.Errorf("%w: got %T", ErrInvalidRecord, record)
	}
	return nil
}

// Update applies LDAP attribute values to the record. Read-only attributes
// are skipped unless ignoreReadonly is set, in which case values that were
// encoded on publication (objectGUID, timestamps, role DNs) are decoded back.
func (u *UserMapper) Update(attributes map[string][]string, ignoreReadonly bool) *UserMapper {
	for attr, values := range attributes {
		attr = strings.ToLower(attr)

		if derivedAttributes[attr] {
			continue
		}
		if !ignoreReadonly && readonlyAttributes[attr] {
			continue
		}
		if attr == "samaccountname" {
			// published as a copy of cn
			continue
		}

		value, ok := u.normalize(attr, values)
		if !ok {
			continue
		}
		u.user[u.attrs.Field(attr)] = value
	}
	return u
}

func (u *UserMapper) normalize(attr string, values []string) (any, bool) {
	if multiValuedAttributes[attr] {
		out := make([]string, 0, len(values))
		for _, v := range values {
			if attr == "memberof" && u.attrs.suffix != nil {
				v = u.attrs.suffix.RoleFromDN(v)
			}
			out = append(out, v)
		}
		return out, true
	}

	var value string
	if len(values) > 0 {
		value = values[0]
	}

	switch {
	case attr == "emailverified" || attr == "mobileverified":
		return value != "false", true
	case attr == "useraccountcontrol":
		return ToNumber(value, UACNormalAccount), true
	case attr == "pwdlastset":
		return ToNumber(value, PwdLastSetUpdateOnNextLogin), true
	case attr == "badpwdcount":
		return ToNumber(value, 0), true
	case attr == "objectguid":
		if id, err := ParseGUIDValue(value); err == nil {
			return id, true
		}
		return value, true
	case generalizedTimeAttributes[attr]:
		if ms, err := ParseGeneralizedTime(value); err == nil {
			return ms, true
		}
		return nil, false
	case fileTimeAttributes[attr]:
		if ms, err := ParseFileTimeInterval(value); err == nil {
			return ms, true
		}
		return nil, false
	}

	return value, true
}

// ToLDAP renders the record as a user entry. If attributes is non-empty only
// the requested attributes are emitted; cn and sAMAccountName are always
// present. userPassword is never emitted.
func (u *UserMapper) ToLDAP(attributes []string) (*Entry, error) {
	username := u.user.String(u.attrs.toField["cn"])
	if username == "" {
		return nil, ErrMissingUsername
	}

	wanted := projection(attributes)
	include := func(attr string) bool {
		return wanted == nil || attr == "cn" || wanted[attr]
	}

	out := map[string][]string{
		"cn":             {username},
		"samaccountname": {username},
	}

	for field, val := range u.user {
		if val == nil || strings.HasPrefix(field, "_") {
			continue
		}

		attr := u.attrs.Attribute(field)
		if attr == "userpassword" || attr == "cn" || attr == "samaccountname" || !include(attr) {
			continue
		}

		values, err := u.encode(attr, val)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", attr, err)
		}
		if values != nil {
			out[attr] = values
		}
	}

	if include("objectclass") {
		out["objectclass"] = slices.Clone(UserObjectClasses)
	}

	if include("userprincipalname") && u.attrs.suffix != nil {
		out["userprincipalname"] = []string{username + "@" + u.attrs.suffix.Domain()}
	}

	if include("objectsid") && u.attrs.domainSID != "" {
		if guid := u.user.String(FieldObjectGUID); guid != "" {
			sid, err := NewSIDHandler().UserSID(u.attrs.domainSID, guid)
			if err != nil {
				return nil, fmt.Errorf("attribute objectsid: %w", err)
			}
			out["objectsid"] = []string{string(sid)}
		}
	}

	dn := username
	if u.attrs.suffix != nil {
		dn = u.attrs.suffix.UserDN(username)
	}

	return &Entry{DN: dn, Attributes: out}, nil
}

func (u *UserMapper) encode(attr string, val any) ([]string, error) {
	switch {
	case attr == "objectguid":
		b, err := UUIDToADGUID(ToString(val))
		if err != nil {
			return nil, err
		}
		return []string{string(b)}, nil
	case generalizedTimeAttributes[attr]:
		if ts, ok := GeneralizedTime(val); ok {
			return []string{ts}, nil
		}
		return nil, nil
	case fileTimeAttributes[attr]:
		if n, ok := FileTimeInterval(val); ok {
			return []string{strconv.FormatInt(n, 10)}, nil
		}
		return nil, nil
	case attr == "memberof":
		roles := ToStrings(val)
		if u.attrs.suffix == nil {
			return roles, nil
		}
		out := make([]string, 0, len(roles))
		for _, role := range roles {
			out = append(out, u.attrs.suffix.RoleDN(role))
		}
		return out, nil
	}

	return ToStrings(val), nil
}

// projection returns the lower cased set of requested attributes, or nil when
// all attributes are wanted.
func projection(attributes []string) map[string]bool {
	if len(attributes) == 0 {
		return nil
	}
	out := make(map[string]bool, len(attributes))
	for _, attr := range attributes {
		if attr == "*" {
			return nil
		}
		out[strings.ToLower(attr)] = true
	}
	return out
}

// RoleEntry renders a role as a group entry.
func (m *AttributeMap) RoleEntry(role string) *Entry {
	return &Entry{
		DN: m.suffix.RoleDN(role),
		Attributes: map[string][]string{
			"cn":          {role},
			"objectclass": {"top", "group"},
		},
	}
}
