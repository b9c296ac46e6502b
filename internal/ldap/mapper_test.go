package ldap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSuffix(t *testing.T) *Suffix {
	t.Helper()
	s, err := NewSuffix("Users", "Roles", "example.local")
	require.NoError(t, err)
	return s
}

func millis(s string) int64 {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return ts.UnixMilli()
}

func aliceRecord() User {
	return User{
		FieldObjectGUID:         "bcc0d7a6-d86e-42e5-98c6-2ad22f2d38bd",
		FieldCreatedAt:          millis("2020-10-01T12:00:00Z"),
		FieldUpdatedAt:          millis("2020-11-01T12:00:00Z"),
		FieldUsername:           "alice",
		FieldFirstName:          "Alice",
		FieldName:               "Adams",
		FieldUserPassword:       "alice",
		FieldMail:               "alice.adams@my.local",
		FieldMobile:             "+1180180180",
		FieldMemberOf:           []string{"test:read", "test:write"},
		FieldOrgID:              "8cbe965e-5481-470b-9388-8d8bf169efc5",
		FieldUserAccountControl: UACNormalAccount,
		FieldPwdLastSet:         PwdLastSetOK,
		FieldEmailVerified:      true,
		"accountExpiresAt":      millis("2020-12-01T12:00:00Z"),
	}
}

func TestNewMapper(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), nil)

	tests := []struct {
		name    string
		record  any
		wantErr bool
	}{
		{name: "nil starts empty", record: nil},
		{name: "user", record: aliceRecord()},
		{name: "plain map", record: map[string]any{"username": "bob"}},
		{name: "string", record: "##", wantErr: true},
		{name: "nil user", record: User(nil), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := attrs.NewMapper(tt.record)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecord)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, m.Get())
		})
	}
}

func TestUserMapper_ToLDAP(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), nil)
	m, err := attrs.NewMapper(aliceRecord())
	require.NoError(t, err)

	entry, err := m.ToLDAP(nil)
	require.NoError(t, err)

	guid, err := UUIDToADGUID("bcc0d7a6-d86e-42e5-98c6-2ad22f2d38bd")
	require.NoError(t, err)

	assert.Equal(t, "cn=alice,cn=Users,dc=example,dc=local", entry.DN)
	assert.Equal(t, map[string][]string{
		"samaccountname":     {"alice"},
		"cn":                 {"alice"},
		"objectguid":         {string(guid)},
		"whencreated":        {"20201001120000Z"},
		"whenchanged":        {"20201101120000Z"},
		"givenname":          {"Alice"},
		"sn":                 {"Adams"},
		"mail":               {"alice.adams@my.local"},
		"mobile":             {"+1180180180"},
		"oid":                {"8cbe965e-5481-470b-9388-8d8bf169efc5"},
		"useraccountcontrol": {"512"},
		"pwdlastset":         {"-1"},
		"emailverified":      {"true"},
		"accountexpires":     {"132512976000000"},
		"memberof": {
			"cn=test:read,ou=Roles,dc=example,dc=local",
			"cn=test:write,ou=Roles,dc=example,dc=local",
		},
		"objectclass":       {"top", "person", "organizationalPerson", "user"},
		"userprincipalname": {"alice@example.local"},
	}, entry.Attributes)
}

func TestUserMapper_ToLDAPSelectedAttributes(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), nil)
	m, err := attrs.NewMapper(aliceRecord())
	require.NoError(t, err)

	entry, err := m.ToLDAP([]string{
		"objectGUID",
		"whenCreated",
		"givenName",
		"sn",
		"mail",
		"userAccountControl",
		"pwdLastSet",
		"orgid",
		"memberOf",
	})
	require.NoError(t, err)

	keys := make([]string, 0, len(entry.Attributes))
	for k := range entry.Attributes {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"samaccountname",
		"cn",
		"objectguid",
		"whencreated",
		"givenname",
		"sn",
		"mail",
		"useraccountcontrol",
		"pwdlastset",
		"memberof",
	}, keys)
	assert.NotContains(t, entry.Attributes, "userpassword")
}

func TestUserMapper_ToLDAPErrors(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), nil)

	m, err := attrs.NewMapper(User{FieldMail: "nobody@my.local"})
	require.NoError(t, err)
	_, err = m.ToLDAP(nil)
	assert.ErrorIs(t, err, ErrMissingUsername)

	m, err = attrs.NewMapper(User{FieldUsername: "x", FieldObjectGUID: "this is not a uuid"})
	require.NoError(t, err)
	_, err = m.ToLDAP(nil)
	assert.ErrorIs(t, err, ErrInvalidUUID)
}

func TestUserMapper_ObjectSid(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), nil, WithDomainSID("S-1-5-21-0-0-0"))
	m, err := attrs.NewMapper(aliceRecord())
	require.NoError(t, err)

	entry, err := m.ToLDAP([]string{"objectSid"})
	require.NoError(t, err)

	sid, err := NewSIDHandler().ConvertBinarySIDToString([]byte(entry.First("objectsid")))
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-21-0-0-0-791493797", sid)
}

func TestUserMapper_UpdateDropsReadonly(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), nil)

	m, err := attrs.NewMapper(aliceRecord())
	require.NoError(t, err)
	entry, err := m.ToLDAP(nil)
	require.NoError(t, err)

	back, err := attrs.NewMapper(nil)
	require.NoError(t, err)

	assert.Equal(t, User{
		FieldUsername:           "alice",
		FieldFirstName:          "Alice",
		FieldName:               "Adams",
		FieldMail:               "alice.adams@my.local",
		FieldMobile:             "+1180180180",
		FieldOrgID:              "8cbe965e-5481-470b-9388-8d8bf169efc5",
		FieldUserAccountControl: UACNormalAccount,
		FieldPwdLastSet:         PwdLastSetOK,
		FieldEmailVerified:      true,
	}, back.Update(entry.Attributes, false).Get())
}

func TestUserMapper_UpdateRoundTrip(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), nil, WithDomainSID("S-1-5-21-0-0-0"))

	record := aliceRecord()
	m, err := attrs.NewMapper(record)
	require.NoError(t, err)
	entry, err := m.ToLDAP(nil)
	require.NoError(t, err)

	back, err := attrs.NewMapper(nil)
	require.NoError(t, err)

	want := record.Clone()
	delete(want, FieldUserPassword)
	assert.Equal(t, want, back.Update(entry.Attributes, true).Get())
}

func TestUserMapper_UpdateCustomMapping(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), map[string]string{
		"givenname": "name",
		"sn":        "lastName",
	})

	m, err := attrs.NewMapper(User{
		"name":             "Alice",
		"lastName":         "Adams",
		FieldMail:          "alice.adams@my.local",
		FieldEmailVerified: false,
	})
	require.NoError(t, err)

	got := m.Update(map[string][]string{
		"givenname":          {"Alicia"},
		"sn":                 {"Anders"},
		"emailverified":      {"true"},
		"useraccountcontrol": {"NaN"},
		"pwdlastset":         {"0"},
	}, false).Get()

	assert.Equal(t, User{
		"name":                  "Alicia",
		"lastName":              "Anders",
		FieldMail:               "alice.adams@my.local",
		FieldEmailVerified:      true,
		FieldUserAccountControl: UACNormalAccount,
		FieldPwdLastSet:         PwdLastSetUpdateOnNextLogin,
	}, got)
}

func TestUserMapper_UpdateCoercion(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), nil)

	tests := []struct {
		name     string
		attr     string
		value    string
		field    string
		expected any
	}{
		{name: "email verified false", attr: "emailverified", value: "false", field: FieldEmailVerified, expected: false},
		{name: "email verified other", attr: "emailverified", value: "FALSE", field: FieldEmailVerified, expected: true},
		{name: "mobile verified", attr: "mobileverified", value: "true", field: FieldMobileVerified, expected: true},
		{name: "uac numeric", attr: "useraccountcontrol", value: "66048", field: FieldUserAccountControl, expected: int64(66048)},
		{name: "uac garbage", attr: "useraccountcontrol", value: "abc", field: FieldUserAccountControl, expected: UACNormalAccount},
		{name: "pwdlastset garbage", attr: "pwdlastset", value: "", field: FieldPwdLastSet, expected: PwdLastSetUpdateOnNextLogin},
		{name: "unmapped passes through", attr: "Department", value: "R&D", field: "department", expected: "R&D"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := attrs.NewMapper(nil)
			require.NoError(t, err)
			got := m.Update(map[string][]string{tt.attr: {tt.value}}, false).Get()
			assert.Equal(t, tt.expected, got[tt.field])
		})
	}
}

func TestWireName(t *testing.T) {
	assert.Equal(t, "sAMAccountName", WireName("samaccountname"))
	assert.Equal(t, "objectGUID", WireName("objectguid"))
	assert.Equal(t, "mail", WireName("mail"))
}

func TestRoleEntry(t *testing.T) {
	attrs := NewAttributeMap(testSuffix(t), nil)
	entry := attrs.RoleEntry("test:read")
	assert.Equal(t, "cn=test:read,ou=Roles,dc=example,dc=local", entry.DN)
	assert.Equal(t, []string{"test:read"}, entry.Attributes["cn"])
}
