package adapter

import (
	"time"

	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
)

// DefaultRoles are granted to every user of a realm.
var DefaultRoles = []string{"offline_access", "uma_authorization"}

// SeedRoles are the roles known to a fresh Mock.
var SeedRoles = []string{"test:read", "test:write", "offline_access", "uma_authorization"}

func seedTime(hour, minute int) int64 {
	return time.Date(2020, time.October, 1, hour, minute, 0, 0, time.UTC).UnixMilli()
}

// SeedUsers returns the users a fresh Mock starts with. Their passwords
// equal their usernames.
func SeedUsers() []adldap.User {
	const orgID = "8cbe965e-5481-470b-9388-8d8bf169efc5"

	return []adldap.User{
		{
			adldap.FieldObjectGUID:         "bcc0d7a6-d86e-42e5-98c6-2ad22f2d38bd",
			adldap.FieldCreatedAt:          seedTime(12, 0),
			adldap.FieldUsername:           "alice",
			adldap.FieldFirstName:          "Alice",
			adldap.FieldName:               "Adams",
			adldap.FieldUserPassword:       "alice",
			adldap.FieldMail:               "alice.adams@my.local",
			adldap.FieldMobile:             "+1180180180",
			adldap.FieldMemberOf:           []string{"test:read", "test:write"},
			adldap.FieldOrgID:              orgID,
			adldap.FieldUserAccountControl: adldap.UACNormalAccount,
			adldap.FieldPwdLastSet:         adldap.PwdLastSetOK,
		},
		{
			adldap.FieldObjectGUID:         "98ac4b01-a63f-4425-9f7c-a8a3d23b052d",
			adldap.FieldCreatedAt:          seedTime(12, 10),
			adldap.FieldUsername:           "bob",
			adldap.FieldFirstName:          "Bob",
			adldap.FieldName:               "Builder",
			adldap.FieldUserPassword:       "bob",
			adldap.FieldMail:               "bob.builder@my.local",
			adldap.FieldMobile:             "+1180180181",
			adldap.FieldMemberOf:           []string{"test:read"},
			adldap.FieldOrgID:              orgID,
			adldap.FieldUserAccountControl: adldap.UACNormalAccount,
			adldap.FieldPwdLastSet:         adldap.PwdLastSetOK,
		},
		{
			adldap.FieldObjectGUID:         "f17beb47-7ab2-445b-97df-864e118d9d34",
			adldap.FieldCreatedAt:          seedTime(12, 15),
			adldap.FieldUsername:           "charly",
			adldap.FieldFirstName:          "Charly",
			adldap.FieldName:               "Chambers",
			adldap.FieldUserPassword:       "charly",
			adldap.FieldMail:               "charly.chambers@my.local",
			adldap.FieldMobile:             "+1180180182",
			adldap.FieldMemberOf:           []string{"test:write"},
			adldap.FieldOrgID:              orgID,
			adldap.FieldUserAccountControl: adldap.UACNormalAccount,
			adldap.FieldPwdLastSet:         adldap.PwdLastSetOK,
		},
	}
}
