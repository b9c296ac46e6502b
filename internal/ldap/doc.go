/*
Package ldap holds the Active Directory flavoured building blocks of the
federation server: the user record, its mapping to and from LDAP entries,
and the codecs Active Directory clients expect.

# Naming

A Suffix fixes the two subtrees the server answers for:

	cn=<users>,dc=example,dc=local   user entries, cn = username
	ou=<roles>,dc=example,dc=local   role entries, objectClass group

BuildDN, UsernameFromDN, LeadingRDNValue and EqualDN operate on DNs with
distinguishedNameMatch semantics.

# Records and entries

A User is a flat map of record fields. An AttributeMap translates between
lower case LDAP attribute names and record fields; a UserMapper built from
it renders a record as an Entry (ToLDAP) and applies modify values back to a
record (Update). Read-only and derived attributes such as objectGUID,
memberOf, objectClass and objectSid are never written back.

# Codecs

  - objectGUID: UUID strings to the mixed endian 16 byte form (UUIDToADGUID, ADGUIDToUUID)
  - whenCreated, whenChanged: epoch milliseconds to generalized time
  - accountExpires, badPasswordTime: epoch milliseconds to FILETIME intervals
  - unicodePwd: quoted UTF-16LE to string (DecodeUnicodePwd)
  - objectSid: domain SID plus a RID derived from the objectGUID

# Errors and logging

Every protocol outcome is an LDAPError carrying the result code and the
diagnostic message returned to the client; ResultCode and DiagnosticMessage
extract them. Logger is the structured logging contract shared by all
packages, implemented on top of go-hclog by HCLogger.
*/
package ldap
