package ldap

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// UserAccountControl flags (from Microsoft documentation).
const (
	UACAccountDisabled      int64 = 0x00000002 // Account is disabled
	UACPasswordNotRequired  int64 = 0x00000020 // No password required
	UACPasswordCantChange   int64 = 0x00000040 // User cannot change password
	UACNormalAccount        int64 = 0x00000200 // Normal user account
	UACPasswordNeverExpires int64 = 0x00010000 // Password never expires
	UACPasswordExpired      int64 = 0x00800000 // Password expired
)

// pwdLastSet sentinels as understood by LDAP federation clients.
const (
	PwdLastSetOK                int64 = -1 // password is current
	PwdLastSetUpdateOnNextLogin int64 = 0  // password change required
)

// Record field names. These are the keys of a User, independent of the LDAP
// attribute names they are published under.
const (
	FieldObjectGUID          = "objectGUID"
	FieldUsername            = "username"
	FieldFirstName           = "firstName"
	FieldName                = "name"
	FieldMail                = "mail"
	FieldMobile              = "mobile"
	FieldMemberOf            = "memberOf"
	FieldOrgID               = "orgId"
	FieldEmailVerified       = "emailVerified"
	FieldMobileVerified      = "mobileVerified"
	FieldUserPassword        = "userPassword"
	FieldUserAccountControl  = "userAccountControl"
	FieldPwdLastSet          = "pwdLastSet"
	FieldPwdLastSetAt        = "pwdLastSetAt"
	FieldBadPwdCount         = "badPwdCount"
	FieldBadPasswordTime     = "badPasswordTime"
	FieldCreatedAt           = "createdAt"
	FieldUpdatedAt           = "updatedAt"
	FieldLastLoginAt         = "lastLoginAt"
	FieldAccountExpiresAt    = "accountExpiresAt"
	FieldPasswordResetNeeded = "passwordResetNeeded"
	FieldUID                 = "uid"
)

// User is a user record as held by a storage adapter.
type User map[string]any

// Clone returns a copy of u that shares no slices with it.
func (u User) Clone() User {
	if u == nil {
		return nil
	}
	out := make(User, len(u))
	for k, v := range u {
		switch vv := v.(type) {
		case []string:
			out[k] = slices.Clone(vv)
		case []any:
			out[k] = slices.Clone(vv)
		default:
			out[k] = v
		}
	}
	return out
}

// Has reports whether key is set to a non-nil value.
func (u User) Has(key string) bool {
	v, ok := u[key]
	return ok && v != nil
}

// String returns the value of key rendered as a string, or "" if unset.
func (u User) String(key string) string {
	v, ok := u[key]
	if !ok || v == nil {
		return ""
	}
	return ToString(v)
}

// Strings returns the value of key as a list of strings.
func (u User) Strings(key string) []string {
	return ToStrings(u[key])
}

// Int64 returns the numeric value of key, or def when it is unset or not a number.
func (u User) Int64(key string, def int64) int64 {
	return ToNumber(u[key], def)
}

// Merge returns a copy of u with the keys of other applied on top.
func (u User) Merge(other map[string]any) User {
	out := u.Clone()
	if out == nil {
		out = User{}
	}
	maps.Copy(out, other)
	return out
}

// ToString renders scalar record values the way they appear on the wire.
func ToString(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case []byte:
		return string(vv)
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case int32:
		return strconv.FormatInt(int64(vv), 10)
	case int64:
		return strconv.FormatInt(vv, 10)
	case uint16:
		return strconv.FormatUint(uint64(vv), 10)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case json.Number:
		return vv.String()
	case []string:
		return strings.Join(vv, ",")
	default:
		b, err := json.Marshal(vv)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// ToStrings converts a scalar or list value into a list of strings. Nil yields nil.
func ToStrings(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return slices.Clone(vv)
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, ToString(item))
		}
		return out
	default:
		return []string{ToString(vv)}
	}
}

// ToNumber converts v into an integer, returning def for missing or
// non-numeric input.
func ToNumber(v any, def int64) int64 {
	switch vv := v.(type) {
	case int:
		return int64(vv)
	case int32:
		return int64(vv)
	case int64:
		return vv
	case uint16:
		return int64(vv)
	case uint32:
		return int64(vv)
	case float64:
		if math.IsNaN(vv) || math.IsInf(vv, 0) {
			return def
		}
		return int64(vv)
	case json.Number:
		if n, err := vv.Int64(); err == nil {
			return n
		}
		if f, err := vv.Float64(); err == nil {
			return int64(f)
		}
	case string:
		s := strings.TrimSpace(vv)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return int64(f)
		}
	}
	return def
}
