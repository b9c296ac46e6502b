// Package account holds the password and expiry bookkeeping applied to user
// records: when a password must be changed, what a password change or a
// login attempt does to the record, and the defaults of a new account.
package account

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
)

// ErrInvalidArgument is returned for unusable options.
var ErrInvalidArgument = errors.New("invalid argument")

// DefaultMaxPwdAge is the password lifetime of DefaultOptions.
const DefaultMaxPwdAge = 90 * 24 * time.Hour

// Options configures an Account.
type Options struct {
	// MaxPwdAge is how long a password stays valid after it was set. Zero
	// expires every password as soon as it is set.
	MaxPwdAge time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{MaxPwdAge: DefaultMaxPwdAge}
}

// Account applies lifecycle transitions to user records. All methods modify
// the given record in place and return it.
type Account struct {
	maxPwdAge time.Duration
	now       func() time.Time
}

// Option configures optional Account behaviour.
type Option func(*Account)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Account) {
		a.now = now
	}
}

// New creates an Account. Options are used as given; start from
// DefaultOptions to override single values.
func New(opts Options, optFns ...Option) (*Account, error) {
	if opts.MaxPwdAge < 0 {
		return nil, fmt.Errorf("%w: maxPwdAge must not be negative, got %s", ErrInvalidArgument, opts.MaxPwdAge)
	}

	a := &Account{
		maxPwdAge: opts.MaxPwdAge,
		now:       time.Now,
	}
	for _, fn := range optFns {
		fn(a)
	}
	return a, nil
}

// MaxPwdAge returns the configured password lifetime.
func (a *Account) MaxPwdAge() time.Duration {
	return a.maxPwdAge
}

// Now returns the current time of the account clock.
func (a *Account) Now() time.Time {
	return a.now()
}

func (a *Account) nowMillis() int64 {
	return a.now().UnixMilli()
}

// IsExpired reports whether the account expiry date has passed. Records
// without expiry never expire.
func (a *Account) IsExpired(user adldap.User) bool {
	expiresAt, ok := adldap.ToMillis(user[adldap.FieldAccountExpiresAt])
	if !ok {
		return false
	}
	return expiresAt < a.nowMillis()
}

// PasswordResetNeeded sets pwdLastSet to "change on next login" when the
// password is too old, already flagged, or the account is marked
// password-expired. Accounts that cannot change or do not need a password,
// or whose password never expires, are left alone.
func (a *Account) PasswordResetNeeded(user adldap.User) adldap.User {
	uac := user.Int64(adldap.FieldUserAccountControl, adldap.UACNormalAccount)

	// Exemptions match the whole value only, so combined flags such as
	// NORMAL_ACCOUNT|DONT_EXPIRE_PASSWORD (66048) still expire.
	switch uac {
	case adldap.UACPasswordCantChange, adldap.UACPasswordNotRequired, adldap.UACPasswordNeverExpires:
		return user
	}

	pwdLastSetAt := user.Int64(adldap.FieldPwdLastSetAt, 0)
	tooOld := pwdLastSetAt+a.maxPwdAge.Milliseconds() < a.nowMillis()
	flagged := user.Has(adldap.FieldPwdLastSet) &&
		user.Int64(adldap.FieldPwdLastSet, adldap.PwdLastSetOK) == adldap.PwdLastSetUpdateOnNextLogin

	if tooOld || flagged || uac == adldap.UACPasswordExpired {
		user[adldap.FieldPwdLastSet] = adldap.PwdLastSetUpdateOnNextLogin
	}

	return user
}

// SetPassword stores a new password secret and marks the password as current.
func (a *Account) SetPassword(user adldap.User, password string) adldap.User {
	if user.Int64(adldap.FieldUserAccountControl, adldap.UACNormalAccount) == adldap.UACPasswordExpired {
		user[adldap.FieldUserAccountControl] = adldap.UACNormalAccount
	}
	user[adldap.FieldUserPassword] = password
	user[adldap.FieldPwdLastSet] = adldap.PwdLastSetOK
	user[adldap.FieldPwdLastSetAt] = a.nowMillis()
	return user
}

// PasswordValid records a successful login.
func (a *Account) PasswordValid(user adldap.User) adldap.User {
	user[adldap.FieldBadPwdCount] = int64(0)
	user[adldap.FieldLastLoginAt] = a.nowMillis()
	return user
}

// PasswordInvalid records a failed login attempt.
func (a *Account) PasswordInvalid(user adldap.User) adldap.User {
	user[adldap.FieldBadPasswordTime] = a.nowMillis()
	user[adldap.FieldBadPwdCount] = user.Int64(adldap.FieldBadPwdCount, 0) + 1
	return user
}

// Register returns a new account record for username. The password must be
// set before the first login.
func (a *Account) Register(username string) (adldap.User, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username required", ErrInvalidArgument)
	}

	return adldap.User{
		adldap.FieldObjectGUID:         uuid.NewString(),
		adldap.FieldCreatedAt:          a.nowMillis(),
		adldap.FieldUsername:           username,
		adldap.FieldUserAccountControl: adldap.UACNormalAccount,
		adldap.FieldPwdLastSet:         adldap.PwdLastSetUpdateOnNextLogin,
	}, nil
}
