// Package adapter defines the storage capability the directory is served
// from and provides an in-memory implementation for development and tests.
package adapter

import (
	"context"
	"errors"

	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
	"github.com/isometry/ad-ldap-federation/internal/mfa"
)

var (
	// ErrNotFound is returned by lookups and mutations of unknown users or roles.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when registering a taken username.
	ErrAlreadyExists = errors.New("already exists")
)

// Adapter is a user store. Records use the field names of adldap.User.
//
// Lookups return ErrNotFound for unknown or expired users. Mutations perform
// a single read-modify-write on the stored record.
type Adapter interface {
	SearchUsername(ctx context.Context, username string) (adldap.User, error)
	SearchMail(ctx context.Context, mail string) (adldap.User, error)
	SearchGUID(ctx context.Context, objectGUID string) (adldap.User, error)
	SearchSn(ctx context.Context, sn string) ([]adldap.User, error)

	// SearchRole resolves a role name to the roles it stands for; a
	// realm's default role resolves to the default role set.
	SearchRole(ctx context.Context, role string) ([]string, error)

	SyncAllUsers(ctx context.Context) ([]adldap.User, error)
	SyncAllRoles(ctx context.Context) ([]string, error)

	// VerifyPassword checks a login and records its outcome on the user.
	VerifyPassword(ctx context.Context, username, password string) (bool, error)
	// UpdatePassword enforces the password policy before storing the password.
	// Policy violations are returned as *password.ValidationError.
	UpdatePassword(ctx context.Context, username, newPassword string) error
	UpdateAttributes(ctx context.Context, username string, attributes adldap.User) error
	Register(ctx context.Context, username string) error

	mfa.Store
}
