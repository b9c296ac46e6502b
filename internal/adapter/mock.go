package adapter

import (
	"context"
	"crypto/subtle"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/hashicorp/go-memdb"
	"golang.org/x/crypto/bcrypt"

	"github.com/isometry/ad-ldap-federation/internal/account"
	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
	"github.com/isometry/ad-ldap-federation/internal/mfa"
	"github.com/isometry/ad-ldap-federation/internal/password"
)

const (
	userTable = "user"
	mfaTable  = "mfa"

	indexID   = "id"
	indexMail = "mail"
	indexGUID = "guid"
	indexSn   = "sn"
)

var defaultRolesRegex = regexp.MustCompile(`^default-roles-[a-z]+$`)

// RelaxedPolicy is the password policy enforced by the Mock: at least three
// characters including one lower case letter.
func RelaxedPolicy() password.Policy {
	p := password.DefaultPolicy()
	p.MinLength = 3
	p.MinDigits = 0
	p.MinLowerChars = 1
	p.MinUpperChars = 0
	p.MinSpecialChars = 0
	p.NotUsername = false
	return p
}

// userRow is the stored form of a user. Index fields are copied out of the
// record; the record itself is never modified once inserted.
type userRow struct {
	Username string
	Mail     string
	GUID     string
	Sn       string
	Record   adldap.User
}

func newUserRow(user adldap.User) *userRow {
	return &userRow{
		Username: user.String(adldap.FieldUsername),
		Mail:     user.String(adldap.FieldMail),
		GUID:     user.String(adldap.FieldObjectGUID),
		Sn:       user.String(adldap.FieldName),
		Record:   user,
	}
}

func mockSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			userTable: {
				Name: userTable,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Username", Lowercase: true},
					},
					indexMail: {
						Name:         indexMail,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Mail", Lowercase: true},
					},
					indexGUID: {
						Name:         indexGUID,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "GUID", Lowercase: true},
					},
					indexSn: {
						Name:         indexSn,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Sn", Lowercase: true},
					},
				},
			},
			mfaTable: {
				Name: mfaTable,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}
}

// Mock is an in-memory Adapter backed by go-memdb. Passwords set through
// UpdatePassword are stored as bcrypt hashes; seeded plain text passwords
// are still accepted.
type Mock struct {
	db           *memdb.MemDB
	account      *account.Account
	policy       password.Policy
	roles        []string
	defaultRoles []string
	bcryptCost   int
	logger       adldap.Logger
}

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithPolicy replaces the password policy.
func WithPolicy(p password.Policy) MockOption {
	return func(m *Mock) {
		m.policy = p
	}
}

// WithRoles replaces the known roles.
func WithRoles(roles []string) MockOption {
	return func(m *Mock) {
		m.roles = slices.Clone(roles)
	}
}

// WithBcryptCost sets the cost of new password hashes.
func WithBcryptCost(cost int) MockOption {
	return func(m *Mock) {
		m.bcryptCost = cost
	}
}

// NewMock creates a Mock holding users. Users without pwdLastSetAt get the
// current time, so their passwords do not start out expired.
func NewMock(acct *account.Account, users []adldap.User, logger adldap.Logger, opts ...MockOption) (*Mock, error) {
	if acct == nil {
		return nil, fmt.Errorf("mock adapter: account is required")
	}
	if logger == nil {
		logger = adldap.NewHCLogger(nil)
	}

	db, err := memdb.NewMemDB(mockSchema())
	if err != nil {
		return nil, fmt.Errorf("mock adapter schema: %w", err)
	}

	m := &Mock{
		db:           db,
		account:      acct,
		policy:       RelaxedPolicy(),
		roles:        slices.Clone(SeedRoles),
		defaultRoles: slices.Clone(DefaultRoles),
		bcryptCost:   bcrypt.DefaultCost,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	txn := db.Txn(true)
	defer txn.Abort()
	for _, u := range users {
		user := u.Clone()
		if user.String(adldap.FieldUsername) == "" {
			return nil, fmt.Errorf("mock adapter: %w", adldap.ErrMissingUsername)
		}
		if !user.Has(adldap.FieldPwdLastSetAt) {
			user[adldap.FieldPwdLastSetAt] = acct.Now().UnixMilli()
		}
		if err := txn.Insert(userTable, newUserRow(user)); err != nil {
			return nil, fmt.Errorf("mock adapter seed %q: %w", user.String(adldap.FieldUsername), err)
		}
	}
	txn.Commit()

	return m, nil
}

// visible returns a copy of a stored user as lookups see it, or nil when the
// account has expired.
func (m *Mock) visible(row *userRow) adldap.User {
	if row == nil || m.account.IsExpired(row.Record) {
		return nil
	}
	user := m.account.PasswordResetNeeded(row.Record.Clone())
	user[adldap.FieldUID] = user[adldap.FieldObjectGUID]
	return user
}

func (m *Mock) first(txn *memdb.Txn, index, value string) (*userRow, error) {
	if value == "" {
		return nil, nil
	}
	raw, err := txn.First(userTable, index, value)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*userRow), nil
}

func (m *Mock) search(ctx context.Context, index, value string) (adldap.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, err := m.first(m.db.Txn(false), index, value)
	if err != nil {
		m.logger.Error("User lookup failed", map[string]any{"index": index, "error": err.Error()})
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	user := m.visible(row)
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func (m *Mock) SearchUsername(ctx context.Context, username string) (adldap.User, error) {
	return m.search(ctx, indexID, username)
}

func (m *Mock) SearchMail(ctx context.Context, mail string) (adldap.User, error) {
	return m.search(ctx, indexMail, mail)
}

func (m *Mock) SearchGUID(ctx context.Context, objectGUID string) (adldap.User, error) {
	return m.search(ctx, indexGUID, objectGUID)
}

func (m *Mock) SearchSn(ctx context.Context, sn string) ([]adldap.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it, err := m.db.Txn(false).Get(userTable, indexSn, sn)
	if err != nil {
		return nil, fmt.Errorf("search sn: %w", err)
	}
	return m.collect(it), nil
}

func (m *Mock) collect(it memdb.ResultIterator) []adldap.User {
	users := []adldap.User{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		if user := m.visible(raw.(*userRow)); user != nil {
			users = append(users, user)
		}
	}
	return users
}

func (m *Mock) SearchRole(ctx context.Context, role string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if defaultRolesRegex.MatchString(role) {
		return slices.Clone(m.defaultRoles), nil
	}
	if slices.Contains(m.roles, role) {
		return []string{role}, nil
	}
	return nil, ErrNotFound
}

func (m *Mock) SyncAllUsers(ctx context.Context) ([]adldap.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	it, err := m.db.Txn(false).Get(userTable, indexID)
	if err != nil {
		return nil, fmt.Errorf("sync users: %w", err)
	}
	return m.collect(it), nil
}

func (m *Mock) SyncAllRoles(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(m.roles), nil
}

// modify runs fn on a copy of the stored record of username inside a single
// write transaction and stores the result unless fn fails.
func (m *Mock) modify(ctx context.Context, username string, fn func(user adldap.User) (adldap.User, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	txn := m.db.Txn(true)
	defer txn.Abort()

	row, err := m.first(txn, indexID, username)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if row == nil || m.account.IsExpired(row.Record) {
		return ErrNotFound
	}

	user, err := fn(row.Record.Clone())
	if err != nil {
		return err
	}
	if err := txn.Insert(userTable, newUserRow(user)); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	txn.Commit()
	return nil
}

func (m *Mock) VerifyPassword(ctx context.Context, username, pw string) (bool, error) {
	var valid bool
	err := m.modify(ctx, username, func(user adldap.User) (adldap.User, error) {
		valid = checkPassword(user.String(adldap.FieldUserPassword), pw)
		if valid {
			return m.account.PasswordValid(user), nil
		}
		return m.account.PasswordInvalid(user), nil
	})
	if err != nil {
		return false, err
	}

	m.logger.Debug("Password verified", map[string]any{"username": username, "valid": valid})
	return valid, nil
}

func (m *Mock) UpdatePassword(ctx context.Context, username, newPassword string) error {
	return m.modify(ctx, username, func(user adldap.User) (adldap.User, error) {
		err := m.policy.Validate(newPassword, password.Context{
			Username: username,
			Email:    user.String(adldap.FieldMail),
			Phone:    user.String(adldap.FieldMobile),
		})
		if err != nil {
			return nil, err
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), m.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}

		m.logger.Info("Password updated", map[string]any{"username": username})
		return m.account.SetPassword(user, string(hash)), nil
	})
}

// UpdateAttributes merges attributes into the stored record. The username
// is the record key and cannot be changed this way.
func (m *Mock) UpdateAttributes(ctx context.Context, username string, attributes adldap.User) error {
	return m.modify(ctx, username, func(user adldap.User) (adldap.User, error) {
		changes := attributes.Clone()
		delete(changes, adldap.FieldUsername)
		delete(changes, adldap.FieldUserPassword)
		delete(changes, adldap.FieldUID)

		user = user.Merge(changes)
		user[adldap.FieldUpdatedAt] = m.account.Now().UnixMilli()

		m.logger.Debug("Attributes updated", map[string]any{"username": username, "fields": sortedKeys(changes)})
		return user, nil
	})
}

func (m *Mock) Register(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	user, err := m.account.Register(username)
	if err != nil {
		return err
	}

	txn := m.db.Txn(true)
	defer txn.Abort()

	existing, err := m.first(txn, indexID, username)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("user %q: %w", username, ErrAlreadyExists)
	}
	if err := txn.Insert(userTable, newUserRow(user)); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	txn.Commit()

	m.logger.Info("User registered", map[string]any{"username": username})
	return nil
}

func (m *Mock) UpsertMfa(ctx context.Context, entity *mfa.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entity == nil || entity.ID == "" {
		return fmt.Errorf("upsert mfa: %w", mfa.ErrMissingID)
	}

	stored := *entity
	txn := m.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(mfaTable, &stored); err != nil {
		return fmt.Errorf("upsert mfa: %w", err)
	}
	txn.Commit()
	return nil
}

func (m *Mock) SearchMfa(ctx context.Context, id string) (*mfa.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	raw, err := m.db.Txn(false).First(mfaTable, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("search mfa: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	entity := *raw.(*mfa.Entity)
	return &entity, nil
}

func (m *Mock) RemoveMfa(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := m.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(mfaTable, indexID, id); err != nil {
		return fmt.Errorf("remove mfa: %w", err)
	}
	txn.Commit()
	return nil
}

// checkPassword compares against a bcrypt hash, or in constant time against
// a plain text seed password.
func checkPassword(stored, pw string) bool {
	if stored == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(pw)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(pw)) == 1
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

var _ Adapter = (*Mock)(nil)
