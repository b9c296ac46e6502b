package adapter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/isometry/ad-ldap-federation/internal/account"
	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
	"github.com/isometry/ad-ldap-federation/internal/mfa"
	"github.com/isometry/ad-ldap-federation/internal/password"
)

var testNow = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newTestMock(t *testing.T, users []adldap.User) *Mock {
	t.Helper()
	acct, err := account.New(account.DefaultOptions(), account.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	m, err := NewMock(acct, users, nil, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return m
}

func TestMock_Search(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, SeedUsers())

	tests := []struct {
		name     string
		search   func() (adldap.User, error)
		wantUser string
		wantErr  error
	}{
		{
			name:     "username",
			search:   func() (adldap.User, error) { return m.SearchUsername(ctx, "alice") },
			wantUser: "alice",
		},
		{
			name:    "unknown username",
			search:  func() (adldap.User, error) { return m.SearchUsername(ctx, "unknown") },
			wantErr: ErrNotFound,
		},
		{
			name:    "empty username",
			search:  func() (adldap.User, error) { return m.SearchUsername(ctx, "") },
			wantErr: ErrNotFound,
		},
		{
			name:     "mail",
			search:   func() (adldap.User, error) { return m.SearchMail(ctx, "bob.builder@my.local") },
			wantUser: "bob",
		},
		{
			name:     "mail ignores case",
			search:   func() (adldap.User, error) { return m.SearchMail(ctx, "Bob.Builder@MY.local") },
			wantUser: "bob",
		},
		{
			name:     "objectGUID",
			search:   func() (adldap.User, error) { return m.SearchGUID(ctx, "f17beb47-7ab2-445b-97df-864e118d9d34") },
			wantUser: "charly",
		},
		{
			name:    "unknown objectGUID",
			search:  func() (adldap.User, error) { return m.SearchGUID(ctx, "00000000-0000-0000-0000-000000000000") },
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := tt.search()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, user)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, user.String(adldap.FieldUsername))
			assert.Equal(t, user[adldap.FieldObjectGUID], user[adldap.FieldUID])
			assert.Equal(t, adldap.PwdLastSetOK, user.Int64(adldap.FieldPwdLastSet, 99))
		})
	}
}

func TestMock_SearchReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, SeedUsers())

	user, err := m.SearchUsername(ctx, "alice")
	require.NoError(t, err)
	user[adldap.FieldMail] = "changed@my.local"

	again, err := m.SearchUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice.adams@my.local", again.String(adldap.FieldMail))
}

func TestMock_SearchSn(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, SeedUsers())

	users, err := m.SearchSn(ctx, "Adams")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].String(adldap.FieldUsername))

	users, err = m.SearchSn(ctx, "Nobody")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestMock_SearchRole(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, SeedUsers())

	tests := []struct {
		name    string
		role    string
		want    []string
		wantErr error
	}{
		{name: "known role", role: "test:write", want: []string{"test:write"}},
		{name: "unknown role", role: "unknown", wantErr: ErrNotFound},
		{name: "default roles", role: "default-roles-myrealm", want: DefaultRoles},
		{name: "default roles pattern is lower case only", role: "default-roles-MyRealm", wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roles, err := m.SearchRole(ctx, tt.role)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, roles)
		})
	}
}

func TestMock_Sync(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, SeedUsers())

	users, err := m.SyncAllUsers(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.String(adldap.FieldUsername))
	}
	assert.Equal(t, []string{"alice", "bob", "charly"}, names)

	roles, err := m.SyncAllRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, SeedRoles, roles)
}

func TestMock_ExpiredUsersAreInvisible(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, []adldap.User{
		{adldap.FieldUsername: "gone", adldap.FieldName: "Past", adldap.FieldAccountExpiresAt: testNow.Add(-time.Hour).UnixMilli()},
		{adldap.FieldUsername: "here", adldap.FieldName: "Past", adldap.FieldAccountExpiresAt: testNow.Add(time.Hour).UnixMilli()},
	})

	_, err := m.SearchUsername(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.SearchUsername(ctx, "here")
	assert.NoError(t, err)

	users, err := m.SearchSn(ctx, "Past")
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = m.VerifyPassword(ctx, "gone", "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMock_VerifyPassword(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, SeedUsers())

	valid, err := m.VerifyPassword(ctx, "alice", "alice")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = m.VerifyPassword(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.False(t, valid)

	user, err := m.SearchUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.Int64(adldap.FieldBadPwdCount, 0))
	assert.Equal(t, testNow.UnixMilli(), user.Int64(adldap.FieldBadPasswordTime, 0))
	assert.Equal(t, testNow.UnixMilli(), user.Int64(adldap.FieldLastLoginAt, 0))

	_, err = m.VerifyPassword(ctx, "unknown", "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMock_UpdatePassword(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, SeedUsers())

	require.NoError(t, m.UpdatePassword(ctx, "alice", "secret"))

	valid, err := m.VerifyPassword(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = m.VerifyPassword(ctx, "alice", "alice")
	require.NoError(t, err)
	assert.False(t, valid)

	user, err := m.SearchUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(user.String(adldap.FieldUserPassword), "$2"))

	err = m.UpdatePassword(ctx, "alice", "AB")
	ve, ok := password.IsValidationError(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Equal(t, password.ReasonMinLength, ve.Reason)

	err = m.UpdatePassword(ctx, "alice", "x+1180180180")
	ve, ok = password.IsValidationError(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Equal(t, password.ReasonNotPhone, ve.Reason)

	assert.ErrorIs(t, m.UpdatePassword(ctx, "unknown", "secret"), ErrNotFound)
}

func TestMock_RegisterAndUpdateAttributes(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, SeedUsers())

	require.NoError(t, m.Register(ctx, "denis"))
	assert.ErrorIs(t, m.Register(ctx, "denis"), ErrAlreadyExists)
	assert.ErrorIs(t, m.Register(ctx, "alice"), ErrAlreadyExists)

	err := m.UpdateAttributes(ctx, "denis", adldap.User{
		adldap.FieldMail:       "denis@my.local",
		adldap.FieldFirstName:  "Denis",
		adldap.FieldName:       "Daffet",
		adldap.FieldPwdLastSet: adldap.PwdLastSetUpdateOnNextLogin,
		adldap.FieldUsername:   "renamed",
	})
	require.NoError(t, err)

	user, err := m.SearchMail(ctx, "denis@my.local")
	require.NoError(t, err)
	assert.Equal(t, "denis", user.String(adldap.FieldUsername))
	assert.Equal(t, "Denis", user.String(adldap.FieldFirstName))
	assert.Equal(t, adldap.PwdLastSetUpdateOnNextLogin, user.Int64(adldap.FieldPwdLastSet, 99))
	assert.Equal(t, testNow.UnixMilli(), user.Int64(adldap.FieldUpdatedAt, 0))

	_, err = m.SearchUsername(ctx, "renamed")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.UpdatePassword(ctx, "denis", "secret_d"))
	user, err = m.SearchUsername(ctx, "denis")
	require.NoError(t, err)
	assert.Equal(t, adldap.PwdLastSetOK, user.Int64(adldap.FieldPwdLastSet, 99))

	assert.ErrorIs(t, m.UpdateAttributes(ctx, "unknown", adldap.User{}), ErrNotFound)
}

func TestMock_Mfa(t *testing.T) {
	ctx := context.Background()
	m := newTestMock(t, nil)
	entity := &mfa.Entity{ID: "alice.adams@my.local", Code: "123456", ExpiresAt: 1000}

	require.NoError(t, m.UpsertMfa(ctx, entity))

	found, err := m.SearchMfa(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, entity, found)

	entity.VerifyCount = 1
	require.NoError(t, m.UpsertMfa(ctx, entity))
	found, err = m.SearchMfa(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.VerifyCount)

	found, err = m.SearchMfa(ctx, "not-there")
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, m.RemoveMfa(ctx, entity.ID))
	found, err = m.SearchMfa(ctx, entity.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	assert.Error(t, m.UpsertMfa(ctx, &mfa.Entity{}))
}

func TestMock_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newTestMock(t, SeedUsers())

	_, err := m.SearchUsername(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, m.Register(ctx, "eve"), context.Canceled)
}

func TestNewMock_RejectsUsersWithoutUsername(t *testing.T) {
	acct, err := account.New(account.DefaultOptions())
	require.NoError(t, err)

	_, err = NewMock(acct, []adldap.User{{adldap.FieldMail: "x@y.z"}}, nil)
	assert.ErrorIs(t, err, adldap.ErrMissingUsername)

	_, err = NewMock(nil, nil, nil)
	assert.Error(t, err)
}
