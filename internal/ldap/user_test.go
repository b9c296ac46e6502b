package ldap

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_Accessors(t *testing.T) {
	u := User{
		FieldUsername:           "alice",
		FieldMemberOf:           []string{"test:read", "test:write"},
		FieldUserAccountControl: int64(512),
		FieldPwdLastSet:         nil,
		FieldEmailVerified:      true,
	}

	assert.True(t, u.Has(FieldUsername))
	assert.False(t, u.Has(FieldPwdLastSet))
	assert.False(t, u.Has(FieldMail))

	assert.Equal(t, "alice", u.String(FieldUsername))
	assert.Equal(t, "true", u.String(FieldEmailVerified))
	assert.Equal(t, "", u.String(FieldMail))
	assert.Equal(t, []string{"test:read", "test:write"}, u.Strings(FieldMemberOf))
	assert.Equal(t, []string{"alice"}, u.Strings(FieldUsername))
	assert.Nil(t, u.Strings(FieldMail))

	assert.Equal(t, int64(512), u.Int64(FieldUserAccountControl, 0))
	assert.Equal(t, int64(-1), u.Int64(FieldPwdLastSet, -1))
	assert.Equal(t, int64(7), u.Int64(FieldUsername, 7))
}

func TestUser_CloneAndMerge(t *testing.T) {
	u := User{FieldUsername: "alice", FieldMemberOf: []string{"test:read"}}

	c := u.Clone()
	c[FieldMemberOf].([]string)[0] = "changed"
	c[FieldMail] = "alice@my.local"
	assert.Equal(t, []string{"test:read"}, u[FieldMemberOf])
	assert.False(t, u.Has(FieldMail))

	merged := u.Merge(map[string]any{FieldMail: "alice@my.local", FieldUsername: "alicia"})
	assert.Equal(t, "alicia", merged.String(FieldUsername))
	assert.Equal(t, "alice@my.local", merged.String(FieldMail))
	assert.Equal(t, "alice", u.String(FieldUsername))

	var empty User
	assert.Nil(t, empty.Clone())
	assert.Equal(t, User{FieldMail: "x"}, empty.Merge(map[string]any{FieldMail: "x"}))
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{name: "int", in: 3, want: 3},
		{name: "int64", in: int64(-1), want: -1},
		{name: "float", in: 2.9, want: 2},
		{name: "nan", in: math.NaN(), want: 42},
		{name: "json number", in: json.Number("512"), want: 512},
		{name: "string", in: " 66048 ", want: 66048},
		{name: "float string", in: "1.5", want: 1},
		{name: "garbage", in: "##", want: 42},
		{name: "nil", in: nil, want: 42},
		{name: "bool", in: true, want: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToNumber(tt.in, 42))
		})
	}
}

func TestToString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "x", want: "x"},
		{name: "bytes", in: []byte("y"), want: "y"},
		{name: "bool", in: false, want: "false"},
		{name: "int64", in: int64(512), want: "512"},
		{name: "float", in: 1.5, want: "1.5"},
		{name: "list", in: []string{"a", "b"}, want: "a,b"},
		{name: "map", in: map[string]int{"a": 1}, want: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToString(tt.in))
		})
	}
}
