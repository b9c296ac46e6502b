package ldap

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
)

func TestNewLDAPError(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		err       error
		wantNil   bool
		wantCode  uint16
	}{
		{
			name:      "nil error",
			operation: "search",
			err:       nil,
			wantNil:   true,
		},
		{
			name:      "ldap error",
			operation: "bind",
			err:       ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("bad password")),
			wantCode:  ldap.LDAPResultInvalidCredentials,
		},
		{
			name:      "generic error",
			operation: "search",
			err:       errors.New("store unavailable"),
			wantCode:  ldap.LDAPResultOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewLDAPError(tt.operation, tt.err)

			if tt.wantNil {
				if result != nil {
					t.Errorf("NewLDAPError() = %v, want nil", result)
				}
				return
			}

			if result == nil {
				t.Fatal("NewLDAPError() = nil, want non-nil")
			}

			if result.Operation != tt.operation {
				t.Errorf("Operation = %s, want %s", result.Operation, tt.operation)
			}

			if result.Cause != tt.err {
				t.Errorf("Cause = %v, want %v", result.Cause, tt.err)
			}

			if result.LDAPCode != tt.wantCode {
				t.Errorf("LDAPCode = %d, want %d", result.LDAPCode, tt.wantCode)
			}
		})
	}
}

func TestLDAPError_Error(t *testing.T) {
	tests := []struct {
		name    string
		ldapErr *LDAPError
		want    string
	}{
		{
			name: "basic error",
			ldapErr: &LDAPError{
				Operation: "search",
				Message:   "operation failed",
			},
			want: "LDAP search failed - operation failed",
		},
		{
			name: "error with code",
			ldapErr: &LDAPError{
				Operation: "bind",
				LDAPCode:  ldap.LDAPResultInvalidCredentials,
				Message:   "authentication failed",
			},
			want: "LDAP bind failed (code 49) - authentication failed",
		},
		{
			name: "error with cause",
			ldapErr: &LDAPError{
				Operation: "add",
				Message:   "entry exists",
				Cause:     errors.New("user already exists"),
			},
			want: "LDAP add failed - entry exists - cause: user already exists",
		},
		{
			name: "error with DN",
			ldapErr: &LDAPError{
				Operation: "modify",
				Message:   "access denied",
				DN:        "cn=alice,cn=Users,dc=example,dc=local",
			},
			want: "LDAP modify failed - access denied - DN: cn=alice,cn=Users,dc=example,dc=local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ldapErr.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		code uint16
		want ErrorCategory
	}{
		{
			name: "authentication error",
			code: ldap.LDAPResultInvalidCredentials,
			want: ErrorCategoryAuthentication,
		},
		{
			name: "permission error",
			code: ldap.LDAPResultInsufficientAccessRights,
			want: ErrorCategoryPermission,
		},
		{
			name: "not found error",
			code: ldap.LDAPResultNoSuchObject,
			want: ErrorCategoryNotFound,
		},
		{
			name: "conflict error",
			code: ldap.LDAPResultEntryAlreadyExists,
			want: ErrorCategoryConflict,
		},
		{
			name: "validation error",
			code: ldap.LDAPResultConstraintViolation,
			want: ErrorCategoryValidation,
		},
		{
			name: "protocol error",
			code: ldap.LDAPResultProtocolError,
			want: ErrorCategoryProtocol,
		},
		{
			name: "server error",
			code: ldap.LDAPResultOther,
			want: ErrorCategoryServer,
		},
		{
			name: "unknown error",
			code: 9999,
			want: ErrorCategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := categorizeError(tt.code)
			if got != tt.want {
				t.Errorf("categorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResultCodeAndDiagnostic(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode uint16
		wantMsg  string
	}{
		{
			name:     "nil",
			err:      nil,
			wantCode: ldap.LDAPResultSuccess,
			wantMsg:  "",
		},
		{
			name:     "result error with message",
			err:      NewResultError("modify", ldap.LDAPResultUnwillingToPerform, "only replace allowed"),
			wantCode: ldap.LDAPResultUnwillingToPerform,
			wantMsg:  "only replace allowed",
		},
		{
			name:     "result error without message",
			err:      NewResultError("bind", ldap.LDAPResultInvalidCredentials, ""),
			wantCode: ldap.LDAPResultInvalidCredentials,
			wantMsg:  "Invalid credentials",
		},
		{
			name:     "wrapped result error",
			err:      fmt.Errorf("handling request: %w", NewResultError("add", ldap.LDAPResultEntryAlreadyExists, "")),
			wantCode: ldap.LDAPResultEntryAlreadyExists,
			wantMsg:  "Entry already exists",
		},
		{
			name:     "go-ldap error",
			err:      ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("missing")),
			wantCode: ldap.LDAPResultNoSuchObject,
			wantMsg:  "Requested object does not exist",
		},
		{
			name:     "generic error",
			err:      errors.New("boom"),
			wantCode: ldap.LDAPResultOther,
			wantMsg:  "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultCode(tt.err); got != tt.wantCode {
				t.Errorf("ResultCode() = %d, want %d", got, tt.wantCode)
			}
			if got := DiagnosticMessage(tt.err); got != tt.wantMsg {
				t.Errorf("DiagnosticMessage() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestGetErrorCategory(t *testing.T) {
	if got := GetErrorCategory(NewResultError("search", ldap.LDAPResultNoSuchObject, "")); got != ErrorCategoryNotFound {
		t.Errorf("GetErrorCategory(no such object) = %v, want %v", got, ErrorCategoryNotFound)
	}
	if got := GetErrorCategory(NewResultError("add", ldap.LDAPResultEntryAlreadyExists, "")); got != ErrorCategoryConflict {
		t.Errorf("GetErrorCategory(already exists) = %v, want %v", got, ErrorCategoryConflict)
	}
	if got := GetErrorCategory(NewResultError("bind", ldap.LDAPResultInvalidCredentials, "")); got != ErrorCategoryAuthentication {
		t.Errorf("GetErrorCategory(invalid credentials) = %v, want %v", got, ErrorCategoryAuthentication)
	}
	if GetErrorCategory(nil) != ErrorCategoryUnknown {
		t.Error("GetErrorCategory(nil) should be unknown")
	}
	if GetErrorCategory(errors.New("user not found")) != ErrorCategoryNotFound {
		t.Error("GetErrorCategory(generic not found) should be not_found")
	}
}
