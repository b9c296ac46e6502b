package ldap

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// Logger interface for directory operations.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Trace(msg string, fields map[string]any)
}

// HCLogger adapts an hclog.Logger to the field-map Logger interface.
type HCLogger struct {
	logger hclog.Logger
}

// NewHCLogger wraps logger. A nil logger discards everything.
func NewHCLogger(logger hclog.Logger) *HCLogger {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HCLogger{logger: logger}
}

// Named returns a logger for a subsystem.
func (l *HCLogger) Named(name string) *HCLogger {
	return &HCLogger{logger: l.logger.Named(name)}
}

// HCLog exposes the underlying hclog.Logger, e.g. for libraries that accept one directly.
func (l *HCLogger) HCLog() hclog.Logger {
	return l.logger
}

func (l *HCLogger) Debug(msg string, fields map[string]any) {
	l.logger.Debug(msg, toArgs(fields)...)
}

func (l *HCLogger) Info(msg string, fields map[string]any) {
	l.logger.Info(msg, toArgs(fields)...)
}

func (l *HCLogger) Warn(msg string, fields map[string]any) {
	l.logger.Warn(msg, toArgs(fields)...)
}

func (l *HCLogger) Error(msg string, fields map[string]any) {
	l.logger.Error(msg, toArgs(fields)...)
}

func (l *HCLogger) Trace(msg string, fields map[string]any) {
	l.logger.Trace(msg, toArgs(fields)...)
}

// toArgs flattens fields into hclog key/value pairs, ordered by key.
func toArgs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}

	args := make([]any, 0, len(fields)*2)
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, k, fields[k])
	}
	return args
}

// LogOperation is a helper function to log an operation with timing.
func LogOperation(logger Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	logger.Trace("Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		LogLDAPError(logger, operation, err, fields)
	} else {
		logger.Debug("Operation completed successfully", fields)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information. Failures a client caused
// (bad credentials, refused changes) are logged at info level, everything else
// as an error.
func LogLDAPError(logger Logger, operation string, err error, fields map[string]any) {
	out := make(map[string]any, len(fields)+4)
	maps.Copy(out, fields)

	out["operation"] = operation
	out["error"] = err.Error()
	out["ldap_result_code"] = ResultCode(err)

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) && ldapErr.DN != "" {
		out["ldap_dn"] = ldapErr.DN
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) && resultErr.MatchedDN != "" {
		out["ldap_matched_dn"] = resultErr.MatchedDN
	}

	out = SanitizeFields(out)

	switch GetErrorCategory(err) {
	case ErrorCategoryServer, ErrorCategoryUnknown:
		logger.Error("LDAP operation failed", out)
	default:
		logger.Info("LDAP operation refused", out)
	}
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(logger Logger, event string, fields map[string]any) {
	out := make(map[string]any, len(fields)+1)
	maps.Copy(out, fields)
	out["event"] = event

	switch event {
	case "connection_closed", "authentication_success":
		logger.Debug("Connection event", out)
	case "authentication_failed":
		logger.Info("Connection event", out)
	default:
		logger.Trace("Connection event", out)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any)

	sensitiveKeys := map[string]bool{
		"password":     true,
		"passwd":       true,
		"secret":       true,
		"token":        true,
		"code":         true,
		"unicodepwd":   true,
		"userpassword": true,
		"credential":   true,
		"credentials":  true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
		} else if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}

	return sanitized
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"unicodepwd=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}
