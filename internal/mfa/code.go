// Package mfa issues and verifies short-lived one-time codes that are
// delivered out of band (mail, SMS) and exposes them over HTTP.
package mfa

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

)

// CodeType selects the alphabet codes are drawn from.
type CodeType int

const (
	Numeric CodeType = iota
	AlphaNumeric
	// AlphaNumericUpper mixes cases and leaves out 0, O, I and l.
	AlphaNumericUpper
)

var symbols = map[CodeType]string{
	Numeric:           "0123456789",
	AlphaNumeric:      "0123456789abcdefghijklmnopqrstuvwxyz",
	AlphaNumericUpper: "123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ",
}

// Error is a code engine failure with the HTTP status it maps to.
type Error struct {
	Code   string
	Status int
}

func (e *Error) Error() string {
	return e.Code
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrMissingID   = &Error{Code: "missing_id", Status: http.StatusBadRequest}
	ErrMaxRetries  = &Error{Code: "max_retries", Status: http.StatusBadRequest}
	ErrInvalidID   = &Error{Code: "invalid_id", Status: http.StatusNotFound}
	ErrExpired     = &Error{Code: "mfa_expired", Status: http.StatusForbidden}
	ErrInvalidCode = &Error{Code: "mfa_invalid", Status: http.StatusForbidden}
	ErrMaxVerified = &Error{Code: "max_verified", Status: http.StatusForbidden}
)

// Entity is the persisted state of one destination's code.
type Entity struct {
	ID          string `json:"id"`
	Code        string `json:"code,omitempty"`
	ExpiresAt   int64  `json:"expiresAt"` // epoch milliseconds
	RetryCount  int    `json:"retryCount"`
	VerifyCount int    `json:"verifyCount"`
}

// Options configures an Engine. Values are used as given; start from
// DefaultOptions to override single values. Zero retry or verify limits
// allow exactly one code or one attempt.
type Options struct {
	ValidFor       time.Duration
	Length         int
	Type           CodeType
	MaxRetryCount  int
	MaxVerifyCount int
}

// DefaultOptions returns six digit codes valid for five minutes, with two
// resends and two failed attempts allowed.
func DefaultOptions() Options {
	return Options{
		ValidFor:       5 * time.Minute,
		Length:         6,
		Type:           Numeric,
		MaxRetryCount:  2,
		MaxVerifyCount: 2,
	}
}

// Engine implements the code state machine. It holds no per-destination
// state; callers persist the entities it returns.
type Engine struct {
	opts Options
	now  func() time.Time
}

// EngineOption configures optional Engine behaviour.
type EngineOption func(*Engine)

// WithClock replaces the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine validates opts and returns an Engine.
func NewEngine(opts Options, optFns ...EngineOption) (*Engine, error) {
	if _, ok := symbols[opts.Type]; !ok {
		return nil, fmt.Errorf("mfa options: unknown code type %d", opts.Type)
	}
	if opts.Length < 1 || opts.ValidFor <= 0 || opts.MaxRetryCount < 0 || opts.MaxVerifyCount < 0 {
		return nil, fmt.Errorf("mfa options: invalid values %+v", opts)
	}

	e := &Engine{opts: opts, now: time.Now}
	for _, fn := range optFns {
		fn(e)
	}
	return e, nil
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Create issues a new code for id, continuing from existing when a code was
// issued before. Once the retry limit is passed it returns ErrMaxRetries
// together with an entity whose retry counter is reset and whose code is
// unchanged; that entity must still be persisted.
func (e *Engine) Create(id string, existing *Entity) (*Entity, error) {
	if id == "" {
		return nil, ErrMissingID
	}

	var entity Entity
	if existing != nil {
		entity = *existing
	} else {
		entity = Entity{ID: id, RetryCount: -1}
	}
	entity.RetryCount++

	if entity.RetryCount > e.opts.MaxRetryCount {
		entity.RetryCount = 0
		return &entity, ErrMaxRetries
	}

	code, err := GenerateCode(e.opts.Length, e.opts.Type)
	if err != nil {
		return nil, err
	}
	entity.Code = code
	entity.ExpiresAt = e.now().Add(e.opts.ValidFor).UnixMilli()

	return &entity, nil
}

// Verify checks value against the code stored in entity. A nil entity and
// a nil error mean the code was accepted and the persisted entity must be
// removed. A nil entity with ErrExpired also means removal. Otherwise the
// returned entity replaces the persisted one.
func (e *Engine) Verify(id string, entity *Entity, value string) (*Entity, error) {
	if id == "" || entity == nil || entity.ID != id {
		return nil, ErrInvalidID
	}
	if entity.ExpiresAt < e.now().UnixMilli() {
		return nil, ErrExpired
	}

	changed := *entity
	var err error
	if !codesEqual(entity.Code, strings.TrimSpace(value)) {
		err = ErrInvalidCode
		changed.VerifyCount++
	}
	if changed.VerifyCount > e.opts.MaxVerifyCount {
		err = ErrMaxVerified
	}
	if err == nil {
		return nil, nil
	}
	return &changed, err
}

// GenerateCode returns a random code of length characters from the
// alphabet of typ.
func GenerateCode(length int, typ CodeType) (string, error) {
	alphabet, ok := symbols[typ]
	if !ok {
		return "", fmt.Errorf("unknown code type %d", typ)
	}

	limit := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(length)
	for range length {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

func codesEqual(code, value string) bool {
	if code == "" || len(code) != len(value) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(value)) == 1
}
