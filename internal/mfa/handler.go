package mfa

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/creasty/defaults"
	"github.com/felixge/httpsnoop"

	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
)

const maxBodyBytes = 1 << 20

// Store persists code entities by destination.
type Store interface {
	// SearchMfa returns nil and no error when id has no entity.
	SearchMfa(ctx context.Context, id string) (*Entity, error)
	UpsertMfa(ctx context.Context, entity *Entity) error
	RemoveMfa(ctx context.Context, id string) error
}

// DeliverFunc sends a code to its destination. The message holds the
// request body plus "destination" and "code". Returning an *Error renders
// that error to the client.
type DeliverFunc func(ctx context.Context, message map[string]any) error

// HandlerOptions configures the HTTP handler.
type HandlerOptions struct {
	// IDProp is the body property holding the destination.
	IDProp string `default:"phoneNumber"`
	// IDPropAlt is used when IDProp is absent.
	IDPropAlt string `default:"email"`
	// Engine replaces DefaultOptions when set.
	Engine *Options
	// BasicAuth maps user names to passwords. Empty disables authentication.
	BasicAuth map[string]string
}

var (
	errNonceMissing = &Error{Code: "Nonce missing", Status: http.StatusBadRequest}
	errInvalidBody  = &Error{Code: "invalid_body", Status: http.StatusBadRequest}
	errUnauthorized = &Error{Code: "unauthorized", Status: http.StatusUnauthorized}
	errNotFound     = &Error{Code: "not_found", Status: http.StatusNotFound}
)

type errorResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error,omitempty"`
	Status    int    `json:"status"`
}

// Handler serves code issuance (POST /) and verification (PUT / and
// PUT /verify).
type Handler struct {
	engine    *Engine
	store     Store
	deliver   DeliverFunc
	idProp    string
	idPropAlt string
	basicAuth map[string]string
	logger    adldap.Logger
	mux       *http.ServeMux
}

// NewHandler builds the MFA HTTP handler.
func NewHandler(store Store, deliver DeliverFunc, opts HandlerOptions, logger adldap.Logger, engineOpts ...EngineOption) (*Handler, error) {
	if store == nil {
		return nil, errors.New("mfa handler: store is required")
	}
	if deliver == nil {
		return nil, errors.New("mfa handler: deliver function is required")
	}
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("mfa handler options: %w", err)
	}
	engineOptions := DefaultOptions()
	if opts.Engine != nil {
		engineOptions = *opts.Engine
	}
	engine, err := NewEngine(engineOptions, engineOpts...)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = adldap.NewHCLogger(nil)
	}

	h := &Handler{
		engine:    engine,
		store:     store,
		deliver:   deliver,
		idProp:    opts.IDProp,
		idPropAlt: opts.IDPropAlt,
		basicAuth: opts.BasicAuth,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /{$}", h.handleSend)
	h.mux.HandleFunc("PUT /{$}", h.handleVerify)
	h.mux.HandleFunc("PUT /verify", h.handleVerify)
	h.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, nil, errNotFound)
	})

	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m := httpsnoop.CaptureMetrics(http.HandlerFunc(h.serve), w, r)
	h.logger.Debug("HTTP request", map[string]any{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status":      m.Code,
		"bytes":       m.Written,
		"duration_ms": m.Duration.Milliseconds(),
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	if len(h.basicAuth) > 0 && !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="mfa"`)
		h.writeError(w, r, nil, errUnauthorized)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	want, found := h.basicAuth[user]
	if !found {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(pass)) == 1
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		h.writeError(w, r, body, err)
		return
	}

	destination := h.destination(body)
	if destination == "" {
		h.writeError(w, r, body, ErrMissingID)
		return
	}

	ctx := r.Context()
	existing, err := h.store.SearchMfa(ctx, destination)
	if err != nil {
		h.writeError(w, r, body, fmt.Errorf("search code: %w", err))
		return
	}

	entity, createErr := h.engine.Create(destination, existing)
	if entity != nil {
		if err := h.store.UpsertMfa(ctx, entity); err != nil {
			h.writeError(w, r, body, fmt.Errorf("store code: %w", err))
			return
		}
	}
	if createErr != nil {
		h.writeError(w, r, body, createErr)
		return
	}

	message := make(map[string]any, len(body)+2)
	for k, v := range body {
		message[k] = v
	}
	message["destination"] = destination
	message["code"] = entity.Code

	if err := h.deliver(ctx, message); err != nil {
		h.writeError(w, r, body, fmt.Errorf("deliver code: %w", err))
		return
	}

	status := http.StatusCreated
	if entity.RetryCount > 0 {
		status = http.StatusOK
	}
	resp := map[string]any{"destination": destination}
	if nonce, ok := body["nonce"]; ok {
		resp["nonce"] = nonce
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		h.writeError(w, r, body, err)
		return
	}

	nonce, _ := body["nonce"].(string)
	if nonce == "" {
		h.writeError(w, r, body, errNonceMissing)
		return
	}

	destination := h.destination(body)
	code, _ := body["code"].(string)

	ctx := r.Context()
	var existing *Entity
	if destination != "" {
		existing, err = h.store.SearchMfa(ctx, destination)
		if err != nil {
			h.writeError(w, r, body, fmt.Errorf("search code: %w", err))
			return
		}
	}

	entity, verifyErr := h.engine.Verify(destination, existing, code)
	switch {
	case entity != nil:
		err = h.store.UpsertMfa(ctx, entity)
	case existing != nil:
		err = h.store.RemoveMfa(ctx, destination)
	}
	if err != nil {
		h.writeError(w, r, body, fmt.Errorf("store code: %w", err))
		return
	}
	if verifyErr != nil {
		h.writeError(w, r, body, verifyErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"nonce": nonce})
}

func (h *Handler) destination(body map[string]any) string {
	if id, ok := body[h.idProp].(string); ok && id != "" {
		return id
	}
	if id, ok := body[h.idPropAlt].(string); ok {
		return id
	}
	return ""
}

// writeError renders err. Errors that are not an *Error, or carry a status
// of 500 or above, are reported as server_error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, body map[string]any, err error) {
	resp := errorResponse{
		RequestID: r.Header.Get("X-Request-Id"),
		Status:    http.StatusInternalServerError,
		Error:     "server_error",
	}

	var mfaErr *Error
	if errors.As(err, &mfaErr) {
		resp.Status = mfaErr.Status
		if mfaErr.Status < http.StatusInternalServerError {
			resp.Error = mfaErr.Code
		}
	}

	fields := map[string]any{
		"request_id": resp.RequestID,
		"status":     resp.Status,
		"error":      err.Error(),
	}
	if body != nil {
		fields["destination"] = h.destination(body)
	}
	if resp.Status >= http.StatusInternalServerError {
		h.logger.Error("MFA request failed", fields)
	} else {
		h.logger.Info("MFA request rejected", fields)
	}

	writeJSON(w, resp.Status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	if r.Body == nil {
		return body, nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
