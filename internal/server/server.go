// Package server serves the user and role trees over LDAP, translating
// bind, search, modify and add requests into Adapter calls.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/jimlambrt/gldap"

	"github.com/isometry/ad-ldap-federation/internal/adapter"
	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
)

// Config holds the immutable settings of a Server.
type Config struct {
	// BindDN is the full DN of the administrative account.
	BindDN       string
	BindPassword string
	Attributes   *adldap.AttributeMap
}

// Server is an LDAP listener impersonating an Active Directory domain
// controller for user federation clients.
type Server struct {
	bindDN       string
	bindPassword string
	suffix       *adldap.Suffix
	attributes   *adldap.AttributeMap
	adapter      adapter.Adapter
	logger       *adldap.HCLogger

	srv *gldap.Server

	// bound maps connection IDs to the DN the connection last bound as.
	bound sync.Map

	ctx    context.Context
	cancel context.CancelFunc
}

// New validates cfg and wires the request handlers.
func New(cfg Config, store adapter.Adapter, logger *adldap.HCLogger) (*Server, error) {
	if cfg.Attributes == nil || cfg.Attributes.Suffix() == nil {
		return nil, errors.New("server: attribute map with suffix is required")
	}
	if err := adldap.ValidateDNSyntax(cfg.BindDN); err != nil {
		return nil, fmt.Errorf("server: bind DN: %w", err)
	}
	if cfg.BindPassword == "" {
		return nil, errors.New("server: bind password is required")
	}
	if store == nil {
		return nil, errors.New("server: adapter is required")
	}
	if logger == nil {
		logger = adldap.NewHCLogger(nil)
	}

	s := &Server{
		bindDN:       cfg.BindDN,
		bindPassword: cfg.BindPassword,
		suffix:       cfg.Attributes.Suffix(),
		attributes:   cfg.Attributes,
		adapter:      store,
		logger:       logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	srv, err := gldap.NewServer(
		gldap.WithLogger(logger.HCLog()),
		gldap.WithOnClose(s.onClose),
	)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	mux, err := gldap.NewMux()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	routes := []error{
		mux.Bind(s.handleBind),
		mux.Search(s.handleSearch, gldap.WithLabel("Search")),
		mux.Modify(s.handleModify, gldap.WithLabel("Modify")),
		mux.Add(s.handleAdd, gldap.WithLabel("Add")),
		mux.DefaultRoute(s.handleUnsupported),
	}
	if err := errors.Join(routes...); err != nil {
		return nil, fmt.Errorf("server routes: %w", err)
	}
	if err := srv.Router(mux); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	s.srv = srv

	return s, nil
}

// Run listens on addr and serves until Stop is called.
func (s *Server) Run(addr string) error {
	s.logger.Info("LDAP listening", map[string]any{
		"address":  addr,
		"users_dn": s.suffix.UsersDN(),
		"roles_dn": s.suffix.RolesDN(),
		"bind_dn":  s.bindDN,
	})
	return s.srv.Run(addr)
}

// Ready reports whether the listener accepts connections.
func (s *Server) Ready() bool {
	return s.srv.Ready()
}

// Stop closes the listener and all connections. Adapter calls still in
// flight see their context cancelled.
func (s *Server) Stop() error {
	s.cancel()
	return s.srv.Stop()
}

func (s *Server) onClose(connID int) {
	s.bound.Delete(connID)
	adldap.LogConnectionEvent(s.logger, "connection_closed", map[string]any{"connection_id": connID})
}

func (s *Server) boundDN(connID int) string {
	if dn, ok := s.bound.Load(connID); ok {
		return dn.(string)
	}
	return ""
}

// authorize only admits connections bound as the administrative account.
func (s *Server) authorize(r *gldap.Request, operation string) error {
	dn := s.boundDN(r.ConnectionID())
	if dn != "" && adldap.EqualDN(dn, s.bindDN) {
		return nil
	}
	return adldap.NewResultError(operation, ldap.LDAPResultInsufficientAccessRights, "").WithDN(dn)
}

type resultSetter interface {
	SetResultCode(code int)
	SetDiagnosticMessage(msg string)
}

// setResult copies the outcome of an operation onto its response.
func setResult(resp resultSetter, err error) {
	resp.SetResultCode(int(adldap.ResultCode(err)))
	if err != nil {
		resp.SetDiagnosticMessage(adldap.DiagnosticMessage(err))
	}
}

// writeFailed logs a response that could not be sent.
func (s *Server) writeFailed(err error, operation string) {
	if err != nil {
		s.logger.Warn("Writing response failed", map[string]any{"operation": operation, "error": err.Error()})
	}
}

func (s *Server) handleUnsupported(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewResponse(
		gldap.WithResponseCode(ldap.LDAPResultUnwillingToPerform),
		gldap.WithDiagnosticMessage("operation not supported"),
	)
	s.logger.Debug("Unsupported request", map[string]any{"connection_id": r.ConnectionID()})
	s.writeFailed(w.Write(resp), "unsupported")
}
