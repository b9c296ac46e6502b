package server

import (
	"crypto/subtle"
	"errors"

	"github.com/go-ldap/ldap/v3"
	"github.com/jimlambrt/gldap"

	"github.com/isometry/ad-ldap-federation/internal/adapter"
	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
)

// handleBind authenticates the administrative account and end users. The
// connection is anonymous again after a failed bind.
func (s *Server) handleBind(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewBindResponse(gldap.WithResponseCode(ldap.LDAPResultInvalidCredentials))
	defer func() {
		s.writeFailed(w.Write(resp), "bind")
	}()

	connID := r.ConnectionID()
	s.bound.Delete(connID)

	m, err := r.GetSimpleBindMessage()
	if err != nil {
		setResult(resp, adldap.NewResultError("bind", ldap.LDAPResultAuthMethodNotSupported, "only simple bind is supported").WithCause(err))
		return
	}

	fields := map[string]any{"connection_id": connID, "dn": m.UserName}
	err = adldap.LogOperation(s.logger, "bind", fields, func() error {
		dn, err := s.bind(m)
		if err != nil {
			return err
		}
		if dn != "" {
			s.bound.Store(connID, dn)
		}
		return nil
	})
	setResult(resp, err)

	if err != nil {
		adldap.LogConnectionEvent(s.logger, "authentication_failed", fields)
	} else {
		adldap.LogConnectionEvent(s.logger, "authentication_success", fields)
	}
}

// bind returns the DN the connection is now bound as, empty for anonymous.
// Unknown users and wrong passwords fail alike.
func (s *Server) bind(m *gldap.SimpleBindMessage) (string, error) {
	invalid := adldap.NewResultError("bind", ldap.LDAPResultInvalidCredentials, "").WithDN(m.UserName)
	pw := string(m.Password)

	if m.AuthChoice != gldap.SimpleAuthChoice {
		return "", invalid
	}

	switch {
	case m.UserName == "" && pw == "":
		return "", nil

	case adldap.EqualDN(m.UserName, s.bindDN):
		if subtle.ConstantTimeCompare([]byte(pw), []byte(s.bindPassword)) != 1 {
			return "", invalid
		}
		return s.bindDN, nil

	case s.suffix.IsUsersDN(m.UserName):
		username, ok := adldap.UsernameFromDN(m.UserName)
		if !ok || pw == "" {
			return "", invalid
		}
		valid, err := s.adapter.VerifyPassword(s.ctx, username, pw)
		if err != nil {
			if !errors.Is(err, adapter.ErrNotFound) {
				s.logger.Warn("Password verification failed", map[string]any{
					"username": username,
					"error":    err.Error(),
				})
			}
			return "", invalid
		}
		if !valid {
			return "", invalid
		}
		return m.UserName, nil
	}

	return "", invalid
}
