package server

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/jimlambrt/gldap"

	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
	"github.com/isometry/ad-ldap-federation/internal/password"
)

const attributeUpdateFailed = "attribute update failed"

func (s *Server) handleModify(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewModifyResponse(gldap.WithResponseCode(gldap.ResultSuccess))
	defer func() {
		s.writeFailed(w.Write(resp), "modify")
	}()

	m, err := r.GetModifyMessage()
	if err != nil {
		setResult(resp, adldap.NewResultError("modify", ldap.LDAPResultProtocolError, "not a modify request").WithCause(err))
		return
	}

	fields := map[string]any{
		"connection_id": r.ConnectionID(),
		"dn":            m.DN,
		"changes":       len(m.Changes),
	}
	err = adldap.LogOperation(s.logger, "modify", fields, func() error {
		switch {
		case s.suffix.IsUsersDN(m.DN):
			if err := s.authorize(r, "modify"); err != nil {
				return err
			}
			return s.modifyUser(m)
		case s.suffix.IsRolesDN(m.DN):
			if err := s.authorize(r, "modify"); err != nil {
				return err
			}
			s.modifyRole(m)
			return nil
		default:
			return adldap.NewResultError("modify", ldap.LDAPResultNoSuchObject, "").WithDN(m.DN)
		}
	})
	setResult(resp, err)
}

// modifyUser applies replace-only changes to a user. A new password is
// stored first; all other attributes follow in one update. When an
// attribute is replaced more than once in a request the first value wins.
func (s *Server) modifyUser(m *gldap.ModifyMessage) error {
	username := modifyTarget(m.DN)
	if username == "" || adldap.EqualDN(m.DN, s.suffix.UsersDN()) {
		return adldap.NewResultError("modify", ldap.LDAPResultNoSuchObject, "").WithDN(m.DN)
	}
	if len(m.Changes) == 0 {
		return adldap.NewResultError("modify", ldap.LDAPResultProtocolError, "changes required").WithDN(m.DN)
	}

	var (
		newPassword    string
		hasNewPassword bool
		attributes     map[string][]string
	)

	for _, change := range m.Changes {
		if change.Operation != gldap.ReplaceAttribute {
			return adldap.NewResultError("modify", ldap.LDAPResultUnwillingToPerform, "only replace allowed").WithDN(m.DN)
		}

		attr := strings.ToLower(change.Modification.Type)
		values := change.Modification.Vals
		if attr == "" || len(values) == 0 {
			return adldap.NewResultError("modify", ldap.LDAPResultUnwillingToPerform, "replace with missing value not allowed").WithDN(m.DN)
		}

		switch attr {
		case "unicodepwd":
			decoded, err := adldap.DecodeUnicodePwd([]byte(values[0]))
			if err != nil {
				return adldap.NewResultError("modify", ldap.LDAPResultUnwillingToPerform, adldap.PasswordRestrictionsPrefix).WithDN(m.DN).WithCause(err)
			}
			newPassword, hasNewPassword = decoded, true
		case "userpassword":
			newPassword, hasNewPassword = values[0], true
		default:
			if attributes == nil {
				attributes = map[string][]string{}
			}
			if _, seen := attributes[attr]; !seen {
				attributes[attr] = []string{values[0]}
			}
		}
	}

	if hasNewPassword {
		if err := s.adapter.UpdatePassword(s.ctx, username, newPassword); err != nil {
			msg := adldap.PasswordRestrictionsPrefix
			if ve, ok := password.IsValidationError(err); ok {
				msg += ve.Reason
			}
			return adldap.NewResultError("modify", ldap.LDAPResultUnwillingToPerform, msg).WithDN(m.DN).WithCause(err)
		}
	}

	if len(attributes) == 0 {
		return nil
	}

	mapper, err := s.attributes.NewMapper(nil)
	if err != nil {
		return adldap.NewResultError("modify", ldap.LDAPResultUnwillingToPerform, attributeUpdateFailed).WithCause(err)
	}
	changes := mapper.Update(attributes, false).Get()
	if len(changes) == 0 {
		return nil
	}
	if err := s.adapter.UpdateAttributes(s.ctx, username, changes); err != nil {
		return adldap.NewResultError("modify", ldap.LDAPResultUnwillingToPerform, attributeUpdateFailed).WithDN(m.DN).WithCause(err)
	}
	s.logger.Info("Attributes updated", map[string]any{"username": username, "attributes": len(changes)})
	return nil
}

// modifyTarget returns the username named by the leading cn or
// sAMAccountName RDN of dn.
func modifyTarget(dn string) string {
	for _, attrType := range []string{"cn", "samaccountname"} {
		if v, err := adldap.LeadingRDNValue(dn, attrType); err == nil && v != "" {
			return v
		}
	}
	return ""
}

// modifyRole acknowledges role changes without applying them.
func (s *Server) modifyRole(m *gldap.ModifyMessage) {
	for _, change := range m.Changes {
		s.logger.Debug("Ignoring role change", map[string]any{
			"dn":        m.DN,
			"operation": change.Operation,
			"attribute": change.Modification.Type,
			"values":    len(change.Modification.Vals),
		})
	}
}

// handleAdd registers the user named by the sAMAccountName or cn of the
// request. Further attributes of the request are applied after registration.
func (s *Server) handleAdd(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewResponse(
		gldap.WithApplicationCode(gldap.ApplicationAddResponse),
		gldap.WithResponseCode(gldap.ResultSuccess),
	)
	defer func() {
		s.writeFailed(w.Write(resp), "add")
	}()

	m, err := r.GetAddMessage()
	if err != nil {
		setResult(resp, adldap.NewResultError("add", ldap.LDAPResultProtocolError, "not an add request").WithCause(err))
		return
	}

	fields := map[string]any{"connection_id": r.ConnectionID(), "dn": m.DN}
	err = adldap.LogOperation(s.logger, "add", fields, func() error {
		if !s.suffix.IsUsersDN(m.DN) || adldap.EqualDN(m.DN, s.suffix.UsersDN()) {
			return adldap.NewResultError("add", ldap.LDAPResultNoSuchObject, "").WithDN(m.DN)
		}
		if err := s.authorize(r, "add"); err != nil {
			return err
		}

		attributes := map[string][]string{}
		for _, a := range m.Attributes {
			attr := strings.ToLower(a.Type)
			if _, seen := attributes[attr]; !seen && len(a.Vals) > 0 {
				attributes[attr] = a.Vals
			}
		}

		username := firstValue(attributes, "samaccountname")
		if username == "" {
			username = firstValue(attributes, "cn")
		}
		if username == "" {
			username, _ = adldap.LeadingRDNValue(m.DN, "cn")
		}
		if username == "" {
			return adldap.NewResultError("add", ldap.LDAPResultUnwillingToPerform, "username required").WithDN(m.DN)
		}
		fields["username"] = username

		exists := adldap.NewResultError("add", ldap.LDAPResultEntryAlreadyExists, "").WithDN(m.DN)
		if user, err := s.adapter.SearchUsername(s.ctx, username); err == nil && user != nil {
			return exists
		}
		if err := s.adapter.Register(s.ctx, username); err != nil {
			return exists.WithCause(err)
		}

		s.applyAddAttributes(username, attributes)
		return nil
	})
	setResult(resp, err)
}

func (s *Server) applyAddAttributes(username string, attributes map[string][]string) {
	delete(attributes, "cn")
	delete(attributes, "unicodepwd")
	delete(attributes, "userpassword")
	if len(attributes) == 0 {
		return
	}

	mapper, err := s.attributes.NewMapper(nil)
	if err == nil {
		changes := mapper.Update(attributes, false).Get()
		if len(changes) == 0 {
			return
		}
		err = s.adapter.UpdateAttributes(s.ctx, username, changes)
	}
	if err != nil {
		s.logger.Warn("Applying attributes of new user failed", map[string]any{
			"username": username,
			"error":    err.Error(),
		})
	}
}

func firstValue(attributes map[string][]string, attr string) string {
	if values := attributes[attr]; len(values) > 0 {
		return values[0]
	}
	return ""
}
