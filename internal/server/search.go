package server

import (
	"errors"

	"github.com/go-ldap/ldap/v3"
	"github.com/jimlambrt/gldap"

	"github.com/isometry/ad-ldap-federation/internal/adapter"
	adldap "github.com/isometry/ad-ldap-federation/internal/ldap"
)

func (s *Server) handleSearch(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewSearchDoneResponse(gldap.WithResponseCode(gldap.ResultSuccess))
	defer func() {
		s.writeFailed(w.Write(resp), "search")
	}()

	m, err := r.GetSearchMessage()
	if err != nil {
		setResult(resp, adldap.NewResultError("search", ldap.LDAPResultProtocolError, "not a search request").WithCause(err))
		return
	}

	fields := map[string]any{
		"connection_id": r.ConnectionID(),
		"base_dn":       m.BaseDN,
		"filter":        m.Filter,
		"attributes":    m.Attributes,
	}
	err = adldap.LogOperation(s.logger, "search", fields, func() error {
		var entries []*adldap.Entry
		switch {
		case s.suffix.IsUsersDN(m.BaseDN):
			if err := s.authorize(r, "search"); err != nil {
				return err
			}
			entries = s.searchUsers(m)
		case s.suffix.IsRolesDN(m.BaseDN):
			if err := s.authorize(r, "search"); err != nil {
				return err
			}
			entries = s.searchRoles(m)
		default:
			return adldap.NewResultError("search", ldap.LDAPResultNoSuchObject, "").WithDN(m.BaseDN)
		}

		for _, e := range entries {
			attrs := make(map[string][]string, len(e.Attributes))
			for name, values := range e.Attributes {
				attrs[adldap.WireName(name)] = values
			}
			if err := w.Write(r.NewSearchResponseEntry(e.DN, gldap.WithAttributes(attrs))); err != nil {
				return adldap.NewLDAPError("search", err).WithDN(e.DN)
			}
		}
		fields["entries"] = len(entries)
		return nil
	})
	setResult(resp, err)
}

// searchUsers resolves a flattened filter to user entries. The first key
// present decides the lookup: username (samAccountName or cn), mail,
// objectGUID, sn, objectClass=group. A filter naming none of them
// returns every user. Lookup failures yield no entries.
func (s *Server) searchUsers(m *gldap.SearchMessage) []*adldap.Entry {
	filter := adldap.FlattenFilter(m.Filter)

	username, hasUsername := filter.First("samaccountname")
	if username == "" {
		if cn, ok := filter.First("cn"); ok {
			username, hasUsername = cn, true
		}
	}
	if !hasUsername && !adldap.EqualDN(m.BaseDN, s.suffix.UsersDN()) {
		// base object search on a user entry
		username, hasUsername = adldap.UsernameFromDN(m.BaseDN)
	}

	if username != "" {
		user, err := s.adapter.SearchUsername(s.ctx, username)
		return s.userEntries(m.Attributes, s.found(user, err, "username"))
	}
	if mail, ok := filter.First("mail"); ok && mail != "" {
		user, err := s.adapter.SearchMail(s.ctx, mail)
		return s.userEntries(m.Attributes, s.found(user, err, "mail"))
	}
	if value, ok := filter.First("objectguid"); ok && value != "" {
		guid, err := adldap.ParseGUIDValue(value)
		if err != nil {
			s.logger.Debug("Unparseable objectGUID in filter", map[string]any{"error": err.Error()})
			return nil
		}
		user, err := s.adapter.SearchGUID(s.ctx, guid)
		return s.userEntries(m.Attributes, s.found(user, err, "objectGUID"))
	}
	if sn, ok := filter.First("sn"); ok && sn != "" {
		users, err := s.adapter.SearchSn(s.ctx, sn)
		s.lookupFailed(err, "sn")
		return s.userEntries(m.Attributes, users)
	}
	if filter.HasValue("objectclass", "group") {
		roles, err := s.adapter.SyncAllRoles(s.ctx)
		s.lookupFailed(err, "roles")
		return s.roleEntries(roles)
	}
	if hasUsername {
		// an empty username matches nobody
		return nil
	}

	users, err := s.adapter.SyncAllUsers(s.ctx)
	s.lookupFailed(err, "all users")
	return s.userEntries(m.Attributes, users)
}

// searchRoles looks up the role named by the cn of the filter, or of the
// base DN. Without a name all roles are returned.
func (s *Server) searchRoles(m *gldap.SearchMessage) []*adldap.Entry {
	filter := adldap.FlattenFilter(m.Filter)

	cn, _ := filter.First("cn")
	if cn == "" && !adldap.EqualDN(m.BaseDN, s.suffix.RolesDN()) {
		cn = s.suffix.RoleFromDN(m.BaseDN)
	}

	if cn == "" {
		roles, err := s.adapter.SyncAllRoles(s.ctx)
		s.lookupFailed(err, "roles")
		return s.roleEntries(roles)
	}

	roles, err := s.adapter.SearchRole(s.ctx, cn)
	s.lookupFailed(err, "role")
	return s.roleEntries(roles)
}

func (s *Server) userEntries(attributes []string, users []adldap.User) []*adldap.Entry {
	entries := make([]*adldap.Entry, 0, len(users))
	for _, user := range users {
		mapper, err := s.attributes.NewMapper(user)
		if err == nil {
			var entry *adldap.Entry
			if entry, err = mapper.ToLDAP(attributes); err == nil {
				entries = append(entries, entry)
				continue
			}
		}
		s.logger.Warn("Skipping unpublishable user", map[string]any{
			"username": user.String(adldap.FieldUsername),
			"error":    err.Error(),
		})
	}
	return entries
}

func (s *Server) roleEntries(roles []string) []*adldap.Entry {
	entries := make([]*adldap.Entry, 0, len(roles))
	for _, role := range roles {
		entries = append(entries, s.attributes.RoleEntry(role))
	}
	return entries
}

// found turns a single-user lookup into a result list.
func (s *Server) found(user adldap.User, err error, what string) []adldap.User {
	s.lookupFailed(err, what)
	if err != nil || user == nil {
		return nil
	}
	return []adldap.User{user}
}

func (s *Server) lookupFailed(err error, what string) {
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		s.logger.Warn("Lookup failed", map[string]any{"lookup": what, "error": err.Error()})
	}
}
