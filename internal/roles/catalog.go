// Package roles holds the fixed mapping from organization role to its
// default capability set. The table is loaded once and never mutated;
// callers always receive copies.
package roles

import "github.com/ledgerdesk/backend/internal/models"

// Capabilities understood by the membership subsystem. Stored per
// membership as overrides on top of the role defaults.
const (
	CapOrgView          = "organization.view"
	CapOrgEdit          = "organization.edit"
	CapOrgDelete        = "organization.delete"
	CapMemberView       = "member.view"
	CapMemberInvite     = "member.invite"
	CapMemberRemove     = "member.remove"
	CapMemberChangeRole = "member.change_role"
	CapInvoiceView      = "invoice.view"
	CapInvoiceEdit      = "invoice.edit"
	CapDocumentView     = "document.view"
	CapDocumentEdit     = "document.edit"
)

var defaults = map[models.OrgRole][]string{
	models.OrgRoleOwner: {
		CapOrgView, CapOrgEdit, CapOrgDelete,
		CapMemberView, CapMemberInvite, CapMemberRemove, CapMemberChangeRole,
		CapInvoiceView, CapInvoiceEdit,
		CapDocumentView, CapDocumentEdit,
	},
	models.OrgRoleAdmin: {
		CapOrgView, CapOrgEdit,
		CapMemberView, CapMemberInvite, CapMemberRemove, CapMemberChangeRole,
		CapInvoiceView, CapInvoiceEdit,
		CapDocumentView, CapDocumentEdit,
	},
	models.OrgRoleManager: {
		CapOrgView,
		CapMemberView, CapMemberInvite,
		CapInvoiceView, CapInvoiceEdit,
		CapDocumentView, CapDocumentEdit,
	},
	models.OrgRoleMember: {
		CapOrgView,
		CapMemberView,
		CapInvoiceView,
		CapDocumentView, CapDocumentEdit,
	},
	models.OrgRoleViewer: {
		CapOrgView,
		CapInvoiceView,
		CapDocumentView,
	},
}

// Defaults returns a fresh copy of the default capability set for role.
// Unknown roles get an empty set.
func Defaults(role models.OrgRole) map[string]bool {
	caps := make(map[string]bool, len(defaults[role]))
	for _, c := range defaults[role] {
		caps[c] = true
	}
	return caps
}

// Effective merges a membership's permission overrides over the role
// defaults. Overrides may grant capabilities outside the role or revoke
// defaulted ones.
func Effective(role models.OrgRole, overrides map[string]bool) map[string]bool {
	caps := Defaults(role)
	for c, allowed := range overrides {
		if allowed {
			caps[c] = true
		} else {
			delete(caps, c)
		}
	}
	return caps
}

// CanManageMembers reports whether role may invite and remove members.
func CanManageMembers(role models.OrgRole) bool {
	return Defaults(role)[CapMemberInvite]
}
