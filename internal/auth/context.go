package auth

import "context"

type ctxKey string

const orgKey ctxKey = "auth_org"

// ContextWithOrg stores the authenticated organization in the context.
func ContextWithOrg(ctx context.Context, org Organization) context.Context {
	return context.WithValue(ctx, orgKey, org)
}

// OrgFromContext extracts the authenticated organization from context.
func OrgFromContext(ctx context.Context) (Organization, bool) {
	org, ok := ctx.Value(orgKey).(Organization)
	if !ok || org.ID == "" {
		return Organization{}, false
	}
	return org, true
}
