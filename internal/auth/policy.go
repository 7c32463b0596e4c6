package auth

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Objects and actions checked by the admin routes.
const (
	ObjLeads   = "leads"
	ObjDeals   = "deals"
	ObjSpend   = "spend"
	ObjReports = "reports"
	ObjIngest  = "ingest"

	ActRead  = "read"
	ActWrite = "write"
)

// Roles stored in user_roles.
const (
	RoleAdmin     = "admin"
	RoleMarketing = "marketing"
	RoleSales     = "sales"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act || (p.act == "write" && r.act == "read"))
`

// write implies read (see matcher)
var defaultPolicy = [][]string{
	{RoleAdmin, "*", "*"},
	{RoleMarketing, ObjReports, ActRead},
	{RoleMarketing, ObjSpend, ActWrite},
	{RoleSales, ObjReports, ActRead},
	{RoleSales, ObjLeads, ActWrite},
	{RoleSales, ObjDeals, ActWrite},
}

type Enforcer struct {
	e *casbin.SyncedEnforcer
}

func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if _, err := e.AddPolicies(defaultPolicy); err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return &Enforcer{e: e}, nil
}

// Allowed reports whether any of roles may perform act on obj.
func (e *Enforcer) Allowed(roles []string, obj, act string) (bool, error) {
	for _, role := range roles {
		ok, err := e.e.Enforce(role, obj, act)
		if err != nil {
			return false, fmt.Errorf("enforce: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
