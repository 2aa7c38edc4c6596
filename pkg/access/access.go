package access

import (
	"fmt"

	"cleanops/pkg/config"
	"cleanops/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("access", fx.Provide(ProvideAuthorizer))

const (
	ObjectJob      = "job"
	ObjectInvoice  = "invoice"
	ObjectProperty = "property"
	ObjectCleaner  = "cleaner"
)

const (
	ActionCreate       = "create"
	ActionRead         = "read"
	ActionAccept       = "accept"
	ActionStart        = "start"
	ActionComplete     = "complete"
	ActionReportAccess = "report_access"
	ActionRecordPhoto  = "record_photo"
	ActionReassign     = "reassign"
	ActionOverride     = "override"
	ActionResolve      = "resolve"
	ActionReset        = "reset"
	ActionSubmit       = "submit"
	ActionApprove      = "approve"
	ActionPay          = "pay"
	ActionVoid         = "void"
	ActionWrite        = "write"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

var defaultPolicies = [][]string{
	{string(RoleCleaner), ObjectJob, ActionRead},
	{string(RoleCleaner), ObjectJob, ActionAccept},
	{string(RoleCleaner), ObjectJob, ActionStart},
	{string(RoleCleaner), ObjectJob, ActionComplete},
	{string(RoleCleaner), ObjectJob, ActionReportAccess},
	{string(RoleCleaner), ObjectJob, ActionRecordPhoto},
	{string(RoleCleaner), ObjectInvoice, ActionRead},
	{string(RoleCleaner), ObjectInvoice, ActionSubmit},

	{string(RoleManager), ObjectJob, ActionCreate},
	{string(RoleManager), ObjectJob, ActionRead},
	{string(RoleManager), ObjectJob, ActionReassign},
	{string(RoleManager), ObjectJob, ActionOverride},
	{string(RoleManager), ObjectJob, ActionResolve},
	{string(RoleManager), ObjectJob, ActionReset},
	{string(RoleManager), ObjectInvoice, ActionRead},
	{string(RoleManager), ObjectInvoice, ActionApprove},
	{string(RoleManager), ObjectInvoice, ActionPay},
	{string(RoleManager), ObjectInvoice, ActionVoid},
	{string(RoleManager), ObjectProperty, ActionWrite},
	{string(RoleManager), ObjectCleaner, ActionWrite},
}

// Authorizer decides whether an actor's role may perform action on object.
// Ownership and business scoping are checked by the services themselves.
type Authorizer interface {
	Authorize(actor Actor, object, action string) error
}

type casbinAuthorizer struct {
	enforcer *casbin.Enforcer
}

type Params struct {
	fx.In
	Config *config.Config `optional:"true"`
}

func ProvideAuthorizer(p Params) (Authorizer, error) {
	if p.Config != nil && p.Config.AccessControl.Model != "" && p.Config.AccessControl.Policy != "" {
		e, err := casbin.NewEnforcer(p.Config.AccessControl.Model, p.Config.AccessControl.Policy)
		if err != nil {
			return nil, fmt.Errorf("load access control from %s: %w", p.Config.AccessControl.Policy, err)
		}
		zap.L().Info("access control loaded from file", zap.String("policy", p.Config.AccessControl.Policy))
		return &casbinAuthorizer{enforcer: e}, nil
	}

	return NewDefaultAuthorizer()
}

// NewDefaultAuthorizer builds the built-in role table. super_manager inherits
// every manager permission.
func NewDefaultAuthorizer() (Authorizer, error) {
	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}

	if _, err := e.AddGroupingPolicy(string(RoleSuperManager), string(RoleManager)); err != nil {
		return nil, err
	}

	return &casbinAuthorizer{enforcer: e}, nil
}

func (a *casbinAuthorizer) Authorize(actor Actor, object, action string) error {
	if actor.ID == "" || actor.BusinessID == "" {
		return errutil.Unauthorized("missing actor identity", nil)
	}

	ok, err := a.enforcer.Enforce(string(actor.Role), object, action)
	if err != nil {
		return errutil.Internal("access check failed", err)
	}

	if !ok {
		return errutil.Forbidden(fmt.Sprintf("role %q may not %s %s", actor.Role, action, object), nil)
	}

	return nil
}
