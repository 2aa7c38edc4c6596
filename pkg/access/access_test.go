package access

import (
	"testing"

	"cleanops/pkg/errutil"

	"github.com/stretchr/testify/require"
)

func TestDefaultAuthorizer(t *testing.T) {
	authz, err := NewDefaultAuthorizer()
	require.NoError(t, err)

	cleaner := Actor{ID: "c1", Role: RoleCleaner, BusinessID: "b1"}
	manager := Actor{ID: "m1", Role: RoleManager, BusinessID: "b1"}
	super := Actor{ID: "s1", Role: RoleSuperManager, BusinessID: "b1"}

	require.NoError(t, authz.Authorize(cleaner, ObjectJob, ActionComplete))
	require.NoError(t, authz.Authorize(cleaner, ObjectInvoice, ActionSubmit))
	require.NoError(t, authz.Authorize(manager, ObjectJob, ActionOverride))
	require.NoError(t, authz.Authorize(super, ObjectJob, ActionOverride))
	require.NoError(t, authz.Authorize(super, ObjectInvoice, ActionPay))

	err = authz.Authorize(cleaner, ObjectJob, ActionOverride)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	err = authz.Authorize(manager, ObjectJob, ActionAccept)
	require.True(t, errutil.Is(err, errutil.StatusForbidden))

	err = authz.Authorize(Actor{Role: RoleManager}, ObjectJob, ActionRead)
	require.True(t, errutil.Is(err, errutil.StatusUnauthorized))
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" Manager ")
	require.True(t, ok)
	require.Equal(t, RoleManager, r)

	_, ok = ParseRole("owner")
	require.False(t, ok)
}
