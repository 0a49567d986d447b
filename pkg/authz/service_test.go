package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const testModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && r.act == p.act
`

const testPolicy = `
p, role:editor, doc:draft, publish
p, role:editor, doc:*, comment
g, role:admin, role:editor
`

func newTestService(t *testing.T, mode Mode) *Service {
	t.Helper()
	svc, err := NewService(Config{
		ModelText:    testModel,
		PolicyText:   testPolicy,
		FlagProvider: staticFlagProvider{mode: mode},
	})
	require.NoError(t, err)
	return svc
}

func TestServiceAuthorize(t *testing.T) {
	svc := newTestService(t, ModeEnforce)

	require.NoError(t, svc.Authorize(context.Background(), NewRequest(SubjectForRole("editor"), ObjectName("doc", "draft"), "publish")))
	require.NoError(t, svc.Authorize(context.Background(), NewRequest(SubjectForRole("admin"), ObjectName("doc", "draft"), "publish")))
	require.NoError(t, svc.Authorize(context.Background(), NewRequest(SubjectForRole("editor"), ObjectName("doc", "archived"), "Comment")))
}

func TestServiceAuthorizeDenied(t *testing.T) {
	svc := newTestService(t, ModeEnforce)

	err := svc.Authorize(context.Background(), NewRequest(SubjectForRole("viewer"), ObjectName("doc", "draft"), "publish"))
	require.ErrorIs(t, err, ErrForbidden)

	err = svc.Authorize(context.Background(), NewRequest(SubjectForRole("editor"), ObjectName("doc", "archived"), "publish"))
	require.ErrorIs(t, err, ErrForbidden)
}

func TestServiceAuthorizeShadowMode(t *testing.T) {
	svc := newTestService(t, ModeShadow)
	require.NoError(t, svc.Authorize(context.Background(), NewRequest(SubjectForRole("viewer"), ObjectName("doc", "draft"), "publish")))
}

func TestServiceMode(t *testing.T) {
	svc := newTestService(t, ModeDisabled)
	require.Equal(t, ModeDisabled, svc.Mode())
	require.NoError(t, svc.Authorize(context.Background(), NewRequest(SubjectForRole("viewer"), "doc:draft", "publish")))
}

func TestNewService_RequiresModelAndPolicy(t *testing.T) {
	_, err := NewService(Config{PolicyText: testPolicy})
	require.Error(t, err)
	_, err = NewService(Config{ModelText: testModel})
	require.Error(t, err)
}

func TestSubjectAndObjectHelpers(t *testing.T) {
	require.Equal(t, "role:dispatcher", SubjectForRole(" Dispatcher "))
	require.Equal(t, "role:system", SubjectForRole("role:system"))
	require.Equal(t, "role:anonymous", SubjectForRole(""))
	require.Equal(t, "request:in_progress", ObjectName("Request", "IN_PROGRESS"))
	require.Equal(t, "request", ObjectName("request", ""))
	require.Equal(t, "*", NormalizeAction(" "))
}

func TestSanitizeMode(t *testing.T) {
	require.Equal(t, ModeShadow, sanitizeMode("Shadow"))
	require.Equal(t, ModeDisabled, sanitizeMode("disabled"))
	require.Equal(t, ModeEnforce, sanitizeMode("bogus"))
}
