package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openadmin/internal/dsl"
	"openadmin/internal/logger"
	"openadmin/internal/metadata"
	"openadmin/internal/persistence"
	"openadmin/internal/reference"
)

func loadFixtures(t *testing.T) (*Policy, *UserDirectory, *metadata.Registry) {
	t.Helper()
	policy, err := LoadPolicy("../../config/security.yaml")
	require.NoError(t, err)
	users, err := NewUserDirectory(policy.Users)
	require.NoError(t, err)
	ents, err := dsl.LoadAllEntities("../../dsl")
	require.NoError(t, err)
	enums, err := reference.LoadEnumCatalog("../../reference/enums")
	require.NoError(t, err)
	reg, err := metadata.NewRegistry(ents, enums)
	require.NoError(t, err)
	return policy, users, reg
}

func userCtx(t *testing.T, users *UserDirectory, login string) context.Context {
	t.Helper()
	u, ok := users.ByLogin(login)
	require.True(t, ok, login)
	return WithUser(context.Background(), u)
}

func TestUserDirectory(t *testing.T) {
	_, users, _ := loadFixtures(t)

	u, ok := users.ByLogin(" Editor ")
	require.True(t, ok)
	assert.Equal(t, "u-editor", u.ID)
	assert.True(t, u.HasRole("catalog_editor"))

	byID, ok := users.ByID("u-admin")
	require.True(t, ok)
	assert.Equal(t, "admin", byID.Login)

	_, err := NewUserDirectory([]*AdminUser{{Login: "a"}, {Login: "A"}})
	require.Error(t, err)
}

func TestWithUserSetsActor(t *testing.T) {
	ctx := WithUser(context.Background(), &AdminUser{ID: "u-1", Login: "x"})
	u, ok := UserFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "x", u.Login)
	assert.Equal(t, "u-1", persistence.ActorFrom(ctx))

	_, ok = UserFrom(context.Background())
	assert.False(t, ok)
}

func TestSecurityCheck(t *testing.T) {
	policy, users, reg := loadFixtures(t)
	svc := NewRemoteSecurityService(policy, reg, logger.Test(t))

	tests := []struct {
		name  string
		login string
		class string
		op    Operation
		kind  ErrorKind
	}{
		{name: "editor adds products", login: "editor", class: "catalog.Product", op: OpAdd},
		{name: "subclass inherits permission", login: "editor", class: "catalog.DigitalProduct", op: OpRemove},
		{name: "viewer reads products", login: "viewer", class: "catalog.Product", op: OpFetch},
		{name: "viewer cannot add", login: "viewer", class: "catalog.Product", op: OpAdd, kind: KindOperationNotAllowed},
		{name: "editor cannot add categories", login: "editor", class: "catalog.Category", op: OpAdd, kind: KindOperationNotAllowed},
		{name: "unguarded class", login: "viewer", class: "catalog.Sku", op: OpRemove},
		{name: "admin bypasses", login: "admin", class: "catalog.Category", op: OpRemove},
		{name: "unknown class", login: "admin", class: "catalog.Nope", op: OpFetch, kind: KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SecurityCheck(userCtx(t, users, tt.login), tt.class, tt.op)
			if tt.kind == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}

	err := svc.SecurityCheck(context.Background(), "catalog.Product", OpFetch)
	assert.True(t, IsKind(err, KindNotAuthorized))
}

func TestRowLevelSecurity(t *testing.T) {
	policy, users, reg := loadFixtures(t)
	rls := NewRowLevelSecurityService(policy, reg, logger.Test(t))
	ctx := context.Background()
	editor, _ := users.ByLogin("editor")
	admin, _ := users.ByLogin("admin")

	archived := &persistence.Entity{Type: []string{"catalog.Product"}, Properties: []*persistence.Property{{Name: "status", Value: "ARCHIVED"}}}
	active := &persistence.Entity{Type: []string{"catalog.Product"}, Properties: []*persistence.Property{{Name: "status", Value: "ACTIVE"}}}

	assert.False(t, rls.CanUpdate(ctx, editor, archived))
	assert.False(t, rls.CanRemove(ctx, editor, archived))
	assert.True(t, rls.CanUpdate(ctx, editor, active))
	assert.True(t, rls.CanUpdate(ctx, admin, archived))

	assert.True(t, rls.CanAdd(ctx, editor, "catalog.Product"))
	assert.False(t, rls.CanAdd(ctx, editor, "catalog.DigitalProduct"))
	assert.True(t, rls.CanAdd(ctx, &AdminUser{Login: "p", Roles: []string{"PUBLISHER"}}, "catalog.DigitalProduct"))
}

func TestParsePolicyRejectsUnknownOps(t *testing.T) {
	_, err := ParsePolicy([]byte("permissions:\n  - class: a.B\n    ops: [explode]\n    roles: [X]\n"))
	require.ErrorContains(t, err, "unknown op")
	_, err = ParsePolicy([]byte("rowRules:\n  - ops: [add]\n"))
	require.ErrorContains(t, err, "no class")
}
