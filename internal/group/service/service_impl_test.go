package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/omnifin/platform/internal/clock"
	"github.com/omnifin/platform/internal/group/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type groupFixture struct {
	svc  domain.Service
	node *snowflake.Node
}

func setupGroupService(t *testing.T) *groupFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&domain.Group{}, &domain.GroupMember{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
	})
	return &groupFixture{svc: svc, node: node}
}

func TestCreateGroupSlugAndAdmin(t *testing.T) {
	f := setupGroupService(t)
	ctx := context.Background()

	owner := f.node.Generate()
	group, err := f.svc.Create(ctx, owner, domain.CreateGroupRequest{Name: "  Omni Lending Co  "})
	require.NoError(t, err)
	assert.Equal(t, "Omni Lending Co", group.Name)
	assert.Equal(t, "omni-lending-co", group.Slug)

	groupID, err := snowflake.ParseString(group.ID)
	require.NoError(t, err)

	role, err := f.svc.MemberRole(ctx, groupID, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, role)
}

func TestCreateGroupValidation(t *testing.T) {
	f := setupGroupService(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, 0, domain.CreateGroupRequest{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = f.svc.Create(ctx, f.node.Generate(), domain.CreateGroupRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestCreateGroupDuplicateSlug(t *testing.T) {
	f := setupGroupService(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.node.Generate(), domain.CreateGroupRequest{Name: "Acme"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.node.Generate(), domain.CreateGroupRequest{Name: "acme"})
	assert.ErrorIs(t, err, domain.ErrDuplicateSlug)
}

func TestGetByID(t *testing.T) {
	f := setupGroupService(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.node.Generate(), domain.CreateGroupRequest{Name: "Acme"})
	require.NoError(t, err)

	got, err := f.svc.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Slug, got.Slug)

	_, err = f.svc.GetByID(ctx, "not-a-snowflake")
	assert.ErrorIs(t, err, domain.ErrInvalidGroup)
	_, err = f.svc.GetByID(ctx, f.node.Generate().String())
	assert.ErrorIs(t, err, domain.ErrInvalidGroup)
}

func TestAddMemberAndRoles(t *testing.T) {
	f := setupGroupService(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.node.Generate(), domain.CreateGroupRequest{Name: "Acme"})
	require.NoError(t, err)
	groupID, err := snowflake.ParseString(created.ID)
	require.NoError(t, err)

	broker := f.node.Generate()
	require.NoError(t, f.svc.AddMember(ctx, groupID, broker, domain.RoleBroker))

	role, err := f.svc.MemberRole(ctx, groupID, broker)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleBroker, role)

	// Re-adding an existing member is a no-op.
	require.NoError(t, f.svc.AddMember(ctx, groupID, broker, domain.RoleBroker))

	err = f.svc.AddMember(ctx, groupID, f.node.Generate(), "JANITOR")
	assert.ErrorIs(t, err, domain.ErrInvalidRole)

	err = f.svc.AddMember(ctx, f.node.Generate(), broker, domain.RoleStaff)
	assert.ErrorIs(t, err, domain.ErrInvalidGroup)

	members, err := f.svc.ListMembers(ctx, groupID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestMemberRoleNotMember(t *testing.T) {
	f := setupGroupService(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.node.Generate(), domain.CreateGroupRequest{Name: "Acme"})
	require.NoError(t, err)
	groupID, err := snowflake.ParseString(created.ID)
	require.NoError(t, err)

	_, err = f.svc.MemberRole(ctx, groupID, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotMember)
}
