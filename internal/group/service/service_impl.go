package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/omnifin/platform/internal/clock"
	"github.com/omnifin/platform/internal/group/domain"
	"github.com/omnifin/platform/pkg/db"
	"github.com/omnifin/platform/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	groupRepo  repository.Repository[domain.Group]
	memberRepo repository.Repository[domain.GroupMember]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("group.service"),
		genID: p.GenID,
		clock: p.Clock,

		groupRepo:  repository.ProvideStore[domain.Group](p.DB),
		memberRepo: repository.ProvideStore[domain.GroupMember](p.DB),
	}
}

// Create registers a new group and enrolls the creating user as ADMIN.
func (s *Service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateGroupRequest) (*domain.GroupResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	group := domain.Group{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slug.Make(name),
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.groupRepo.WithTrx(tx).Create(ctx, &group); err != nil {
			return err
		}

		member := domain.GroupMember{
			ID:        s.genID.Generate(),
			GroupID:   group.ID,
			UserID:    userID,
			Role:      domain.RoleAdmin,
			CreatedAt: now,
		}
		return s.memberRepo.WithTrx(tx).Create(ctx, &member)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateSlug
		}
		return nil, err
	}

	s.log.Info("group created",
		zap.String("group_id", group.ID.String()),
		zap.String("slug", group.Slug),
	)

	return &domain.GroupResponse{
		ID:        group.ID.String(),
		Name:      group.Name,
		Slug:      group.Slug,
		CreatedAt: group.CreatedAt,
	}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*domain.GroupResponse, error) {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return nil, domain.ErrInvalidGroup
	}
	groupID, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, domain.ErrInvalidGroup
	}

	group, err := s.groupRepo.FindOne(ctx, domain.Group{ID: groupID})
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, domain.ErrInvalidGroup
	}

	return &domain.GroupResponse{
		ID:        group.ID.String(),
		Name:      group.Name,
		Slug:      group.Slug,
		CreatedAt: group.CreatedAt,
	}, nil
}

func (s *Service) AddMember(ctx context.Context, groupID snowflake.ID, userID snowflake.ID, role string) error {
	if groupID == 0 {
		return domain.ErrInvalidGroup
	}
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	if !domain.ValidRole(role) {
		return domain.ErrInvalidRole
	}

	group, err := s.groupRepo.FindOne(ctx, domain.Group{ID: groupID})
	if err != nil {
		return err
	}
	if group == nil {
		return domain.ErrInvalidGroup
	}

	member := domain.GroupMember{
		ID:        s.genID.Generate(),
		GroupID:   groupID,
		UserID:    userID,
		Role:      role,
		CreatedAt: s.clock.Now(),
	}
	if err := s.memberRepo.Create(ctx, &member); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// already a member, treat as no-op
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) ListMembers(ctx context.Context, groupID snowflake.ID) ([]domain.MemberResponse, error) {
	if groupID == 0 {
		return nil, domain.ErrInvalidGroup
	}

	members, err := s.memberRepo.Find(ctx, domain.GroupMember{GroupID: groupID})
	if err != nil {
		return nil, err
	}

	resp := make([]domain.MemberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, domain.MemberResponse{
			UserID:    m.UserID.String(),
			Role:      m.Role,
			CreatedAt: m.CreatedAt,
		})
	}
	return resp, nil
}

func (s *Service) MemberRole(ctx context.Context, groupID snowflake.ID, userID snowflake.ID) (string, error) {
	if groupID == 0 {
		return "", domain.ErrInvalidGroup
	}
	if userID == 0 {
		return "", domain.ErrInvalidUser
	}

	member, err := s.memberRepo.FindOne(ctx, domain.GroupMember{GroupID: groupID, UserID: userID})
	if err != nil {
		return "", err
	}
	if member == nil {
		return "", domain.ErrNotMember
	}
	return member.Role, nil
}
