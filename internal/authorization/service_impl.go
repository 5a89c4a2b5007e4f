package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectApplication  = "application"
	ObjectWorkflow     = "workflow"
	ObjectUsage        = "usage"
	ObjectCommission   = "commission"
	ObjectSubscription = "subscription"
	ObjectOffer        = "offer"
	ObjectGroup        = "group"
)

const (
	ActionApplicationView         = "application.view"
	ActionApplicationCreate       = "application.create"
	ActionApplicationSubmit       = "application.submit"
	ActionApplicationUpdateStatus = "application.update_status"

	ActionWorkflowView         = "workflow.view"
	ActionWorkflowCompleteStep = "workflow.complete_step"
	ActionWorkflowSetStep      = "workflow.set_step"

	ActionUsageRecord = "usage.record"
	ActionUsageView   = "usage.view"

	ActionCommissionView    = "commission.view"
	ActionCommissionApprove = "commission.approve"
	ActionCommissionPay     = "commission.pay"

	ActionSubscriptionView   = "subscription.view"
	ActionSubscriptionChange = "subscription.change"

	ActionOfferView   = "offer.view"
	ActionOfferCreate = "offer.create"
	ActionOfferAccept = "offer.accept"

	ActionGroupView   = "group.view"
	ActionGroupManage = "group.manage"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, groupID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return ErrInvalidGroup
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, groupID)
	if err != nil {
		return err
	}

	domain := fmt.Sprintf("group:%s", groupID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("actor", actor),
			zap.String("group_id", groupID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, groupID string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "user:") {
		userIDRaw := strings.TrimPrefix(actor, "user:")
		userID, err := snowflake.ParseString(userIDRaw)
		if err != nil || userID == 0 {
			return "", "", ErrInvalidActor
		}
		parsedGroupID, err := snowflake.ParseString(groupID)
		if err != nil || parsedGroupID == 0 {
			return "", "", ErrInvalidGroup
		}
		role, err := s.roleForUser(ctx, parsedGroupID, userID)
		if err != nil {
			return "", "", err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, groupID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM group_members
		 WHERE group_id = ? AND user_id = ?
		 LIMIT 1`,
		groupID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Applicant permissions: own applications and offers only; row
		// ownership is checked by the services, casbin gates the verbs.
		{"role:applicant", ObjectApplication, ActionApplicationView},
		{"role:applicant", ObjectApplication, ActionApplicationCreate},
		{"role:applicant", ObjectApplication, ActionApplicationSubmit},
		{"role:applicant", ObjectWorkflow, ActionWorkflowView},
		{"role:applicant", ObjectOffer, ActionOfferView},
		{"role:applicant", ObjectOffer, ActionOfferAccept},

		// Broker permissions
		{"role:broker", ObjectApplication, ActionApplicationView},
		{"role:broker", ObjectApplication, ActionApplicationCreate},
		{"role:broker", ObjectApplication, ActionApplicationSubmit},
		{"role:broker", ObjectWorkflow, ActionWorkflowView},
		{"role:broker", ObjectCommission, ActionCommissionView},
		{"role:broker", ObjectOffer, ActionOfferView},

		// Staff permissions (workflow operators)
		{"role:staff", ObjectApplication, ActionApplicationView},
		{"role:staff", ObjectApplication, ActionApplicationUpdateStatus},
		{"role:staff", ObjectWorkflow, ActionWorkflowView},
		{"role:staff", ObjectWorkflow, ActionWorkflowCompleteStep},
		{"role:staff", ObjectOffer, ActionOfferView},
		{"role:staff", ObjectOffer, ActionOfferCreate},
		{"role:staff", ObjectUsage, ActionUsageView},

		// Admin permissions
		{"role:admin", ObjectApplication, ActionApplicationView},
		{"role:admin", ObjectApplication, ActionApplicationCreate},
		{"role:admin", ObjectApplication, ActionApplicationSubmit},
		{"role:admin", ObjectApplication, ActionApplicationUpdateStatus},
		{"role:admin", ObjectWorkflow, ActionWorkflowView},
		{"role:admin", ObjectWorkflow, ActionWorkflowCompleteStep},
		{"role:admin", ObjectWorkflow, ActionWorkflowSetStep},
		{"role:admin", ObjectUsage, ActionUsageView},
		{"role:admin", ObjectCommission, ActionCommissionView},
		{"role:admin", ObjectCommission, ActionCommissionApprove},
		{"role:admin", ObjectCommission, ActionCommissionPay},
		{"role:admin", ObjectSubscription, ActionSubscriptionView},
		{"role:admin", ObjectSubscription, ActionSubscriptionChange},
		{"role:admin", ObjectOffer, ActionOfferView},
		{"role:admin", ObjectOffer, ActionOfferCreate},
		{"role:admin", ObjectGroup, ActionGroupView},
		{"role:admin", ObjectGroup, ActionGroupManage},

		// System permissions (internal feature services recording usage)
		{"role:system", ObjectUsage, ActionUsageRecord},
		{"role:system", ObjectUsage, ActionUsageView},
		{"role:system", ObjectApplication, ActionApplicationUpdateStatus},
		{"role:system", ObjectWorkflow, ActionWorkflowCompleteStep},
		{"role:system", ObjectWorkflow, ActionWorkflowSetStep},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
