package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	commissiondomain "github.com/omnifin/platform/internal/commission/domain"
	groupdomain "github.com/omnifin/platform/internal/group/domain"
	lenderdomain "github.com/omnifin/platform/internal/lender/domain"
	progressdomain "github.com/omnifin/platform/internal/progress/domain"
	subscriptiondomain "github.com/omnifin/platform/internal/subscription/domain"
	usagedomain "github.com/omnifin/platform/internal/usage/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	defaultGroupName = "Main"
	defaultGroupSlug = "main"
)

// AutoMigrate creates the schema from the model definitions. It backs
// sqlite deployments and tests; postgres uses the SQL migrations.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	return db.AutoMigrate(
		&groupdomain.Group{},
		&groupdomain.GroupMember{},
		&subscriptiondomain.Plan{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.PaymentHistory{},
		&applicationdomain.Application{},
		&applicationdomain.ApplicationStatusHistory{},
		&progressdomain.ApplicationProgress{},
		&usagedomain.TokenUsage{},
		&usagedomain.UsageSummary{},
		&commissiondomain.CommissionRule{},
		&commissiondomain.Commission{},
		&commissiondomain.PayoutBatch{},
		&lenderdomain.Lender{},
		&lenderdomain.LoanOffer{},
	)
}

type planSeed struct {
	Code            string
	Name            string
	Description     string
	Price           string
	LLMTokenLimit   int64
	VoiceTokenLimit int64
	MaxUsers        int64
}

var defaultPlans = []planSeed{
	{
		Code:            "free",
		Name:            "Free",
		Description:     "Evaluation tier for small brokerages",
		Price:           "0",
		LLMTokenLimit:   10_000,
		VoiceTokenLimit: 2_000,
		MaxUsers:        2,
	},
	{
		Code:            "basic",
		Name:            "Basic",
		Description:     "Single-branch lending teams",
		Price:           "49",
		LLMTokenLimit:   100_000,
		VoiceTokenLimit: 20_000,
		MaxUsers:        10,
	},
	{
		Code:            "premium",
		Name:            "Premium",
		Description:     "Multi-branch originators",
		Price:           "199",
		LLMTokenLimit:   1_000_000,
		VoiceTokenLimit: 200_000,
		MaxUsers:        50,
	},
	{
		Code:            "enterprise",
		Name:            "Enterprise",
		Description:     "High-volume origination networks",
		Price:           "499",
		LLMTokenLimit:   10_000_000,
		VoiceTokenLimit: 2_000_000,
		MaxUsers:        500,
	},
}

// EnsureDefaultPlans inserts the standard plan catalog when missing.
// Existing plans are left untouched so operators can reprice.
func EnsureDefaultPlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seed := range defaultPlans {
			var existing subscriptiondomain.Plan
			err := tx.WithContext(ctx).
				Where("code = ?", seed.Code).
				Limit(1).
				Find(&existing).Error
			if err != nil {
				return err
			}
			if existing.ID != 0 {
				continue
			}

			price, err := decimal.NewFromString(seed.Price)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			plan := subscriptiondomain.Plan{
				ID:              node.Generate(),
				Code:            seed.Code,
				Name:            seed.Name,
				Description:     seed.Description,
				Price:           price,
				Currency:        "USD",
				LLMTokenLimit:   seed.LLMTokenLimit,
				VoiceTokenLimit: seed.VoiceTokenLimit,
				MaxUsers:        seed.MaxUsers,
				IsActive:        true,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := tx.WithContext(ctx).Create(&plan).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureDefaultGroup seeds the bootstrap workspace for self-hosted
// installs.
func EnsureDefaultGroup(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing groupdomain.Group
		err := tx.WithContext(ctx).
			Where("slug = ?", defaultGroupSlug).
			Limit(1).
			Find(&existing).Error
		if err != nil {
			return err
		}
		if existing.ID != 0 {
			return nil
		}

		now := time.Now().UTC()
		group := groupdomain.Group{
			ID:        node.Generate(),
			Name:      defaultGroupName,
			Slug:      defaultGroupSlug,
			Metadata:  map[string]any{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&group).Error
	})
}
