package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/omnifin/platform/internal/application"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	"github.com/omnifin/platform/internal/authorization"
	"github.com/omnifin/platform/internal/commission"
	commissiondomain "github.com/omnifin/platform/internal/commission/domain"
	"github.com/omnifin/platform/internal/config"
	"github.com/omnifin/platform/internal/group"
	groupdomain "github.com/omnifin/platform/internal/group/domain"
	"github.com/omnifin/platform/internal/lender"
	lenderdomain "github.com/omnifin/platform/internal/lender/domain"
	"github.com/omnifin/platform/internal/metrics"
	"github.com/omnifin/platform/internal/progress"
	progressdomain "github.com/omnifin/platform/internal/progress/domain"
	"github.com/omnifin/platform/internal/providers/pdf"
	"github.com/omnifin/platform/internal/ratelimit"
	"github.com/omnifin/platform/internal/subscription"
	subscriptiondomain "github.com/omnifin/platform/internal/subscription/domain"
	"github.com/omnifin/platform/internal/usage"
	usagedomain "github.com/omnifin/platform/internal/usage/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	metrics.Module,
	fx.Provide(NewEngine),
	authorization.Module,
	group.Module,
	subscription.Module,
	usage.Module,
	application.Module,
	progress.Module,
	commission.Module,
	lender.Module,
	pdf.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	genID  *snowflake.Node

	authzSvc        authorization.Service
	groupSvc        groupdomain.Service
	subscriptionSvc subscriptiondomain.Service
	usageSvc        usagedomain.Service
	applicationSvc  applicationdomain.Service
	progressSvc     progressdomain.Service
	commissionSvc   commissiondomain.Service
	lenderSvc       lenderdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	AuthzSvc        authorization.Service
	GroupSvc        groupdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UsageSvc        usagedomain.Service
	ApplicationSvc  applicationdomain.Service
	ProgressSvc     progressdomain.Service
	CommissionSvc   commissiondomain.Service
	LenderSvc       lenderdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		authzSvc:        p.AuthzSvc,
		groupSvc:        p.GroupSvc,
		subscriptionSvc: p.SubscriptionSvc,
		usageSvc:        p.UsageSvc,
		applicationSvc:  p.ApplicationSvc,
		progressSvc:     p.ProgressSvc,
		commissionSvc:   p.CommissionSvc,
		lenderSvc:       p.LenderSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.Use(s.GroupContext())
	api.Use(s.ActorContext())

	// -------- Groups --------
	api.POST("/groups", s.CreateGroup)
	api.GET("/groups/:id", s.authorizeGroupAction(authorization.ObjectGroup, authorization.ActionGroupView), s.GetGroup)
	api.GET("/groups/:id/members", s.authorizeGroupAction(authorization.ObjectGroup, authorization.ActionGroupView), s.ListGroupMembers)
	api.POST("/groups/:id/members", s.authorizeGroupAction(authorization.ObjectGroup, authorization.ActionGroupManage), s.AddGroupMember)

	// -------- Plans & Subscriptions --------
	api.GET("/plans", s.ListPlans)
	api.GET("/subscription", s.authorizeGroupAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.GetSubscription)
	api.POST("/subscription", s.authorizeGroupAction(authorization.ObjectSubscription, authorization.ActionSubscriptionChange), s.Subscribe)
	api.POST("/subscription/change", s.authorizeGroupAction(authorization.ObjectSubscription, authorization.ActionSubscriptionChange), s.ChangePlan)
	api.POST("/subscription/cancel", s.authorizeGroupAction(authorization.ObjectSubscription, authorization.ActionSubscriptionChange), s.CancelSubscription)
	api.GET("/payments", s.authorizeGroupAction(authorization.ObjectSubscription, authorization.ActionSubscriptionView), s.ListPayments)
	api.POST("/payments", s.authorizeGroupAction(authorization.ObjectSubscription, authorization.ActionSubscriptionChange), s.RecordPayment)

	// -------- Usage --------
	api.POST("/usage", s.authorizeGroupAction(authorization.ObjectUsage, authorization.ActionUsageRecord), s.RecordUsage)
	api.GET("/usage/summary", s.authorizeGroupAction(authorization.ObjectUsage, authorization.ActionUsageView), s.GetUsageSummary)
	api.GET("/usage/limits", s.authorizeGroupAction(authorization.ObjectUsage, authorization.ActionUsageView), s.CheckUsageLimits)

	// -------- Applications --------
	api.POST("/applications", s.authorizeGroupAction(authorization.ObjectApplication, authorization.ActionApplicationCreate), s.CreateApplication)
	api.GET("/applications", s.authorizeGroupAction(authorization.ObjectApplication, authorization.ActionApplicationView), s.ListApplications)
	api.GET("/applications/:id", s.authorizeGroupAction(authorization.ObjectApplication, authorization.ActionApplicationView), s.GetApplication)
	api.POST("/applications/:id/submit", s.authorizeGroupAction(authorization.ObjectApplication, authorization.ActionApplicationSubmit), s.SubmitApplication)
	api.POST("/applications/:id/status", s.authorizeGroupAction(authorization.ObjectApplication, authorization.ActionApplicationUpdateStatus), s.UpdateApplicationStatus)
	api.GET("/applications/:id/history", s.authorizeGroupAction(authorization.ObjectApplication, authorization.ActionApplicationView), s.GetStatusHistory)

	// -------- Workflow --------
	api.GET("/applications/:id/progress", s.authorizeGroupAction(authorization.ObjectWorkflow, authorization.ActionWorkflowView), s.GetProgress)
	api.POST("/applications/:id/steps/:step/complete", s.authorizeGroupAction(authorization.ObjectWorkflow, authorization.ActionWorkflowCompleteStep), s.CompleteStep)
	api.PUT("/applications/:id/current-step", s.authorizeGroupAction(authorization.ObjectWorkflow, authorization.ActionWorkflowSetStep), s.SetCurrentStep)

	// -------- Lenders & Offers --------
	api.POST("/lenders", s.authorizeGroupAction(authorization.ObjectGroup, authorization.ActionGroupManage), s.AddLender)
	api.GET("/lenders", s.authorizeGroupAction(authorization.ObjectOffer, authorization.ActionOfferView), s.ListLenders)
	api.POST("/lenders/:id/active", s.authorizeGroupAction(authorization.ObjectGroup, authorization.ActionGroupManage), s.SetLenderActive)
	api.GET("/applications/:id/lenders", s.authorizeGroupAction(authorization.ObjectOffer, authorization.ActionOfferView), s.MatchLenders)
	api.POST("/offers", s.authorizeGroupAction(authorization.ObjectOffer, authorization.ActionOfferCreate), s.CreateOffer)
	api.GET("/applications/:id/offers", s.authorizeGroupAction(authorization.ObjectOffer, authorization.ActionOfferView), s.ListOffers)
	api.POST("/offers/:id/accept", s.authorizeGroupAction(authorization.ObjectOffer, authorization.ActionOfferAccept), s.AcceptOffer)

	// -------- Commissions --------
	api.GET("/applications/:id/commissions", s.authorizeGroupAction(authorization.ObjectCommission, authorization.ActionCommissionView), s.ListApplicationCommissions)
	api.GET("/brokers/:id/commissions", s.authorizeGroupAction(authorization.ObjectCommission, authorization.ActionCommissionView), s.ListBrokerCommissions)
	api.POST("/commissions/:id/approve", s.authorizeGroupAction(authorization.ObjectCommission, authorization.ActionCommissionApprove), s.ApproveCommission)
	api.POST("/commissions/:id/cancel", s.authorizeGroupAction(authorization.ObjectCommission, authorization.ActionCommissionApprove), s.CancelCommission)
	api.POST("/commissions/:id/dispute", s.authorizeGroupAction(authorization.ObjectCommission, authorization.ActionCommissionApprove), s.DisputeCommission)
	api.POST("/payouts", s.authorizeGroupAction(authorization.ObjectCommission, authorization.ActionCommissionPay), s.CreatePayoutBatch)
	api.POST("/payouts/:id/process", s.authorizeGroupAction(authorization.ObjectCommission, authorization.ActionCommissionPay), s.ProcessPayout)
	api.GET("/brokers/:id/earnings", s.authorizeGroupAction(authorization.ObjectCommission, authorization.ActionCommissionView), s.GetBrokerEarnings)
	api.GET("/brokers/:id/statement", s.authorizeGroupAction(authorization.ObjectCommission, authorization.ActionCommissionView), s.GetBrokerStatement)
}
