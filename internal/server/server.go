package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallbiznis/paylink/internal/apikey"
	apikeydomain "github.com/smallbiznis/paylink/internal/apikey/domain"
	"github.com/smallbiznis/paylink/internal/audit"
	auditdomain "github.com/smallbiznis/paylink/internal/audit/domain"
	"github.com/smallbiznis/paylink/internal/checkout"
	checkoutdomain "github.com/smallbiznis/paylink/internal/checkout/domain"
	"github.com/smallbiznis/paylink/internal/config"
	"github.com/smallbiznis/paylink/internal/contact"
	contactdomain "github.com/smallbiznis/paylink/internal/contact/domain"
	"github.com/smallbiznis/paylink/internal/event"
	"github.com/smallbiznis/paylink/internal/invoice"
	invoicedomain "github.com/smallbiznis/paylink/internal/invoice/domain"
	"github.com/smallbiznis/paylink/internal/ledger"
	"github.com/smallbiznis/paylink/internal/notification"
	obsmiddleware "github.com/smallbiznis/paylink/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paylink/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paylink/internal/observability/tracing"
	"github.com/smallbiznis/paylink/internal/observability"
	"github.com/smallbiznis/paylink/internal/organization"
	organizationdomain "github.com/smallbiznis/paylink/internal/organization/domain"
	"github.com/smallbiznis/paylink/internal/payment"
	paymentdomain "github.com/smallbiznis/paylink/internal/payment/domain"
	"github.com/smallbiznis/paylink/internal/paymenttoken"
	"github.com/smallbiznis/paylink/internal/providers/email"
	"github.com/smallbiznis/paylink/internal/providers/pdf"
	"github.com/smallbiznis/paylink/internal/publicinvoice"
	publicinvoicedomain "github.com/smallbiznis/paylink/internal/publicinvoice/domain"
	"github.com/smallbiznis/paylink/internal/ratelimit"
	"github.com/smallbiznis/paylink/internal/reference"
	referencedomain "github.com/smallbiznis/paylink/internal/reference/domain"
	"github.com/smallbiznis/paylink/internal/vault"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	audit.Module,
	apikey.Module,
	event.Module,
	notification.Module,
	email.Module,
	pdf.Module,
	contact.Module,
	vault.Module,
	invoice.Module,
	paymenttoken.Module,
	ledger.Module,
	payment.Module,
	checkout.Module,
	publicinvoice.Module,
	organization.Module,
	reference.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine           *gin.Engine
	cfg              config.Config
	billing          *config.BillingConfigHolder
	db               *gorm.DB
	apiKeySvc        apikeydomain.Service
	auditSvc         auditdomain.Service
	invoiceSvc       invoicedomain.Service
	contactSvc       contactdomain.Service
	checkoutSvc      checkoutdomain.Service
	paymentSvc       paymentdomain.Service
	organizationSvc  organizationdomain.Service
	publicInvoiceSvc publicinvoicedomain.Service
	publicLimiter    *ratelimit.PublicLimiter
	refrepo          referencedomain.Repository
	obsMetrics       *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	Billing          *config.BillingConfigHolder
	DB               *gorm.DB
	APIKeySvc        apikeydomain.Service
	AuditSvc         auditdomain.Service
	InvoiceSvc       invoicedomain.Service
	ContactSvc       contactdomain.Service
	CheckoutSvc      checkoutdomain.Service
	PaymentSvc       paymentdomain.Service
	OrganizationSvc  organizationdomain.Service
	PublicInvoiceSvc publicinvoicedomain.Service
	Refrepo          referencedomain.Repository
	PublicLimiter    *ratelimit.PublicLimiter `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		billing:          p.Billing,
		db:               p.DB,
		apiKeySvc:        p.APIKeySvc,
		auditSvc:         p.AuditSvc,
		invoiceSvc:       p.InvoiceSvc,
		contactSvc:       p.ContactSvc,
		checkoutSvc:      p.CheckoutSvc,
		paymentSvc:       p.PaymentSvc,
		organizationSvc:  p.OrganizationSvc,
		publicInvoiceSvc: p.PublicInvoiceSvc,
		publicLimiter:    p.PublicLimiter,
		refrepo:          p.Refrepo,
		obsMetrics:       p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerPublicRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/countries", s.ListCountries)
	api.GET("/timezones", s.ListTimezones)
	api.GET("/currencies", s.ListCurrencies)

	// -------- Invoices --------
	api.POST("/invoices", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesWrite), s.CreateInvoice)
	api.GET("/invoices", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesRead), s.ListInvoices)
	api.GET("/invoices/:id", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesRead), s.GetInvoiceByID)
	api.POST("/invoices/:id/send", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesWrite), s.SendInvoice)
	api.POST("/invoices/:id/void", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesWrite), s.VoidInvoice)

	// -------- Checkout --------
	api.POST("/checkout", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeCheckoutWrite), s.CreateCheckout)
	api.POST("/charge-saved-payment-method", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeCheckoutWrite), s.ChargeSavedPaymentMethod)

	// -------- Contacts --------
	api.GET("/contacts", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesRead), s.ListContacts)
	api.POST("/contacts", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesWrite), s.CreateContact)
	api.GET("/contacts/:id", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesRead), s.GetContactByID)

	// -------- Organization --------
	api.GET("/organization", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesRead), s.GetOrganization)
	api.PATCH("/organization", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeInvoicesWrite), s.UpdateOrganizationSettings)

	// -------- API keys --------
	api.GET("/api-keys/scopes", s.APIKeyRequired(), s.ListAPIKeyScopes)
	api.GET("/api-keys", s.APIKeyRequired(), s.ListAPIKeys)
	api.POST("/api-keys", s.APIKeyRequired(), s.CreateAPIKey)
	api.POST("/api-keys/:key_id/rotate", s.APIKeyRequired(), s.RotateAPIKey)
	api.POST("/api-keys/:key_id/revoke", s.APIKeyRequired(), s.RevokeAPIKey)

	api.GET("/audit-logs", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeAuditRead), s.ListAuditLogs)

	if s.cfg.Environment != "production" {
		api.POST("/test/cleanup", s.TestCleanup)
	}
}

func (s *Server) registerPublicRoutes() {
	public := s.engine.Group("/public/orgs/:org_id", s.PublicRateLimit())

	public.GET("/invoice", s.GetPublicInvoice)
	public.GET("/invoice/pdf", s.GetPublicInvoicePDF)
	public.POST("/invoice/pay", s.PayPublicInvoice)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
}
