// Package operator registers the operator HTTP API.
package operator

import (
	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/config"
	apihttp "github.com/rasidhq/recharge/internal/http"
	"github.com/rasidhq/recharge/internal/http/api/operator/handlers"
	"github.com/rasidhq/recharge/internal/models"
)

// RegisterRoutes registers the public and authenticated operator routes.
func RegisterRoutes(r *gin.Engine, svc handlers.Services, jwtCfg config.JWTConfig) {
	if r == nil || svc.DB == nil {
		return
	}

	v0 := r.Group("/v0")
	healthHandler := handlers.NewHealthHandler(svc.DB)
	v0.GET("/healthz", healthHandler.Healthz)

	authed := v0.Group("")
	authed.Use(apihttp.OperatorAuthMiddleware(svc.Directory, jwtCfg))

	admins := authed.Group("", apihttp.RequireRoles(models.UserRoleAdmin))
	managers := authed.Group("", apihttp.RequireRoles(models.UserRoleResponsible))
	staff := authed.Group("", apihttp.RequireRoles(models.UserRoleAdmin, models.UserRoleResponsible))

	userHandler := handlers.NewUserHandler(svc.Directory, svc.Location)
	authed.GET("/me", userHandler.Me)
	managers.GET("/me/members", userHandler.MyMembers)
	admins.GET("/users", userHandler.ListByRole)
	admins.GET("/users/lookup", userHandler.Lookup)
	admins.POST("/users", userHandler.Create)
	admins.GET("/users/:id", userHandler.Get)
	admins.GET("/users/:id/members", userHandler.Members)
	admins.POST("/users/:id/telegram", userHandler.AttachTelegram)
	admins.POST("/users/:id/deactivate", userHandler.Deactivate)

	cardHandler := handlers.NewCardHandler(svc.Ledger)
	authed.GET("/cards/denominations", cardHandler.Denominations)
	staff.GET("/cards/types", cardHandler.Types)
	admins.POST("/cards", cardHandler.Create)
	admins.POST("/cards/batch", cardHandler.BatchCreate)
	admins.GET("/cards/summary", cardHandler.Summary)
	admins.GET("/cards/count", cardHandler.Count)
	admins.GET("/cards/available", cardHandler.Available)
	admins.GET("/cards/:id", cardHandler.Get)
	admins.GET("/cards/:id/logs", cardHandler.Logs)
	admins.POST("/cards/:id/reserve", cardHandler.Reserve)
	admins.POST("/cards/:id/restore", cardHandler.Restore)
	admins.POST("/cards/:id/archive", cardHandler.Archive)

	requestHandler := handlers.NewRequestHandler(svc.Workflow, svc.Approval)
	authed.POST("/requests", requestHandler.Submit)
	authed.GET("/requests", requestHandler.List)
	authed.GET("/requests/:id", requestHandler.Get)
	authed.GET("/requests/:id/history", requestHandler.History)
	managers.POST("/requests/:id/manager/approve", requestHandler.ManagerApprove)
	managers.POST("/requests/:id/manager/reject", requestHandler.ManagerReject)
	managers.POST("/requests/:id/manager/send", requestHandler.ManagerSend)
	admins.POST("/requests/:id/accounting/approve", requestHandler.AccountingApprove)
	admins.POST("/requests/:id/accounting/reject", requestHandler.AccountingReject)
	staff.POST("/direct-sends", requestHandler.DirectSend)

	exportHandler := handlers.NewExportHandler(svc.Workflow, svc.Location)
	staff.GET("/exports/consumed", exportHandler.Consumed)
	staff.GET("/exports/monthly", exportHandler.MonthlyTotals)

	reportHandler := handlers.NewReportHandler(svc.Reports)
	admins.POST("/reports/monthly", reportHandler.RunMonthly)

	settingsHandler := handlers.NewSettingsHandler(svc.DB)
	admins.GET("/settings", settingsHandler.List)
	admins.PUT("/settings/:key", settingsHandler.Put)
}
