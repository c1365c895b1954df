package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/approval"
	"github.com/rasidhq/recharge/internal/config"
	"github.com/rasidhq/recharge/internal/db"
	"github.com/rasidhq/recharge/internal/directory"
	relayhttp "github.com/rasidhq/recharge/internal/http"
	"github.com/rasidhq/recharge/internal/http/api/operator"
	"github.com/rasidhq/recharge/internal/http/api/operator/handlers"
	"github.com/rasidhq/recharge/internal/ledger"
	"github.com/rasidhq/recharge/internal/logging"
	"github.com/rasidhq/recharge/internal/notify"
	"github.com/rasidhq/recharge/internal/report"
	"github.com/rasidhq/recharge/internal/security"
	internalsettings "github.com/rasidhq/recharge/internal/settings"
	"github.com/rasidhq/recharge/internal/workflow"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// bus delivers cards and fans out notifications.
type bus interface {
	approval.Deliverer
	approval.Notifier
}

// runtime holds the wired services shared by every command.
type runtime struct {
	cfg    config.Config
	logger *log.Logger
	conn   *gorm.DB
	redis  *redis.Client
	bus    bus

	ledger   *ledger.Ledger
	flow     *workflow.Workflow
	dir      *directory.Directory
	approval *approval.Service
	reports  *report.Generator

	closers []io.Closer
}

// bootstrap loads configuration, opens the database, runs migrations and wires the services.
func bootstrap(ctx context.Context, cfg config.AppConfig) (*runtime, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(appCfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: database dsn is empty")
	}
	logger, logCloser, err := logging.Setup(appCfg.Log, os.Stdout)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: appCfg, logger: logger, closers: []io.Closer{logCloser}}

	conn, err := db.Open(appCfg.Database.DSN, db.Options{
		TimeZone: appCfg.Database.TimeZone,
		Logger:   logger,
		LogLevel: appCfg.Database.LogLevel,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.conn = conn
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		rt.Close()
		return nil, errMigrate
	}
	if errRefresh := internalsettings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		logger.WithError(errRefresh).Warn("settings snapshot refresh failed, using defaults")
	}

	if addr := strings.TrimSpace(appCfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: appCfg.Redis.Password,
			DB:       appCfg.Redis.DB,
		})
		if errPing := client.Ping(ctx).Err(); errPing != nil {
			_ = client.Close()
			rt.Close()
			return nil, fmt.Errorf("redis: ping %s: %w", addr, errPing)
		}
		rt.redis = client
		rt.bus = notify.NewRedisBus(client, notify.RedisOptions{
			DeliveryQueue: appCfg.Redis.DeliveryQueue,
			EventChannel:  appCfg.Redis.EventChannel,
			EventBacklog:  appCfg.Redis.EventBacklog,
		}, logger)
	} else {
		logger.Warn("redis address not configured, deliveries will only be logged")
		rt.bus = notify.NewLogBus(logger)
	}

	loc := appCfg.Location()
	rt.ledger = ledger.New(conn, logger)
	rt.flow = workflow.New(conn, logger)
	rt.dir = directory.New(conn, logger)
	rt.approval = approval.New(rt.ledger, rt.flow, rt.dir, rt.bus, rt.bus, logger)
	rt.reports = report.NewGenerator(rt.flow, rt.dir, rt.bus, appCfg.Reports.Dir, loc, logger)
	return rt, nil
}

// Close releases the runtime's connections in reverse order of acquisition.
func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.redis != nil {
		if errClose := rt.redis.Close(); errClose != nil {
			log.WithError(errClose).Warn("close redis client")
		}
	}
	if rt.conn != nil {
		if errClose := db.Close(rt.conn); errClose != nil {
			log.WithError(errClose).Warn("close database")
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].Close()
	}
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn, db.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	return db.Migrate(conn)
}

// RunServer boots the operator API and the monthly report scheduler, and blocks
// until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	if strings.TrimSpace(rt.cfg.JWT.Secret) == "" {
		return fmt.Errorf("config: jwt secret is empty")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), relayhttp.RequestLogMiddleware(rt.logger, "/v0/healthz"))
	operator.RegisterRoutes(engine, handlers.Services{
		DB:        rt.conn,
		Ledger:    rt.ledger,
		Workflow:  rt.flow,
		Directory: rt.dir,
		Approval:  rt.approval,
		Reports:   rt.reports,
		Location:  rt.cfg.Location(),
	}, rt.cfg.JWT)
	engine.NoRoute(func(c *gin.Context) {
		if isAPIRoute(c.Request.URL.Path) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Status(http.StatusNotFound)
	})

	if rt.cfg.Reports.Schedule {
		report.NewScheduler(rt.reports).Start(ctx)
	}

	srv := &http.Server{
		Addr:              rt.cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		rt.logger.Infof("operator api listening on %s", rt.cfg.Server.Addr)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	rt.logger.Info("shutting down operator api")
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	return nil
}

// RunReport builds the monthly report for month (YYYY-MM), or for the month
// before now when month is empty. It returns nil when nothing was consumed.
func RunReport(ctx context.Context, cfg config.AppConfig, month string) (*report.Summary, error) {
	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	month = strings.TrimSpace(month)
	if month == "" {
		return report.NewScheduler(rt.reports).RunNow(ctx)
	}
	start, errParse := time.ParseInLocation("2006-01", month, rt.reports.Location())
	if errParse != nil {
		return nil, fmt.Errorf("invalid month %q, expected YYYY-MM", month)
	}
	return rt.reports.Build(ctx, start, start.AddDate(0, 1, 0))
}

// IssueToken mints an operator bearer token for an active user, carrying the stored role.
func IssueToken(ctx context.Context, cfg config.AppConfig, userID uint64) (string, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	jwtCfg, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return "", err
	}
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return "", err
	}
	conn, err := db.Open(dsn, db.Options{})
	if err != nil {
		return "", err
	}
	defer func() { _ = db.Close(conn) }()

	user, err := directory.New(conn, nil).GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if !user.IsActive {
		return "", fmt.Errorf("user %d is inactive", userID)
	}
	return security.GenerateToken(jwtCfg.Secret, jwtCfg.Issuer, user.ID, user.Role, jwtCfg.Expiry)
}

// isAPIRoute reports whether a path targets API endpoints.
func isAPIRoute(requestPath string) bool {
	if requestPath == "/healthz" || strings.HasPrefix(requestPath, "/healthz/") {
		return true
	}
	return requestPath == "/v0" || strings.HasPrefix(requestPath, "/v0/")
}
