// Package app wires the store, staging rules, gateways and job runner shared
// by the gateway server and the alertctl CLI.
package app

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/alerts"
	"github.com/lalithlochan/teamalerts/internal/circuitbreaker"
	"github.com/lalithlochan/teamalerts/internal/config"
	"github.com/lalithlochan/teamalerts/internal/db"
	"github.com/lalithlochan/teamalerts/internal/jobs"
	"github.com/lalithlochan/teamalerts/internal/redis"
	"github.com/lalithlochan/teamalerts/internal/sns"
	"github.com/lalithlochan/teamalerts/internal/stager"
	"github.com/lalithlochan/teamalerts/internal/worker"
)

// Channel sets used by the built-in rules.
var (
	errorChannels    = []string{db.ChannelEmail, db.ChannelNotification}
	formChannels     = []string{db.ChannelEmail, db.ChannelNotification}
	scoutingChannels = []string{db.ChannelEmail, db.ChannelTxt, db.ChannelNotification, db.ChannelDiscord}
	strategyChannels = []string{db.ChannelNotification, db.ChannelDiscord}
	meetingChannels  = []string{db.ChannelNotification, db.ChannelDiscord}
)

// Form rules staged on every pass.
var forms = []struct {
	code       string
	permission string
	path       string
}{
	{"team-app", "team_application_notif", "/form/team-application/?response_id="},
	{"team-cntct", "team_contact_notif", "/form/team-contact/?response_id="},
}

// App holds the long-lived components.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *db.DB
	Repo       *db.Repository
	Redis      *redis.Client
	Alerts     *alerts.Service
	Dispatcher *worker.Dispatcher
	Runner     *jobs.Runner
	Breakers   []*circuitbreaker.CircuitBreaker
}

// New connects to Postgres and, when reachable, Redis, then builds the
// staging rules, channel gateways and job runner. Redis is optional.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     database,
		Repo:   db.NewRepository(database, logger),
	}
	a.Alerts = alerts.NewService(a.Repo, logger)

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, staging guard and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		a.Redis = redisClient
	}

	opts := stager.Options{
		Store:    a.Repo,
		Logger:   logger,
		Location: cfg.Location(),
		BaseURL:  cfg.AppBaseURL,
	}
	if a.Redis != nil {
		opts.Guard = redis.NewStageGuard(a.Redis, logger, cfg.StageGuardTTL)
	}
	st := stager.New(logger, Rules(opts, cfg)...)

	gateways, err := newGateways(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	protected, wrapped := worker.ProtectAll(gateways, logger)
	for _, p := range wrapped {
		a.Breakers = append(a.Breakers, p.Breaker())
	}

	a.Dispatcher = worker.NewDispatcher(a.Repo, protected, worker.Config{
		BatchSize:   cfg.DispatchBatchSize,
		Concurrency: cfg.DispatchConcurrency,
		SendTimeout: cfg.SendTimeout,
	}, logger)
	a.Runner = jobs.NewRunner(st, a.Dispatcher, logger)

	return a, nil
}

// Close releases the database pool and Redis connection.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.DB.Close()
}

// RateLimiter returns the per-user API limiter, or nil without Redis.
func (a *App) RateLimiter() *redis.RateLimiter {
	if a.Redis == nil {
		return nil
	}
	return redis.NewRateLimiter(a.Redis, a.Logger, redis.RateLimitConfig{
		Limit:  a.Config.RateLimit,
		Window: time.Minute,
	})
}

// Rules returns the built-in staging rules in the order they run.
func Rules(opts stager.Options, cfg *config.Config) []stager.Rule {
	rules := []stager.Rule{
		stager.NewErrorLogRule(opts, errorChannels),
	}
	for _, f := range forms {
		rules = append(rules, stager.NewFormRule(opts, f.code, f.permission, f.path, formChannels))
	}
	return append(rules,
		stager.NewFieldScheduleRule(opts, scoutingChannels),
		stager.NewScheduleRule(opts, cfg.ScheduleLead, scoutingChannels),
		stager.NewMatchStrategyRule(opts, strategyChannels),
		stager.NewMeetingRule(opts, cfg.MeetingLead, meetingChannels),
	)
}

func newGateways(ctx context.Context, cfg *config.Config, logger *zap.Logger) (map[string]worker.Gateway, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	providers := []worker.EmailProvider{
		worker.NewSESProvider(ses.NewFromConfig(awsCfg), cfg.SESFromEmail, logger),
	}
	if cfg.ResendAPIKey != "" {
		providers = append(providers, worker.NewResendProvider(cfg.ResendAPIKey, cfg.EmailFrom, logger))
	}

	publisher, err := sns.NewPublisher(ctx, cfg.SNSRegion, cfg.AWSEndpointURL, logger)
	if err != nil {
		return nil, err
	}

	return Gateways(cfg, worker.NewProviderChain(logger, providers...), publisher, logger), nil
}

// Gateways maps every channel code to its gateway.
func Gateways(cfg *config.Config, chain *worker.ProviderChain, publisher worker.PushPublisher, logger *zap.Logger) map[string]worker.Gateway {
	return map[string]worker.Gateway{
		db.ChannelEmail:        worker.NewEmailGateway(chain, logger),
		db.ChannelTxt:          worker.NewCarrierTextGateway(chain, logger),
		db.ChannelNotification: worker.NewPushGateway(publisher, logger),
		db.ChannelDiscord: worker.NewChatGateway(worker.ChatConfig{
			WebhookURL:   cfg.DiscordWebhookURL,
			SystemUserID: cfg.SystemUserID,
			RatePerSec:   cfg.DiscordRatePerSec,
			Timeout:      cfg.SendTimeout,
		}, logger),
		db.ChannelMessage: worker.MessageGateway{},
	}
}
