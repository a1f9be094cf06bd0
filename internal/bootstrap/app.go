package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/GoSim-25-26J-441/adsec-backend/config"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/archive"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/repository"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/service"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/events"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/logging"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/storage/postgres"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// App holds the wired services shared by the API server and the worker CLI
type App struct {
	Config *config.Config
	DB     *sql.DB
	Redis  *redis.Client
	Bus    events.Bus

	Pipeline    *analysis.Pipeline
	Assessments *service.AssessmentService
	Uploads     *service.UploadService
	AIConfig    *service.AIConfigService
	Runs        *service.RunManager
}

// NewApp connects to Postgres (and Redis when configured), ensures the schema
// and wires every service. Runs started by the app live on root.
func NewApp(root context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewLogger(root)

	db, err := postgres.NewConnection(root, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(root, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	app := &App{Config: cfg, DB: db}

	var lock service.Locker
	if cfg.Redis.Addr != "" {
		app.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := app.Redis.Ping(root).Err(); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.Bus = events.NewRedisBus(app.Redis)
		lock = events.NewRunLock(app.Redis, instanceID(), events.DefaultLockTTL)
		logger.LogInfof("bootstrap", "redis connected at %s", cfg.Redis.Addr)
	} else {
		app.Bus = events.NewLocalBus()
		logger.LogInfof("bootstrap", "REDIS_ADDR not set, using in-process events")
	}

	var archiver service.Archiver
	store, err := archive.New(cfg.Storage)
	if err != nil {
		app.Close()
		return nil, err
	}
	if store != nil {
		if err := store.EnsureBucket(root); err != nil {
			logger.LogWarnf("bootstrap", "upload archive disabled: %v", err)
		} else {
			archiver = store
		}
	}

	assessmentRepo := repository.NewAssessmentRepository(db)
	dataRepo := repository.NewDataRepository(db)
	findingRepo := repository.NewFindingRepository(db)
	logRepo := repository.NewLogRepository(db)
	configRepo := repository.NewConfigRepository(db)

	app.AIConfig = service.NewAIConfigService(configRepo, cfg.AI)

	catalogue, err := analysis.DefaultCatalogue()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Pipeline, err = analysis.NewPipeline(cfg.Analysis, analysis.Deps{
		Assessments: assessmentRepo,
		Documents:   dataRepo,
		Findings:    findingRepo,
		Logs:        logRepo,
		Providers:   app.AIConfig,
		Events:      app.Bus,
		Catalogue:   catalogue,
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Runs = service.NewRunManager(root, app.Pipeline, lock, true)
	categoryIDs := catalogue.IDs()
	app.Assessments = service.NewAssessmentService(assessmentRepo, findingRepo, logRepo, dataRepo, app.Bus, app.Runs, categoryIDs)
	app.Uploads = service.NewUploadService(assessmentRepo, dataRepo, archiver, app.Bus, app.Runs, cfg.Analysis.AutoAnalyze, categoryIDs)

	return app, nil
}

// Close releases the database and redis connections
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

// redisPinger adapts the redis client to the health check
type redisPinger struct{ client *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "adsec"
	}
	return host + "-" + uuid.New().String()[:8]
}
