package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/datastore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/olivere/elastic/v7"

	"github.com/locvowork/appendsheet/internal/config"
	"github.com/locvowork/appendsheet/internal/database"
	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/internal/handler"
	"github.com/locvowork/appendsheet/internal/logger"
	"github.com/locvowork/appendsheet/internal/repository"
	"github.com/locvowork/appendsheet/internal/service"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

type App struct {
	Echo      *echo.Echo
	DB        *sql.DB
	Elastic   *elastic.Client
	Datastore *datastore.Client
	Port      string
}

func NewApp() *App {
	e := echo.New()
	e.HideBanner = true
	return &App{Echo: e}
}

func (a *App) Initialize(ctx context.Context) error {
	// Load environment configuration
	if err := config.LoadEnvConfig(); err != nil {
		return fmt.Errorf("failed to load env config: %w", err)
	}
	cfg := config.DefaultEnvConfig
	a.Port = cfg.APP_PORT

	logger.InitLogging(cfg.LOG_FILE_PATH, cfg.LOG_LEVEL)
	logger.InfoLog(ctx, "Environment variables loaded successfully")

	schema, err := appendsheet.LoadSchema(cfg.SCHEMA_PATH)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	reg, err := appendsheet.LoadTemplates(cfg.TEMPLATE_PATHS, appendsheet.WithRegistryLogger(logger.Logger()))
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	logger.InfoLog(ctx, "Loaded %d template(s), sheets %v", len(cfg.TEMPLATE_PATHS), reg.Sheets())

	var sources repository.Sources
	if cfg.DB_ENABLED {
		db, err := database.Open(ctx, database.Config{
			Driver:          cfg.DB_DRIVER,
			Host:            cfg.DB_HOST,
			Port:            cfg.DB_PORT,
			User:            cfg.DB_USER,
			Password:        cfg.DB_PASSWORD,
			DBName:          cfg.DB_NAME,
			SSLMode:         cfg.DB_SSL_MODE,
			Path:            cfg.DB_PATH,
			MaxOpenConns:    cfg.DB_MAX_OPEN_CONNS,
			MaxIdleConns:    cfg.DB_MAX_IDLE_CONNS,
			ConnMaxLifetime: cfg.DB_CONN_MAX_LIFETIME,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.DB = db
		sources.SQL = repository.NewBlockRepository(db)
		logger.InfoLog(ctx, "Database connection established (%s)", cfg.DB_DRIVER)
	}
	if cfg.ELASTIC_URL != "" {
		client, err := database.NewElasticClient(cfg.ELASTIC_URL)
		if err != nil {
			return fmt.Errorf("failed to initialize elasticsearch: %w", err)
		}
		a.Elastic = client
		sources.Elastic = repository.NewSearchRepository(client)
		logger.InfoLog(ctx, "Elasticsearch connection established (%s)", cfg.ELASTIC_URL)
	}
	if cfg.DATASTORE_PROJECT != "" {
		client, err := database.NewDatastoreClient(ctx, cfg.DATASTORE_PROJECT)
		if err != nil {
			return fmt.Errorf("failed to initialize datastore: %w", err)
		}
		a.Datastore = client
		sources.Datastore = repository.NewDatastoreRepository(client)
		logger.InfoLog(ctx, "Datastore client ready (project %s)", cfg.DATASTORE_PROJECT)
	}

	var blocks domain.BlockRepository
	if sources != (repository.Sources{}) {
		blocks = repository.NewSourceRouter(sources)
	}

	exportSvc := service.NewExportService(reg, schema, blocks, cfg.BUFFER_SIZE, cfg.COERCE_VALUES)
	exportHandler := handler.NewExportHandler(exportSvc)

	a.RegisterMiddlewares()
	a.RegisterRoutes(exportHandler)
	return nil
}

func (a *App) RegisterMiddlewares() {
	a.Echo.Use(middleware.Logger())
	a.Echo.Use(middleware.Recover())
	a.Echo.Use(middleware.CORS())
}

func (a *App) RegisterRoutes(exportHandler *handler.ExportHandler) {
	a.Echo.GET("/healthz", handler.HealthHandler)
	a.Echo.GET("/templates", exportHandler.TemplatesHandler)
	a.Echo.POST("/exports", exportHandler.ExportHandler)
}

func (a *App) Run() error {
	if a.DB != nil {
		defer a.DB.Close()
	}
	if a.Elastic != nil {
		defer a.Elastic.Stop()
	}
	if a.Datastore != nil {
		defer a.Datastore.Close()
	}
	return a.Echo.Start(":" + a.Port)
}
