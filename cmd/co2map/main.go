package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/co2map/internal/config"
	"github.com/lox/co2map/internal/ingest"
	"github.com/lox/co2map/internal/logging"
	"github.com/lox/co2map/internal/models"
	"github.com/lox/co2map/internal/store"
)

type CLI struct {
	EnvFile kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to a .env file.'"`

	DB              string        `default:"data/co2map.db" env:"CO2MAP_DB" help:"Path to the SQLite audit database."`
	DataDir         string        `default:"." env:"CO2MAP_DATA_DIR" help:"Directory holding the default yearly CSV files."`
	Datasets        string        `optional:"" type:"existingfile" env:"CO2MAP_DATASETS" help:"YAML file listing years, sources and colors."`
	ArchiveFallback bool          `env:"CO2MAP_ARCHIVE_FALLBACK" help:"Use the last archived copy of a year when its source cannot be fetched."`
	FetchTimeout    time.Duration `default:"2m" env:"CO2MAP_FETCH_TIMEOUT" help:"Total retry window per dataset."`
	RetentionDays   int           `default:"30" env:"CO2MAP_RETENTION_DAYS" help:"Days to keep archived payloads (the newest per year is always kept)."`
	Env             string        `default:"development" enum:"development,production" env:"CO2MAP_ENV" help:"Logging preset."`
	LogLevel        string        `env:"CO2MAP_LOG_LEVEL" help:"Log level override (debug, info, warn, error)."`

	Serve     ServeCmd     `cmd:"" default:"withargs" help:"Load the datasets and serve the map, chart and API."`
	Summarize SummarizeCmd `cmd:"" help:"Print per-year averages inside a GeoJSON polygon."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("co2map"),
		kong.Description("Compare yearly CO2 measurements inside a drawn polygon."),
		kong.UsageOnError(),
	)

	logger, err := logging.New(cli.Env, cli.LogLevel)
	kctx.FatalIfErrorf(err)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(&cli, logger); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

// datasetConfig returns the datasets file when given, else the default years
// read from DataDir.
func (c *CLI) datasetConfig() (*config.Config, error) {
	if c.Datasets != "" {
		return config.Load(c.Datasets)
	}
	return config.Default(c.DataDir), nil
}

// openStore opens and migrates the audit database.
func (c *CLI) openStore(logger *zap.Logger) (*store.Store, func(), error) {
	if c.DB != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(c.DB), 0755); err != nil {
			return nil, nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := store.Open(c.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	if c.RetentionDays > 0 {
		n, err := st.CleanupOldRawPayloads(c.RetentionDays)
		if err != nil {
			logger.Warn("cleanup archived payloads", zap.Error(err))
		} else if n > 0 {
			logger.Info("removed archived payloads", zap.Int64("count", n))
		}
	}
	return st, func() { db.Close() }, nil
}

// loadDatasets records the configured datasets and loads every year.
func (c *CLI) loadDatasets(ctx context.Context, st *store.Store, datasets []models.Dataset, logger *zap.Logger) (models.YearDataset, error) {
	for _, ds := range datasets {
		if err := st.UpsertDataset(ds); err != nil {
			return nil, fmt.Errorf("record dataset %d: %w", ds.Year, err)
		}
	}

	loader := ingest.NewLoader(ingest.NewFetcher().WithMaxElapsedTime(c.FetchTimeout), st, logger)
	loader.SetArchiveFallback(c.ArchiveFallback)
	return loader.LoadAll(ctx, datasets)
}
