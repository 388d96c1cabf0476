package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lox/co2map/internal/api"
	"github.com/lox/co2map/internal/insight"
	"github.com/lox/co2map/internal/pipeline"
	"github.com/lox/co2map/internal/render"
)

type ServeCmd struct {
	Addr        string `default:":8080" env:"CO2MAP_ADDR" help:"HTTP listen address."`
	OpenAIKey   string `name:"openai-key" env:"OPENAI_API_KEY" help:"Enables /api/insight narratives."`
	OpenAIModel string `name:"openai-model" env:"CO2MAP_OPENAI_MODEL" help:"Chat model for narratives."`
}

// Run starts the server straight away and loads the datasets behind it.
// Polygon endpoints answer 503 until every year has loaded.
func (c *ServeCmd) Run(ctx context.Context, cli *CLI, logger *zap.Logger) error {
	cfg, err := cli.datasetConfig()
	if err != nil {
		return err
	}
	st, closeStore, err := cli.openStore(logger)
	if err != nil {
		return err
	}
	defer closeStore()

	years := cfg.Years()
	session := pipeline.NewSession(logger)
	server := api.NewServer(session, st, c.Addr, years, render.NewPalette(cfg.Colors()), logger)

	if gen, err := insight.NewGenerator(c.OpenAIKey, c.OpenAIModel, logger); err != nil {
		if !errors.Is(err, insight.ErrDisabled) {
			return err
		}
		logger.Info("insight disabled", zap.Error(err))
	} else {
		server.SetNarrator(gen)
	}

	go func() {
		dataset, err := cli.loadDatasets(ctx, st, cfg.ModelDatasets(), logger)
		if err != nil {
			logger.Error("datasets not loaded", zap.Error(err))
			server.SetLoadError(err)
			return
		}
		prepared, err := pipeline.NewRunner(logger).Prepare(dataset, years)
		if err != nil {
			logger.Error("prepare datasets", zap.Error(err))
			server.SetLoadError(err)
			return
		}
		session.SetData(prepared)
		logger.Info("datasets ready", zap.Ints("years", years))
	}()

	return server.Run(ctx)
}
