package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/lox/co2map/internal/geo"
	"github.com/lox/co2map/internal/pipeline"
	"github.com/lox/co2map/internal/render"
)

type SummarizeCmd struct {
	Polygon string `arg:"" type:"existingfile" help:"GeoJSON file with a Polygon geometry, Feature or FeatureCollection."`
	JSON    bool   `help:"Print the result as JSON."`
	Chart   string `type:"path" help:"Also write the bar chart PNG here."`
	Overlay string `type:"path" help:"Also write the point overlay PNG here."`
}

func (c *SummarizeCmd) Run(ctx context.Context, cli *CLI, logger *zap.Logger) error {
	raw, err := os.ReadFile(c.Polygon)
	if err != nil {
		return err
	}
	polygon, err := geo.ParsePolygon(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Polygon, err)
	}

	cfg, err := cli.datasetConfig()
	if err != nil {
		return err
	}
	st, closeStore, err := cli.openStore(logger)
	if err != nil {
		return err
	}
	defer closeStore()

	dataset, err := cli.loadDatasets(ctx, st, cfg.ModelDatasets(), logger)
	if err != nil {
		return err
	}

	years := cfg.Years()
	res := pipeline.NewRunner(logger).Run(dataset, years, &polygon)
	if res.Skipped != "" {
		return fmt.Errorf("nothing computed: %s", res.Skipped)
	}

	palette := render.NewPalette(cfg.Colors())
	if c.Chart != "" {
		png, err := render.RenderChart(res.Averages, years, palette)
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.Chart, png, 0644); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}
	if c.Overlay != "" {
		png, err := render.RenderOverlay(polygon, res.Points, years, palette)
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.Overlay, png, 0644); err != nil {
			return fmt.Errorf("write overlay: %w", err)
		}
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printTable(os.Stdout, res)
}

func printTable(w io.Writer, res pipeline.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "YEAR\tAVERAGE (ppm)\tINSIDE\tROWS\tDROPPED")
	for _, d := range res.Diagnostics {
		avg := "no data"
		if v := res.Averages[d.Year]; v != nil {
			avg = strconv.FormatFloat(*v, 'f', 2, 64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\n", d.Year, avg, d.Inside, d.Rows, d.Dropped)
	}
	return tw.Flush()
}
