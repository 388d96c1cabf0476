// Package config describes which yearly datasets to load and how to color
// them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lox/co2map/internal/models"
)

// DefaultYears are the years compared when no datasets file is given.
var DefaultYears = []int{2019, 2023}

// DefaultSourcePattern names the processed OCO-3 export for a year.
const DefaultSourcePattern = "oco3_LtCO2_%d_processed.csv"

var validate = validator.New()

// DatasetConfig is one year's entry in the datasets file.
type DatasetConfig struct {
	Year   int    `yaml:"year" validate:"required,gt=0"`
	Source string `yaml:"source" validate:"required"`
	Color  string `yaml:"color" validate:"omitempty,hexcolor,len=7"`
}

// Config is the datasets file.
type Config struct {
	Datasets []DatasetConfig `yaml:"datasets" validate:"required,min=1,dive"`
}

// Default returns the 2019/2023 datasets read from dataDir.
func Default(dataDir string) *Config {
	cfg := &Config{}
	for _, y := range DefaultYears {
		cfg.Datasets = append(cfg.Datasets, DatasetConfig{
			Year:   y,
			Source: filepath.Join(dataDir, fmt.Sprintf(DefaultSourcePattern, y)),
		})
	}
	return cfg
}

// Load reads and validates a YAML datasets file. Relative local sources are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datasets file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse datasets file %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, ds := range cfg.Datasets {
		if ds.Source != "" && !strings.Contains(ds.Source, "://") && !filepath.IsAbs(ds.Source) {
			cfg.Datasets[i].Source = filepath.Join(base, ds.Source)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks field rules and that no year is listed twice.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	seen := make(map[int]bool, len(c.Datasets))
	for _, ds := range c.Datasets {
		if seen[ds.Year] {
			return fmt.Errorf("year %d listed more than once", ds.Year)
		}
		seen[ds.Year] = true
	}
	return nil
}

// Years returns the configured years in ascending order.
func (c *Config) Years() []int {
	years := make([]int, 0, len(c.Datasets))
	for _, ds := range c.Datasets {
		years = append(years, ds.Year)
	}
	sort.Ints(years)
	return years
}

// Colors returns the configured colors by year.
func (c *Config) Colors() map[int]string {
	out := make(map[int]string, len(c.Datasets))
	for _, ds := range c.Datasets {
		if ds.Color != "" {
			out[ds.Year] = ds.Color
		}
	}
	return out
}

// ModelDatasets returns the entries as models, in year order.
func (c *Config) ModelDatasets() []models.Dataset {
	out := make([]models.Dataset, 0, len(c.Datasets))
	for _, ds := range c.Datasets {
		out = append(out, models.Dataset{Year: ds.Year, Source: ds.Source, Color: ds.Color})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s needs at least %s entries", field, e.Param()))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, e.Param()))
		case "hexcolor", "len":
			msgs = append(msgs, fmt.Sprintf("%s must be a hex color like #ff6384", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", field))
		}
	}
	return fmt.Errorf("invalid datasets config: %s", strings.Join(msgs, "; "))
}
