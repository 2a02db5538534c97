// Package config handles configuration loading for the dashboard server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Cache    CacheConfig    `yaml:"cache"`
	Heatmap  HeatmapConfig  `yaml:"heatmap"`
	Boxplot  BoxplotConfig  `yaml:"boxplot"`
	Palette  PaletteConfig  `yaml:"palette"`
	Render   RenderConfig   `yaml:"render"`
	Sessions SessionsConfig `yaml:"sessions"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DataConfig contains data source settings.
//
// Kingdoms are kept in YAML order; the first one is the default unless
// default_kingdom is set.
type DataConfig struct {
	Source         string                   `yaml:"source"` // "file" or "http"
	Root           string                   `yaml:"root"`
	BaseURL        string                   `yaml:"base_url"`
	DefaultKingdom string                   `yaml:"default_kingdom"`
	Kingdoms       map[string]KingdomConfig `yaml:"-"`
	kingdomOrder   []string
}

// KingdomConfig describes one organism group (host, bacteria, fungi, ...).
type KingdomConfig struct {
	Ranks           []string `yaml:"ranks"`
	Projections     []string `yaml:"projections"`
	Contrasts       []string `yaml:"contrasts"`
	DefaultVariable string   `yaml:"default_variable"`
	ConditionField  string   `yaml:"condition_field"`
	ConditionOrder  []string `yaml:"condition_order"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TableSizeMB     int `yaml:"table_size_mb"`
	TableTTLMinutes int `yaml:"table_ttl_minutes"`
	ParsedTables    int `yaml:"parsed_tables"`
	Features        int `yaml:"features"`
}

// HeatmapConfig contains heatmap layout settings, in pixels.
type HeatmapConfig struct {
	MaxFeatures     int    `yaml:"max_features"`
	RowHeight       int    `yaml:"row_height"`
	ColumnWidth     int    `yaml:"column_width"`
	DendrogramSize  int    `yaml:"dendrogram_size"`
	SizeLegendWidth int    `yaml:"size_legend_width"`
	MarginTop       int    `yaml:"margin_top"`
	MarginBottom    int    `yaml:"margin_bottom"`
	MarginLeft      int    `yaml:"margin_left"`
	MarginRight     int    `yaml:"margin_right"`
	MaxHeight       int    `yaml:"max_height"`
	MaxWidth        int    `yaml:"max_width"`
	MinLabelPixels  int    `yaml:"min_label_px"`
	DefaultColormap string `yaml:"colormap"`
}

// BoxplotConfig contains boxplot view settings.
type BoxplotConfig struct {
	MaxFeatures int `yaml:"max_features"`
}

// PaletteConfig contains reserved colors and continuous colormap settings.
type PaletteConfig struct {
	MissingColor   string   `yaml:"missing_color"`
	MaleColor      string   `yaml:"male_color"`
	FemaleColor    string   `yaml:"female_color"`
	Colormap       string   `yaml:"colormap"`
	DiscreteFields []string `yaml:"discrete_fields"`
}

// RenderConfig contains PNG export settings for the embedding views.
type RenderConfig struct {
	ViewSize    int     `yaml:"view_size"`
	PointRadius float64 `yaml:"point_radius"`
}

// SessionsConfig contains session snapshot persistence settings.
type SessionsConfig struct {
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UnmarshalYAML decodes the data section, preserving kingdom order.
func (d *DataConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("data: expected mapping, got kind %d", node.Kind)
	}
	d.Kingdoms = make(map[string]KingdomConfig)
	d.kingdomOrder = nil

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "source":
			d.Source = val.Value
		case "root":
			d.Root = val.Value
		case "base_url":
			d.BaseURL = val.Value
		case "default_kingdom":
			d.DefaultKingdom = val.Value
		case "kingdoms":
			if val.Kind != yaml.MappingNode {
				return fmt.Errorf("data.kingdoms: expected mapping")
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				name := val.Content[j].Value
				var kc KingdomConfig
				if err := val.Content[j+1].Decode(&kc); err != nil {
					return fmt.Errorf("data.kingdoms.%s: %w", name, err)
				}
				if _, dup := d.Kingdoms[name]; !dup {
					d.kingdomOrder = append(d.kingdomOrder, name)
				}
				d.Kingdoms[name] = kc
			}
		default:
			return fmt.Errorf("data: unknown key %q", key)
		}
	}
	return nil
}

// KingdomIDs returns all kingdom IDs in config order.
func (d DataConfig) KingdomIDs() []string {
	out := make([]string, len(d.kingdomOrder))
	copy(out, d.kingdomOrder)
	return out
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Data.Source {
	case "file":
		if c.Data.Root == "" {
			return fmt.Errorf("data.root is required for file source")
		}
	case "http":
		if c.Data.BaseURL == "" {
			return fmt.Errorf("data.base_url is required for http source")
		}
	default:
		return fmt.Errorf("data.source must be \"file\" or \"http\", got %q", c.Data.Source)
	}
	if _, ok := c.Data.Kingdoms[c.Data.DefaultKingdom]; !ok {
		return fmt.Errorf("data.default_kingdom %q is not configured", c.Data.DefaultKingdom)
	}
	for id, k := range c.Data.Kingdoms {
		if len(k.Ranks) == 0 {
			return fmt.Errorf("data.kingdoms.%s: at least one rank is required", id)
		}
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Multi-omics Explorer",
		},
		Data: DataConfig{
			Source:         "file",
			Root:           "./data",
			DefaultKingdom: "host",
			Kingdoms: map[string]KingdomConfig{
				"host": defaultKingdom(),
			},
			kingdomOrder: []string{"host"},
		},
		Cache: CacheConfig{
			TableSizeMB:     256,
			TableTTLMinutes: 30,
			ParsedTables:    256,
			Features:        512,
		},
		Heatmap: HeatmapConfig{
			MaxFeatures:     20,
			RowHeight:       20,
			ColumnWidth:     12,
			DendrogramSize:  80,
			SizeLegendWidth: 60,
			MarginTop:       40,
			MarginBottom:    120,
			MarginLeft:      160,
			MarginRight:     40,
			MaxHeight:       1200,
			MaxWidth:        1600,
			MinLabelPixels:  8,
			DefaultColormap: "rdbu",
		},
		Boxplot: BoxplotConfig{
			MaxFeatures: 10,
		},
		Palette: PaletteConfig{
			MissingColor: "#d3d3d3",
			MaleColor:    "#4c72b0",
			FemaleColor:  "#dd8452",
			Colormap:     "viridis",
		},
		Render: RenderConfig{
			ViewSize:    640,
			PointRadius: 3,
		},
		Sessions: SessionsConfig{
			SQLitePath:    "./data/sessions.sqlite",
			RetentionDays: 30,
		},
	}
}

func defaultKingdom() KingdomConfig {
	return KingdomConfig{
		Ranks:           []string{"gene"},
		Projections:     []string{"umap", "tsne"},
		DefaultVariable: "condition",
		ConditionField:  "condition",
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}

	if cfg.Data.Source == "" {
		cfg.Data.Source = defaults.Data.Source
	}
	if cfg.Data.Source == "file" && cfg.Data.Root == "" {
		cfg.Data.Root = defaults.Data.Root
	}
	if len(cfg.Data.Kingdoms) == 0 {
		cfg.Data.Kingdoms = defaults.Data.Kingdoms
		cfg.Data.kingdomOrder = defaults.Data.kingdomOrder
	}
	if cfg.Data.DefaultKingdom == "" && len(cfg.Data.kingdomOrder) > 0 {
		cfg.Data.DefaultKingdom = cfg.Data.kingdomOrder[0]
	}
	for id, k := range cfg.Data.Kingdoms {
		if len(k.Projections) == 0 {
			k.Projections = defaultKingdom().Projections
		}
		if k.ConditionField == "" {
			k.ConditionField = "condition"
		}
		if k.DefaultVariable == "" {
			k.DefaultVariable = k.ConditionField
		}
		cfg.Data.Kingdoms[id] = k
	}

	if cfg.Cache.TableSizeMB == 0 {
		cfg.Cache.TableSizeMB = defaults.Cache.TableSizeMB
	}
	if cfg.Cache.TableTTLMinutes == 0 {
		cfg.Cache.TableTTLMinutes = defaults.Cache.TableTTLMinutes
	}
	if cfg.Cache.ParsedTables == 0 {
		cfg.Cache.ParsedTables = defaults.Cache.ParsedTables
	}
	if cfg.Cache.Features == 0 {
		cfg.Cache.Features = defaults.Cache.Features
	}

	h, dh := &cfg.Heatmap, defaults.Heatmap
	setInt(&h.MaxFeatures, dh.MaxFeatures)
	setInt(&h.RowHeight, dh.RowHeight)
	setInt(&h.ColumnWidth, dh.ColumnWidth)
	setInt(&h.DendrogramSize, dh.DendrogramSize)
	setInt(&h.SizeLegendWidth, dh.SizeLegendWidth)
	setInt(&h.MarginTop, dh.MarginTop)
	setInt(&h.MarginBottom, dh.MarginBottom)
	setInt(&h.MarginLeft, dh.MarginLeft)
	setInt(&h.MarginRight, dh.MarginRight)
	setInt(&h.MaxHeight, dh.MaxHeight)
	setInt(&h.MaxWidth, dh.MaxWidth)
	setInt(&h.MinLabelPixels, dh.MinLabelPixels)
	if h.DefaultColormap == "" {
		h.DefaultColormap = dh.DefaultColormap
	}

	setInt(&cfg.Boxplot.MaxFeatures, defaults.Boxplot.MaxFeatures)

	if cfg.Palette.MissingColor == "" {
		cfg.Palette.MissingColor = defaults.Palette.MissingColor
	}
	if cfg.Palette.MaleColor == "" {
		cfg.Palette.MaleColor = defaults.Palette.MaleColor
	}
	if cfg.Palette.FemaleColor == "" {
		cfg.Palette.FemaleColor = defaults.Palette.FemaleColor
	}
	if cfg.Palette.Colormap == "" {
		cfg.Palette.Colormap = defaults.Palette.Colormap
	}

	setInt(&cfg.Render.ViewSize, defaults.Render.ViewSize)
	if cfg.Render.PointRadius <= 0 {
		cfg.Render.PointRadius = defaults.Render.PointRadius
	}

	if cfg.Sessions.SQLitePath == "" {
		cfg.Sessions.SQLitePath = defaults.Sessions.SQLitePath
	}
	if cfg.Sessions.RetentionDays == 0 {
		cfg.Sessions.RetentionDays = defaults.Sessions.RetentionDays
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

// ApplyEnv overrides data location and port from DASH_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("DASH_DATA_ROOT"); v != "" {
		c.Data.Source = "file"
		c.Data.Root = v
	}
	if v := os.Getenv("DASH_BASE_URL"); v != "" {
		c.Data.Source = "http"
		c.Data.BaseURL = v
	}
	if v := os.Getenv("DASH_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}
