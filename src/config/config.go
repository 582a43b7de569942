package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime settings of the map server.
type Config struct {
	Server struct {
		Addr            string   `json:"addr" yaml:"addr"`                         // listen address
		ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`         // http.Server.ReadTimeout
		WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout"`       // http.Server.WriteTimeout
		IdleTimeout     Duration `json:"idle_timeout" yaml:"idle_timeout"`         // http.Server.IdleTimeout
		ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"` // grace period on SIGINT/SIGTERM
		AllowedOrigins  []string `json:"allowed_origins" yaml:"allowed_origins"`   // CORS origins for the JSON API
	} `json:"server" yaml:"server"`

	DataDir    string `json:"data_dir" yaml:"data_dir"`       // directory holding the static inputs
	GeoFile    string `json:"geo_file" yaml:"geo_file"`       // district boundaries (GeoJSON)
	IncomeFile string `json:"income_file" yaml:"income_file"` // income per district and year (.csv or .xlsx)

	LogName       string   `json:"log_name" yaml:"log_name"`
	LogLevel      string   `json:"log_level" yaml:"log_level"`
	LogMaxSize    string   `json:"log_max_size" yaml:"log_max_size"`       // e.g. "10 * 1024 * 1024"
	LogRotateSpec string   `json:"log_rotate_spec" yaml:"log_rotate_spec"` // cron spec for the size check
	CacheTTL      Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// MapStyle describes the fixed presentation of the choropleth.
type MapStyle struct {
	CenterLat   float64 `json:"center_lat" yaml:"center_lat"`
	CenterLon   float64 `json:"center_lon" yaml:"center_lon"`
	Zoom        float64 `json:"zoom" yaml:"zoom"`
	Height      int     `json:"height" yaml:"height"`
	MapboxStyle string  `json:"mapbox_style" yaml:"mapbox_style"`
	ColorScale  string  `json:"color_scale" yaml:"color_scale"`
	FontFamily  string  `json:"font_family" yaml:"font_family"`
	FontSize    int     `json:"font_size" yaml:"font_size"`
	Background  string  `json:"background" yaml:"background"`
	Separators  string  `json:"separators" yaml:"separators"`
	ColorTitle  string  `json:"color_title" yaml:"color_title"`
	Currency    string  `json:"currency" yaml:"currency"`
}

// PageText is the static copy shown around the map.
type PageText struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	SliderLabel string `json:"slider_label" yaml:"slider_label"`
}

// DataConfig describes the shape of the input files and how they are cleaned.
type DataConfig struct {
	PrefixWidth     int               `json:"prefix_width" yaml:"prefix_width"`         // runes dropped from each district label
	DistrictColumn  string            `json:"district_column" yaml:"district_column"`   // header of the label column
	NameProperty    string            `json:"name_property" yaml:"name_property"`       // GeoJSON property carrying the district name
	Encoding        string            `json:"encoding" yaml:"encoding"`                 // income file charset
	Delimiter       string            `json:"delimiter" yaml:"delimiter"`               // income file field separator
	NameCorrections map[string]string `json:"name_corrections" yaml:"name_corrections"` // label fixes applied before the join

	ColorBar struct {
		RoundTo int `json:"round_to" yaml:"round_to"`
		Padding int `json:"padding" yaml:"padding"`
		Step    int `json:"step" yaml:"step"`
	} `json:"color_bar" yaml:"color_bar"`

	Map  MapStyle `json:"map" yaml:"map"`
	Page PageText `json:"page" yaml:"page"`
}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	mu                 sync.RWMutex
)

const description = `The interactive map on this page shows data about the average income for persons above the age of 14 in each of the ten districts of Copenhagen.
Below you can choose which year data will be shown for. Data is from the City of Copenhagen Statbank.`

// DefaultConfig returns the settings used when no config file is present.
func DefaultConfig() *Config {
	cfg := &Config{
		DataDir:       "data",
		GeoFile:       "geodata-districts-cph.json",
		IncomeFile:    "avg-income-districts-cph.csv",
		LogName:       "app.log",
		LogLevel:      "info",
		LogMaxSize:    "10 * 1024 * 1024",
		LogRotateSpec: "@every 1m",
		CacheTTL:      Duration(time.Hour),
	}
	cfg.Server.Addr = ":8050"
	cfg.Server.ReadTimeout = Duration(15 * time.Second)
	cfg.Server.WriteTimeout = Duration(15 * time.Second)
	cfg.Server.IdleTimeout = Duration(60 * time.Second)
	cfg.Server.ShutdownTimeout = Duration(30 * time.Second)
	cfg.Server.AllowedOrigins = []string{"http://localhost:8050", "http://127.0.0.1:8050"}
	return cfg
}

// DefaultDataConfig returns the cleaning rules and styling for the
// Statbank export of average income per district.
func DefaultDataConfig() *DataConfig {
	dcfg := &DataConfig{
		PrefixWidth:    11,
		DistrictColumn: "district",
		NameProperty:   "navn",
		Encoding:       "ISO-8859-1",
		Delimiter:      ";",
		NameCorrections: map[string]string{
			"Vesterbro/Kongens Enghave": "Vesterbro-Kongens Enghave",
		},
		Map: MapStyle{
			CenterLat:   55.6760968,
			CenterLon:   12.5543311,
			Zoom:        10.9,
			Height:      800,
			MapboxStyle: "carto-positron",
			ColorScale:  "YlGn",
			FontFamily:  "Roboto",
			FontSize:    16,
			Background:  "#fbfbfb",
			Separators:  ",.",
			ColorTitle:  "Average income",
			Currency:    "dkr.",
		},
		Page: PageText{
			Title:       "How the average income in the districts of Copenhagen has changed",
			Description: description,
			SliderLabel: "Choose year:",
		},
	}
	dcfg.ColorBar.RoundTo = 10000
	dcfg.ColorBar.Padding = 10000
	dcfg.ColorBar.Step = 40000
	return dcfg
}

// LoadConfig loads both config files once per process. Later calls return
// the first result.
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	var err error
	once.Do(func() {
		instance, dataConfigInstance, err = loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, err
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read data config: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, isYAML(configFile), cfgChan, errChan)
	go parseDataConfig(dataConfigData, isYAML(dataConfigFile), dcfgChan, errChan)

	cfg, dcfg, err := waitForResults(cfgChan, dcfgChan, errChan)
	if err != nil {
		return nil, nil, err
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := dcfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, dcfg, nil
}

// readFile returns nil data and no error for a missing file so the
// defaults apply.
func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", filePath, err)
	}
	return data, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshal(data []byte, asYAML bool, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if asYAML {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func parseConfig(data []byte, asYAML bool, resultChan chan<- *Config, errChan chan<- error) {
	cfg := DefaultConfig()
	if err := unmarshal(data, asYAML, cfg); err != nil {
		errChan <- fmt.Errorf("parse Config: %w", err)
		return
	}
	resultChan <- cfg
}

func parseDataConfig(data []byte, asYAML bool, resultChan chan<- *DataConfig, errChan chan<- error) {
	dcfg := DefaultDataConfig()
	if err := unmarshal(data, asYAML, dcfg); err != nil {
		errChan <- fmt.Errorf("parse DataConfig: %w", err)
		return
	}
	resultChan <- dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg  *Config
		dcfg *DataConfig
		errs []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, nil, combineErrors(errs)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("configuration only partially loaded")
	}

	return cfg, dcfg, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}

	msg := "config loading failed:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

func (c *Config) applyEnvOverrides() {
	c.Server.Addr = getEnvWithDefault("INCOMEMAP_ADDR", c.Server.Addr)
	c.DataDir = getEnvWithDefault("INCOMEMAP_DATA_DIR", c.DataDir)
	c.LogLevel = getEnvWithDefault("INCOMEMAP_LOG_LEVEL", c.LogLevel)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.GeoFile == "" || c.IncomeFile == "" {
		return fmt.Errorf("geo_file and income_file must be set")
	}
	return nil
}

// Validate rejects cleaning rules that cannot produce a colour scale.
func (dc *DataConfig) Validate() error {
	if dc.PrefixWidth < 0 {
		return fmt.Errorf("prefix_width must be >= 0, got %d", dc.PrefixWidth)
	}
	if dc.ColorBar.Step <= 0 {
		return fmt.Errorf("color_bar.step must be > 0, got %d", dc.ColorBar.Step)
	}
	if dc.ColorBar.RoundTo <= 0 {
		return fmt.Errorf("color_bar.round_to must be > 0, got %d", dc.ColorBar.RoundTo)
	}
	if len([]rune(dc.Delimiter)) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", dc.Delimiter)
	}
	return nil
}

// GeoPath is the absolute-or-relative path of the boundary file.
func (c *Config) GeoPath() string { return filepath.Join(c.DataDir, c.GeoFile) }

// IncomePath is the path of the income table.
func (c *Config) IncomePath() string { return filepath.Join(c.DataDir, c.IncomeFile) }

// Duration wraps time.Duration so it can be written as "5m" in JSON and YAML.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// GetNameCorrection returns the replacement label for name, if any.
func (dc *DataConfig) GetNameCorrection(name string) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	v, ok := dc.NameCorrections[name]
	return v, ok
}

// SetNameCorrection registers a label fix. Only used while building configs.
func (dc *DataConfig) SetNameCorrection(from, to string) {
	mu.Lock()
	defer mu.Unlock()
	if dc.NameCorrections == nil {
		dc.NameCorrections = make(map[string]string)
	}
	dc.NameCorrections[from] = to
}
