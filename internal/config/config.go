package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/agentsim/internal/timeutil"
)

var parseDatetime = timeutil.ParseDatetime

// DefaultConfigPath is the path to the canonical simulation defaults file.
const DefaultConfigPath = "config/simulation.defaults.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root of the run configuration. Scalar fields are pointers so
// an omitted key falls back to the Get* default.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
	Agents     AgentsConfig     `yaml:"agents" json:"agents"`
	Collision  CollisionConfig  `yaml:"collision" json:"collision"`
	Obstacles  []ObstacleConfig `yaml:"obstacles" json:"obstacles,omitempty"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Sensors    []SensorConfig   `yaml:"sensors" json:"sensors,omitempty"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// SimulationConfig holds the tick loop parameters.
type SimulationConfig struct {
	TimeStep        *float64 `yaml:"time_step" json:"time_step,omitempty"`
	DurationSeconds *float64 `yaml:"duration_seconds" json:"duration_seconds,omitempty"`
	MaximumFrames   *int     `yaml:"maximum_frames" json:"maximum_frames,omitempty"`
	Width           *float64 `yaml:"width" json:"width,omitempty"`
	Height          *float64 `yaml:"height" json:"height,omitempty"`
	NumThreads      *int     `yaml:"num_threads" json:"num_threads,omitempty"`
	Datetime        *string  `yaml:"datetime" json:"datetime,omitempty"` // 2006-01-02T15:04:05, UTC unless zoned
	Scenario        *string  `yaml:"scenario" json:"scenario,omitempty"`
	Seed            *uint64  `yaml:"seed" json:"seed,omitempty"`
	Realtime        *bool    `yaml:"realtime" json:"realtime,omitempty"`
}

// AgentsConfig holds the population parameters.
type AgentsConfig struct {
	WaypointDistance *float64         `yaml:"waypoint_distance" json:"waypoint_distance,omitempty"`
	NumAgents        *int             `yaml:"num_agents" json:"num_agents,omitempty"`
	RoadUserTaxonomy []RoadUserConfig `yaml:"road_user_taxonomy" json:"road_user_taxonomy"`
}

// RoadUserConfig is one entry of the road-user taxonomy.
type RoadUserConfig struct {
	Type          string             `yaml:"type" json:"type"`
	Probability   float64            `yaml:"probability" json:"probability"`
	Priority      int                `yaml:"priority" json:"priority"`
	Radius        float64            `yaml:"radius" json:"radius"`
	Color         string             `yaml:"color" json:"color,omitempty"`
	Velocity      VelocityConfig     `yaml:"velocity" json:"velocity"`
	Acceleration  AccelerationConfig `yaml:"acceleration" json:"acceleration"`
	LookAheadTime float64            `yaml:"look_ahead_time" json:"look_ahead_time"`
}

// VelocityConfig is the speed distribution of a road-user type.
type VelocityConfig struct {
	Min         float64  `yaml:"min" json:"min"`
	Max         float64  `yaml:"max" json:"max"`
	Mu          float64  `yaml:"mu" json:"mu"`
	Sigma       float64  `yaml:"sigma" json:"sigma"`
	NoiseScale  *float64 `yaml:"noise_scale" json:"noise_scale,omitempty"`
	NoiseFactor *float64 `yaml:"noise_factor" json:"noise_factor,omitempty"`
}

// AccelerationConfig bounds acceleration of a road-user type.
type AccelerationConfig struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// CollisionConfig configures the uniform collision grid.
type CollisionConfig struct {
	Grid struct {
		CellSize *float64 `yaml:"cell_size" json:"cell_size,omitempty"`
	} `yaml:"grid" json:"grid"`
}

// ObstacleConfig is a static obstacle. Only rectangles are supported.
type ObstacleConfig struct {
	Type     string    `yaml:"type" json:"type"`
	Position []float64 `yaml:"position" json:"position"`
	Size     []float64 `yaml:"size" json:"size"`
	Color    string    `yaml:"color" json:"color,omitempty"`
}

// DatabaseConfig configures the sqlite sink.
type DatabaseConfig struct {
	Path          *string `yaml:"path" json:"path,omitempty"`
	ClearDatabase *bool   `yaml:"clear_database" json:"clear_database,omitempty"`
	RecordAgents  *bool   `yaml:"record_agents" json:"record_agents,omitempty"`
}

// SensorConfig describes one sensor.
type SensorConfig struct {
	ID            string        `yaml:"id" json:"id,omitempty"`
	Type          string        `yaml:"type" json:"type"`
	FrameRate     float64       `yaml:"frame_rate" json:"frame_rate"`
	DetectionArea AreaConfig    `yaml:"detection_area" json:"detection_area"`
	Grid          GridConfig    `yaml:"grid" json:"grid"`
	Privacy       PrivacyConfig `yaml:"privacy" json:"privacy"`
}

// AreaConfig is an axis-aligned rectangle.
type AreaConfig struct {
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// GridConfig sizes the sensor grid. For adaptive sensors CellSize is the
// side of each of the four quadtree root cells.
type GridConfig struct {
	CellSize float64 `yaml:"cell_size" json:"cell_size"`
	MaxDepth int     `yaml:"max_depth" json:"max_depth"`
}

// PrivacyConfig sets the k used for the k-anonymity flag on cell records.
type PrivacyConfig struct {
	K int `yaml:"k" json:"k"`
}

// ServerConfig holds listen addresses of the frame consumers.
type ServerConfig struct {
	Listen     *string `yaml:"listen" json:"listen,omitempty"`
	GRPCListen *string `yaml:"grpc_listen" json:"grpc_listen,omitempty"`
}

// Load reads a configuration from a .yaml, .yml or .json file and
// validates it. Omitted fields keep their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, ext)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates configuration bytes. ext selects the decoder
// and is one of ".yaml", ".yml" or ".json".
func Parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	var lastErr error
	for _, path := range candidates {
		cfg, err := Load(path)
		if err == nil {
			return cfg
		}
		lastErr = err
	}
	panic(fmt.Sprintf("cannot load %s: %v", DefaultConfigPath, lastErr))
}

// GetTimeStep returns the simulated seconds per tick.
func (c *Config) GetTimeStep() float64 {
	if c.Simulation.TimeStep == nil {
		return 0.1
	}
	return *c.Simulation.TimeStep
}

// GetMaxFrames returns the number of ticks to run. duration_seconds takes
// precedence over maximum_frames.
func (c *Config) GetMaxFrames() int {
	if d := c.Simulation.DurationSeconds; d != nil {
		return int(*d/c.GetTimeStep() + 1e-9)
	}
	if c.Simulation.MaximumFrames != nil {
		return *c.Simulation.MaximumFrames
	}
	return 600
}

// GetWidth returns the world width.
func (c *Config) GetWidth() float64 {
	if c.Simulation.Width == nil {
		return 100
	}
	return *c.Simulation.Width
}

// GetHeight returns the world height.
func (c *Config) GetHeight() float64 {
	if c.Simulation.Height == nil {
		return 100
	}
	return *c.Simulation.Height
}

// GetNumThreads returns how many sensors may consume a frame concurrently.
func (c *Config) GetNumThreads() int {
	if c.Simulation.NumThreads == nil || *c.Simulation.NumThreads < 1 {
		return 1
	}
	return *c.Simulation.NumThreads
}

// GetStartTime returns the simulated wall-clock start, or fallback when no
// datetime is configured.
func (c *Config) GetStartTime(fallback time.Time) time.Time {
	if c.Simulation.Datetime == nil || *c.Simulation.Datetime == "" {
		return fallback
	}
	t, err := parseDatetime(*c.Simulation.Datetime)
	if err != nil {
		return fallback
	}
	return t
}

// GetScenario returns the spawn scenario name.
func (c *Config) GetScenario() string {
	if c.Simulation.Scenario == nil || *c.Simulation.Scenario == "" {
		return "default"
	}
	return *c.Simulation.Scenario
}

// GetSeed returns the random seed. Zero means "seed from the clock" and is
// resolved by the caller.
func (c *Config) GetSeed() uint64 {
	if c.Simulation.Seed == nil {
		return 0
	}
	return *c.Simulation.Seed
}

// GetRealtime reports whether ticks are paced to the wall clock.
func (c *Config) GetRealtime() bool {
	if c.Simulation.Realtime == nil {
		return false
	}
	return *c.Simulation.Realtime
}

// GetWaypointDistance returns the trajectory waypoint spacing.
func (c *Config) GetWaypointDistance() float64 {
	if c.Agents.WaypointDistance == nil {
		return 5
	}
	return *c.Agents.WaypointDistance
}

// GetNumAgents returns the population size.
func (c *Config) GetNumAgents() int {
	if c.Agents.NumAgents == nil {
		return 50
	}
	return *c.Agents.NumAgents
}

// GetCollisionCellSize returns the collision grid cell size.
func (c *Config) GetCollisionCellSize() float64 {
	if c.Collision.Grid.CellSize == nil {
		return 5
	}
	return *c.Collision.Grid.CellSize
}

// GetDatabasePath returns the sqlite file path.
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == nil || *c.Database.Path == "" {
		return "agentsim.db"
	}
	return *c.Database.Path
}

// GetClearDatabase reports whether previous records are wiped at start-up.
func (c *Config) GetClearDatabase() bool {
	if c.Database.ClearDatabase == nil {
		return false
	}
	return *c.Database.ClearDatabase
}

// GetRecordAgents reports whether ground-truth agent records are written
// every tick.
func (c *Config) GetRecordAgents() bool {
	if c.Database.RecordAgents == nil {
		return true
	}
	return *c.Database.RecordAgents
}

// GetListen returns the admin HTTP listen address.
func (c *Config) GetListen() string {
	if c.Server.Listen == nil || *c.Server.Listen == "" {
		return ":8080"
	}
	return *c.Server.Listen
}

// GetGRPCListen returns the gRPC frame stream listen address.
func (c *Config) GetGRPCListen() string {
	if c.Server.GRPCListen == nil || *c.Server.GRPCListen == "" {
		return ":50051"
	}
	return *c.Server.GRPCListen
}
