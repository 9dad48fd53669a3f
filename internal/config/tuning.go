// Package config loads the robot's tuning/runtime configuration: transport
// addresses, geometry constants, and the gain/threshold knobs the SLAM and
// motion-control core exposes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file. Its
// values match the built-in defaults that the Get* accessors return for
// fields left unset.
const DefaultConfigPath = "config/robot.defaults.json"

// TuningConfig is the root configuration for the robot core. Every field is
// optional (a pointer); fields omitted from the JSON file keep their
// built-in default, returned by the matching Get* accessor, so partial
// configs are safe.
type TuningConfig struct {
	// Transport
	DrivetrainPort     *string `json:"drivetrain_port,omitempty"`
	LidarPort          *string `json:"lidar_port,omitempty"`
	ListenAddr         *string `json:"listen_addr,omitempty"`
	PoseGraphStorePath *string `json:"posegraphstore_path,omitempty"`
	StaticDir          *string `json:"static_dir,omitempty"`

	// Drivetrain geometry and limits
	WheelSeparationMeters *float64 `json:"wheel_separation_meters,omitempty"`
	WheelRadiusMeters     *float64 `json:"wheel_radius_meters,omitempty"`
	MaxWheelSpeed         *float64 `json:"max_wheel_speed_mps,omitempty"`
	VelocityDeadband      *float64 `json:"velocity_deadband_mps,omitempty"`

	// Lidar mount (robot->lidar transform) and scan quality
	LidarMountX      *float64 `json:"lidar_mount_x,omitempty"`
	LidarMountY      *float64 `json:"lidar_mount_y,omitempty"`
	LidarMountThetaR *float64 `json:"lidar_mount_theta_rad,omitempty"`
	MinScanPoints    *int     `json:"min_scan_points,omitempty"`

	// Control loop
	ControlPeriod     *string `json:"control_period,omitempty"` // duration string like "10ms"
	KeyframeDistance  *float64 `json:"keyframe_distance_meters,omitempty"`
	KeyframeRotation  *float64 `json:"keyframe_rotation_rad,omitempty"`

	// Pose estimator / vision fusion
	VisionFusionGain *float64 `json:"vision_fusion_gain,omitempty"`
	BufferRetention  *string  `json:"buffer_retention,omitempty"` // duration string like "1.5s"

	// ICP
	ICPMaxIterations *int     `json:"icp_max_iterations,omitempty"`
	ICPEpsilon       *float64 `json:"icp_epsilon,omitempty"`
	ICPConvergence   *float64 `json:"icp_convergence,omitempty"`

	// Pose graph
	PoseGraphMaxIterations *int     `json:"pose_graph_max_iterations,omitempty"`
	PoseGraphConvergence   *float64 `json:"pose_graph_convergence,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil. Use
// LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file is
// validated to ensure it has a .json extension and is under the max file
// size before being parsed.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching common parent directories. Panics if the
// file cannot be found; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that set configuration values are within allowed ranges
// and that duration strings parse.
func (c *TuningConfig) Validate() error {
	if c.WheelSeparationMeters != nil && *c.WheelSeparationMeters <= 0 {
		return fmt.Errorf("wheel_separation_meters must be positive, got %f", *c.WheelSeparationMeters)
	}
	if c.WheelRadiusMeters != nil && *c.WheelRadiusMeters <= 0 {
		return fmt.Errorf("wheel_radius_meters must be positive, got %f", *c.WheelRadiusMeters)
	}
	if c.MaxWheelSpeed != nil && *c.MaxWheelSpeed <= 0 {
		return fmt.Errorf("max_wheel_speed_mps must be positive, got %f", *c.MaxWheelSpeed)
	}
	if c.MinScanPoints != nil && *c.MinScanPoints < 0 {
		return fmt.Errorf("min_scan_points must be non-negative, got %d", *c.MinScanPoints)
	}
	if c.VisionFusionGain != nil && (*c.VisionFusionGain < 0 || *c.VisionFusionGain > 1) {
		return fmt.Errorf("vision_fusion_gain must be between 0 and 1, got %f", *c.VisionFusionGain)
	}
	if c.ControlPeriod != nil && *c.ControlPeriod != "" {
		if _, err := time.ParseDuration(*c.ControlPeriod); err != nil {
			return fmt.Errorf("invalid control_period %q: %w", *c.ControlPeriod, err)
		}
	}
	if c.BufferRetention != nil && *c.BufferRetention != "" {
		if _, err := time.ParseDuration(*c.BufferRetention); err != nil {
			return fmt.Errorf("invalid buffer_retention %q: %w", *c.BufferRetention, err)
		}
	}
	if c.ICPMaxIterations != nil && *c.ICPMaxIterations <= 0 {
		return fmt.Errorf("icp_max_iterations must be positive, got %d", *c.ICPMaxIterations)
	}
	if c.PoseGraphMaxIterations != nil && *c.PoseGraphMaxIterations <= 0 {
		return fmt.Errorf("pose_graph_max_iterations must be positive, got %d", *c.PoseGraphMaxIterations)
	}
	return nil
}

// GetDrivetrainPort returns the drivetrain serial port path or the default.
func (c *TuningConfig) GetDrivetrainPort() string {
	if c.DrivetrainPort == nil {
		return "/dev/ttyDrivetrain"
	}
	return *c.DrivetrainPort
}

// GetLidarPort returns the lidar serial port path or the default.
func (c *TuningConfig) GetLidarPort() string {
	if c.LidarPort == nil {
		return "/dev/ttyLidar"
	}
	return *c.LidarPort
}

// GetListenAddr returns the telemetry HTTP/WS listen address or the default.
func (c *TuningConfig) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetStaticDir returns the directory the dashboard's prebuilt SPA is
// served from, or "" when no static serving is configured.
func (c *TuningConfig) GetStaticDir() string {
	if c.StaticDir == nil {
		return ""
	}
	return *c.StaticDir
}

// GetPoseGraphStorePath returns the sqlite database path backing session
// replay/audit storage, or the default.
func (c *TuningConfig) GetPoseGraphStorePath() string {
	if c.PoseGraphStorePath == nil {
		return "robot.posegraph.db"
	}
	return *c.PoseGraphStorePath
}

// GetWheelSeparationMeters returns the wheel separation (track width) or the default.
func (c *TuningConfig) GetWheelSeparationMeters() float64 {
	if c.WheelSeparationMeters == nil {
		return 0.30
	}
	return *c.WheelSeparationMeters
}

// GetWheelRadiusMeters returns the wheel radius or the default.
func (c *TuningConfig) GetWheelRadiusMeters() float64 {
	if c.WheelRadiusMeters == nil {
		return 0.04
	}
	return *c.WheelRadiusMeters
}

// GetMaxWheelSpeed returns the per-wheel speed cap (m/s) or the default.
func (c *TuningConfig) GetMaxWheelSpeed() float64 {
	if c.MaxWheelSpeed == nil {
		return 0.5
	}
	return *c.MaxWheelSpeed
}

// GetVelocityDeadband returns the commanded-velocity deadband (m/s) or the default.
func (c *TuningConfig) GetVelocityDeadband() float64 {
	if c.VelocityDeadband == nil {
		return 0.02
	}
	return *c.VelocityDeadband
}

// GetLidarMount returns the robot->lidar mount offset (x, y meters, theta radians).
func (c *TuningConfig) GetLidarMount() (x, y, theta float64) {
	x, y, theta = 0, 0, 0
	if c.LidarMountX != nil {
		x = *c.LidarMountX
	}
	if c.LidarMountY != nil {
		y = *c.LidarMountY
	}
	if c.LidarMountThetaR != nil {
		theta = *c.LidarMountThetaR
	}
	return x, y, theta
}

// GetMinScanPoints returns the minimum point count for a usable scan or the default.
func (c *TuningConfig) GetMinScanPoints() int {
	if c.MinScanPoints == nil {
		return 10
	}
	return *c.MinScanPoints
}

// GetControlPeriod returns the fixed control-loop period or the default (10ms).
func (c *TuningConfig) GetControlPeriod() time.Duration {
	if c.ControlPeriod == nil || *c.ControlPeriod == "" {
		return 10 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.ControlPeriod)
	if err != nil {
		return 10 * time.Millisecond
	}
	return d
}

// GetKeyframeDistance returns the travel-distance keyframe threshold (meters) or the default.
func (c *TuningConfig) GetKeyframeDistance() float64 {
	if c.KeyframeDistance == nil {
		return 0.1
	}
	return *c.KeyframeDistance
}

// GetKeyframeRotation returns the rotation keyframe threshold (radians) or the default.
func (c *TuningConfig) GetKeyframeRotation() float64 {
	if c.KeyframeRotation == nil {
		return 0.5
	}
	return *c.KeyframeRotation
}

// GetVisionFusionGain returns the fixed vision-fusion blend gain α or the default (0.1).
func (c *TuningConfig) GetVisionFusionGain() float64 {
	if c.VisionFusionGain == nil {
		return 0.1
	}
	return *c.VisionFusionGain
}

// GetBufferRetention returns the time-interpolatable buffer retention window or the default.
func (c *TuningConfig) GetBufferRetention() time.Duration {
	if c.BufferRetention == nil || *c.BufferRetention == "" {
		return 1500 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.BufferRetention)
	if err != nil {
		return 1500 * time.Millisecond
	}
	return d
}

// GetICPMaxIterations returns the ICP iteration cap or the default.
func (c *TuningConfig) GetICPMaxIterations() int {
	if c.ICPMaxIterations == nil {
		return 50
	}
	return *c.ICPMaxIterations
}

// GetICPEpsilon returns the ICP damping epsilon or the default.
func (c *TuningConfig) GetICPEpsilon() float64 {
	if c.ICPEpsilon == nil {
		return 1e-6
	}
	return *c.ICPEpsilon
}

// GetICPConvergence returns the ICP step-size convergence threshold or the default.
func (c *TuningConfig) GetICPConvergence() float64 {
	if c.ICPConvergence == nil {
		return 1e-9
	}
	return *c.ICPConvergence
}

// GetPoseGraphMaxIterations returns the Gauss-Newton iteration cap or the default.
func (c *TuningConfig) GetPoseGraphMaxIterations() int {
	if c.PoseGraphMaxIterations == nil {
		return 10
	}
	return *c.PoseGraphMaxIterations
}

// GetPoseGraphConvergence returns the Gauss-Newton step-size convergence threshold or the default.
func (c *TuningConfig) GetPoseGraphConvergence() float64 {
	if c.PoseGraphConvergence == nil {
		return 1e-10
	}
	return *c.PoseGraphConvergence
}
