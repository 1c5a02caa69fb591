// Package config holds the flag-driven settings for the control
// core, mirroring the shape of the Python original's config.models
// dataclasses relevant to the serial bus, scheduler, and behaviour
// thresholds.
package config

import (
	"flag"
	"time"

	"github.com/librescoot/egg-collector/pkg/bus"
)

// SerialLinkConfig describes the one physical RS-485 link shared by the
// actor and arm links.
type SerialLinkConfig struct {
	Port            string
	BaudRate        int
	Parity          bus.Parity
	StopBits        bus.StopBits
	ReadTimeout     time.Duration
	ReconnectDelay  time.Duration
	AckTimeout      time.Duration
	ResponseTimeout time.Duration
	ReadChunkSize   int
}

// BusConfig translates this link's settings into a pkg/bus.Config.
func (c SerialLinkConfig) BusConfig() bus.Config {
	return bus.Config{
		Port:           c.Port,
		BaudRate:       c.BaudRate,
		Parity:         c.Parity,
		StopBits:       c.StopBits,
		ReadTimeout:    c.ReadTimeout,
		ReadChunkSize:  c.ReadChunkSize,
		ReconnectDelay: c.ReconnectDelay,
	}
}

// DefaultSerialLinkConfig mirrors the Python SerialLinkConfig defaults.
func DefaultSerialLinkConfig(port string) SerialLinkConfig {
	return SerialLinkConfig{
		Port:            port,
		BaudRate:        115200,
		Parity:          bus.ParityNone,
		StopBits:        bus.OneStopBit,
		ReadTimeout:     100 * time.Millisecond,
		ReconnectDelay:  2 * time.Second,
		AckTimeout:      500 * time.Millisecond,
		ResponseTimeout: time.Second,
		ReadChunkSize:   1,
	}
}

// SchedulerConfig holds the timer intervals/durations the control
// engine and context depend on.
type SchedulerConfig struct {
	ActorStatusInterval time.Duration
	ArmStatusInterval   time.Duration
	ScanOnlyTimeout     time.Duration
	MoveOnlyDuration    time.Duration
}

// DefaultSchedulerConfig mirrors the Python SchedulerConfig defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ActorStatusInterval: time.Second,
		ArmStatusInterval:   time.Second,
		ScanOnlyTimeout:     5 * time.Second,
		MoveOnlyDuration:    5 * time.Second,
	}
}

// BehaviourConfig holds the patrol/pick thresholds the control context
// applies.
type BehaviourConfig struct {
	DistanceStopThresholdCM  float64
	DetectionCenterTolerance float64
	DetectionMinConfidence   float64
	MaxArmPickAttempts       int
}

// DefaultBehaviourConfig mirrors the Python BehaviourConfig defaults.
func DefaultBehaviourConfig() BehaviourConfig {
	return BehaviourConfig{
		DistanceStopThresholdCM:  30.0,
		DetectionCenterTolerance: 0.2,
		DetectionMinConfidence:   0.5,
		MaxArmPickAttempts:       3,
	}
}

// ControlConfig is the top-level configuration passed to the control
// context and engine.
type ControlConfig struct {
	Serial    SerialLinkConfig
	Scheduler SchedulerConfig
	Behaviour BehaviourConfig
}

// DefaultControlConfig mirrors the Python ControlConfig defaults, with
// the shared serial port defaulting to the one the original wires both
// devices onto.
func DefaultControlConfig() ControlConfig {
	return ControlConfig{
		Serial:    DefaultSerialLinkConfig("/dev/ttyUSB0"),
		Scheduler: DefaultSchedulerConfig(),
		Behaviour: DefaultBehaviourConfig(),
	}
}

// RegisterFlags binds cfg's fields to flag.CommandLine, following the
// teacher's flag-based configuration style.
func RegisterFlags(cfg *ControlConfig) {
	flag.StringVar(&cfg.Serial.Port, "serial-port", cfg.Serial.Port, "shared serial device path for the actor and arm bus")
	flag.IntVar(&cfg.Serial.BaudRate, "serial-baud", cfg.Serial.BaudRate, "serial baud rate")
	flag.DurationVar(&cfg.Serial.AckTimeout, "ack-timeout", cfg.Serial.AckTimeout, "command ACK timeout")
	flag.DurationVar(&cfg.Serial.ResponseTimeout, "response-timeout", cfg.Serial.ResponseTimeout, "status response timeout")
	flag.DurationVar(&cfg.Scheduler.ActorStatusInterval, "actor-status-interval", cfg.Scheduler.ActorStatusInterval, "actor status poll interval")
	flag.DurationVar(&cfg.Scheduler.ArmStatusInterval, "arm-status-interval", cfg.Scheduler.ArmStatusInterval, "arm status poll interval")
	flag.DurationVar(&cfg.Scheduler.ScanOnlyTimeout, "scan-only-timeout", cfg.Scheduler.ScanOnlyTimeout, "scan-only state timeout before moving")
	flag.DurationVar(&cfg.Scheduler.MoveOnlyDuration, "move-only-duration", cfg.Scheduler.MoveOnlyDuration, "move-only state duration before second turn")
	flag.Float64Var(&cfg.Behaviour.DistanceStopThresholdCM, "distance-stop-threshold-cm", cfg.Behaviour.DistanceStopThresholdCM, "obstacle distance that triggers a stop-and-turn")
	flag.Float64Var(&cfg.Behaviour.DetectionCenterTolerance, "detection-center-tolerance", cfg.Behaviour.DetectionCenterTolerance, "fraction of image width a pick candidate's center may deviate from center")
	flag.Float64Var(&cfg.Behaviour.DetectionMinConfidence, "detection-min-confidence", cfg.Behaviour.DetectionMinConfidence, "minimum detector confidence to consider a pick candidate")
	flag.IntVar(&cfg.Behaviour.MaxArmPickAttempts, "max-arm-pick-attempts", cfg.Behaviour.MaxArmPickAttempts, "maximum pick attempts per target before skipping it")
}
