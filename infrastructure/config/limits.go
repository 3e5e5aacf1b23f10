package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"proofcanvas/domain/canvas"
)

// Limits holds runtime-changeable relay limits
type Limits struct {
	// MaxConnectionsPerUser caps concurrent sockets of one user across rooms
	MaxConnectionsPerUser int `yaml:"maxConnectionsPerUser"`
	// MaxMessageBytes is the largest inbound frame a connection may send
	MaxMessageBytes int64 `yaml:"maxMessageBytes"`
	// MessageBurst and MessageRefill shape the per connection token bucket
	MessageBurst  int `yaml:"messageBurst"`
	MessageRefill int `yaml:"messageRefillMillis"`

	Canvas CanvasLimits `yaml:"canvas"`
}

// CanvasLimits mirrors canvas.Limits for the room graphs the relay keeps
type CanvasLimits struct {
	MaxNodes         int `yaml:"maxNodes"`
	MaxEdges         int `yaml:"maxEdges"`
	MaxTitleLength   int `yaml:"maxTitleLength"`
	MaxContentLength int `yaml:"maxContentLength"`
}

// DefaultLimits returns the limits used when no file is configured
func DefaultLimits() Limits {
	c := canvas.DefaultLimits()
	return Limits{
		MaxConnectionsPerUser: 8,
		MaxMessageBytes:       1 << 20,
		MessageBurst:          120,
		MessageRefill:         10,
		Canvas: CanvasLimits{
			MaxNodes:         c.MaxNodes,
			MaxEdges:         c.MaxEdges,
			MaxTitleLength:   c.MaxTitleLength,
			MaxContentLength: c.MaxContentLength,
		},
	}
}

// Graph converts the canvas section to domain limits
func (l Limits) Graph() canvas.Limits {
	return canvas.Limits{
		MaxNodes:         l.Canvas.MaxNodes,
		MaxEdges:         l.Canvas.MaxEdges,
		MaxTitleLength:   l.Canvas.MaxTitleLength,
		MaxContentLength: l.Canvas.MaxContentLength,
	}
}

// Validate checks the limits are usable
func (l Limits) Validate() error {
	if l.MaxConnectionsPerUser <= 0 {
		return fmt.Errorf("maxConnectionsPerUser must be positive")
	}
	if l.MaxMessageBytes < 1024 {
		return fmt.Errorf("maxMessageBytes must be at least 1024")
	}
	if l.MessageBurst <= 0 || l.MessageRefill <= 0 {
		return fmt.Errorf("messageBurst and messageRefillMillis must be positive")
	}
	if l.Canvas.MaxNodes <= 0 || l.Canvas.MaxEdges <= 0 {
		return fmt.Errorf("canvas maxNodes and maxEdges must be positive")
	}
	if l.Canvas.MaxTitleLength <= 0 || l.Canvas.MaxContentLength <= 0 {
		return fmt.Errorf("canvas text limits must be positive")
	}
	return nil
}

// LoadLimits reads limits from a YAML file. Missing fields keep their defaults.
func LoadLimits(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("failed to read limits file: %w", err)
	}

	limits := DefaultLimits()
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return Limits{}, fmt.Errorf("failed to parse limits YAML: %w", err)
	}
	if err := limits.Validate(); err != nil {
		return Limits{}, err
	}
	return limits, nil
}
