package config

import (
	"fmt"
	"time"
)

// DomainConfig holds all configurable business rules and constraints
type DomainConfig struct {
	// Graph constraints
	MaxNodesPerMap int
	MaxEdgesPerMap int
	MaxDepth       int

	// Node constraints
	MaxLabelLength       int
	MinLabelLength       int
	MaxDescriptionLength int

	// Radial layout
	NodeWidth        float64
	NodeMargin       float64
	MinRadius        float64
	MaxRadius        float64
	HighImportance   float64 // radius offset, pulls toward the parent
	LowImportance    float64 // radius offset, pushes away from the parent

	// Identifier resolution
	MaxSlugAttempts int

	// Stream parsing
	MaxFrameBytes  int
	MaxBufferBytes int

	// Replay timing
	ReplayFrameDelay     time.Duration
	ReplayChunkDelay     time.Duration
	ReplayWordsPerChunk  int

	// Persistence
	MaxUpsertRetries  int
	LockTTL           time.Duration
	LockRetryInterval time.Duration

	// Content constraints
	MaxChaptersPerTopic    int
	MaxParagraphsPerChapter int
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		// Graph constraints
		MaxNodesPerMap: 500,
		MaxEdgesPerMap: 500,
		MaxDepth:       6,

		// Node constraints
		MaxLabelLength:       120,
		MinLabelLength:       1,
		MaxDescriptionLength: 2000,

		// Radial layout
		NodeWidth:      180,
		NodeMargin:     40,
		MinRadius:      250,
		MaxRadius:      520,
		HighImportance: -35,
		LowImportance:  35,

		// Identifier resolution
		MaxSlugAttempts: 25,

		// Stream parsing
		MaxFrameBytes:  256 * 1024,
		MaxBufferBytes: 1024 * 1024,

		// Replay timing
		ReplayFrameDelay:    40 * time.Millisecond,
		ReplayChunkDelay:    15 * time.Millisecond,
		ReplayWordsPerChunk: 4,

		// Persistence
		MaxUpsertRetries:  3,
		LockTTL:           2 * time.Minute,
		LockRetryInterval: 100 * time.Millisecond,

		// Content constraints
		MaxChaptersPerTopic:     20,
		MaxParagraphsPerChapter: 12,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	// Tighter limits for production
	config.MaxNodesPerMap = 300
	config.MaxEdgesPerMap = 300
	config.MaxDepth = 4
	config.MaxSlugAttempts = 10

	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	// More permissive for development
	config.MaxNodesPerMap = 2000
	config.MaxEdgesPerMap = 2000
	config.MaxDepth = 10

	// Fast replay keeps local iteration quick
	config.ReplayFrameDelay = 10 * time.Millisecond
	config.ReplayChunkDelay = 5 * time.Millisecond

	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	if c.MinRadius <= 0 || c.MaxRadius < c.MinRadius {
		return fmt.Errorf("invalid radius bounds: min=%f max=%f", c.MinRadius, c.MaxRadius)
	}
	if c.NodeWidth <= 0 {
		return fmt.Errorf("node width must be positive, got %f", c.NodeWidth)
	}
	if c.MaxSlugAttempts < 1 {
		return fmt.Errorf("slug attempt cap must be at least 1, got %d", c.MaxSlugAttempts)
	}
	if c.MaxUpsertRetries < 1 {
		return fmt.Errorf("upsert retry bound must be at least 1, got %d", c.MaxUpsertRetries)
	}
	return nil
}
