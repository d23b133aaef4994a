package store

import "go.uber.org/zap"

// DefaultMaxSegmentBytes matches the 512-byte design constant of §6: small
// enough that ordinary test workloads trigger rotation. The merge interval
// is configured on the event loop (eventloop.DefaultAutoMergeInterval).
const (
	DefaultMaxSegmentBytes int64 = 512
)

// Config holds Store construction parameters. The zero-value Config, run
// through the option defaults in Open, is usable as-is.
type Config struct {
	MaxSegmentBytes int64
	Logger          *zap.Logger
}

// Option configures a Store at Open time.
type Option func(*Config)

// WithMaxSegmentBytes overrides the active-segment rotation threshold.
func WithMaxSegmentBytes(n int64) Option {
	return func(c *Config) { c.MaxSegmentBytes = n }
}

// WithLogger overrides the structured logger used for recovery, merge, and
// fatal I/O diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() *Config {
	return &Config{
		MaxSegmentBytes: DefaultMaxSegmentBytes,
		Logger:          zap.NewNop(),
	}
}
