// Package config loads resilience configuration from environment
// variables, with sensible defaults for every knob. The ToPool, ToBreaker,
// and ToBatch bridges convert the flat env-backed structs into each
// primitive's own config type.
package config
