// Package config loads daemon configuration for the mgmtd, meta, and
// storage daemons from a YAML file. The teacher configures everything
// via CLI flags and struct literals; FFS daemons carry enough shared,
// cluster-wide state (bootstrap peers, chain table seed, timeouts) that
// a file makes more sense than a flag per field.
package config
