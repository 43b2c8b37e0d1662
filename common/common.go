// Package common holds shared build-level constants.
package common

// PackageName identifies this module in logs and metrics.
const PackageName = "portfolio-oracle"

// Version is set at build time via -ldflags.
var Version = "dev"
