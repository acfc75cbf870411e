// Package buildinfo carries the version stamp reported by ringmesh's
// command-line entrypoints.
package buildinfo

// Version is overridden at link time via -ldflags "-X ringmesh/internal/buildinfo.Version=...".
var Version = "dev"
