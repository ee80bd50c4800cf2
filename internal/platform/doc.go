// Package platform wraps the filesystem calls whose behaviour differs between
// operating systems: permission bits and durably flushing a directory entry.
// On Windows both are no-ops.
package platform
