// Package workspace owns the scratch area of a run: a uniquely named
// directory created per run and removed on release, an exclusive lock on the
// scratch parent, and the per-archive file naming inside it.
//
// The lock serialises runs sharing a scratch parent. Runs started with
// different scratch parents do not see each other's lock.
package workspace
