// Package vmtar drives the vendor vmtar tool, which converts between the
// ESXi visorfs container format and plain tar. The container format is
// opaque to this module; only the tool's command line is relied upon:
//
//	vmtar -x <container> -o <tar>
//	vmtar -c <tar> -o <container>
package vmtar
