// Package preflight provides readiness checks behind `mdl doctor`: stored
// credentials, output and state directories, free space and API reachability.
package preflight
