// Package preflight provides readiness checks for the paths, executables,
// devices and remote endpoint voucherscan depends on.
//
// The scan command runs RunAll before opening the camera and refuses to start
// when a required check fails. The status command renders every Result.
package preflight
