// Package camera owns capture device discovery, permission checks, and the
// capture session lifecycle.
//
// The host supplies three capabilities through small interfaces:
// PermissionQuerier, Enumerator, and Acquirer. PermissionGate, Catalog, and
// Session layer the scanner's policy on top of them: a missing permission
// capability means "prompt", enumeration failures yield an empty device list,
// and a Session is the only component allowed to start or stop a stream.
package camera
