// Package v4l adapts Linux video4linux devices to the camera capabilities.
//
// Devices are discovered under /sys/class/video4linux, permission is the
// process's read/write access to the device nodes, and acquiring a stream
// holds the node open so other scanners see it as taken. HotplugMonitor
// listens for udev netlink events so the device list can be refreshed when
// cameras come and go.
package v4l
