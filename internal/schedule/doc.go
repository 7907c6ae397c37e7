// Package schedule provides an injectable clock and a cancellable repeating
// task.
//
// A Task calls its function on a single goroutine; the function returns the
// delay before the next run, so callers implement throttling and deferral by
// choosing that delay. Cancel stops the task, waits for the goroutine to
// exit, and is safe to call repeatedly. Tests drive tasks with a fake Clock
// instead of wall-clock sleeps.
package schedule
