// Package logs reads the daemon's log file for the CLI.
//
// Last returns the final lines of the file together with the byte offset
// they end at. Follow continues from an offset and hands every newly written
// line to a callback until the context is cancelled; it wakes on fsnotify
// events for the file and starts over when the file is truncated or rotated.
package logs
