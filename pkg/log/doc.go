// Package log provides structured logging for cncshadowd using zerolog.
//
// WithComponent returns a logger that tags every line with a component
// field. The orchestrator (pkg/shadow) logs through one named "shadow";
// the rebuild engine, USB manager, watcher, and lock manager do not log
// themselves, and their failures reach the log through the orchestrator.
package log
