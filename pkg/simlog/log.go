// Package simlog provides the leveled, allocation-cheap logging used across
// the fuzzer control plane. Components never call fmt.Println directly;
// they take a Logf function value so callers (tests, the CLI, the event log)
// can redirect or silence output without a global logger.
package simlog

import (
	"bytes"
	"fmt"
)

// Func is the logging hook threaded through every component. Level follows
// the convention used across the control plane: 0 is always printed, higher
// levels are progressively more verbose and are typically gated behind a
// verbosity flag.
type Func func(level int, msg string, args ...interface{})

// Discard drops every message. Components use it in place of a nil Func.
func Discard(int, string, ...interface{}) {}

// Printf returns a Func that writes to fmt.Printf, prefixed with the level.
func Printf() Func {
	return func(level int, msg string, args ...interface{}) {
		fmt.Printf("["+fmt.Sprint(level)+"] "+msg+"\n", args...)
	}
}

// Truncate leaves up to begin bytes at the beginning of log and up to end
// bytes at the end, replacing the middle with a byte-count marker. Used to
// cap oversized exception/console output before it is written to the event
// log or a solutions file.
func Truncate(log []byte, begin, end int) []byte {
	if begin+end >= len(log) {
		return log
	}
	var b bytes.Buffer
	b.Write(log[:begin])
	if begin > 0 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "<<cut %d bytes out>>",
		len(log)-begin-end,
	)
	if end > 0 {
		b.WriteString("\n\n")
	}
	b.Write(log[len(log)-end:])
	return b.Bytes()
}
