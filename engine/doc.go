// Package engine implements the reference real-time audio VM driven by the
// control bridge.
//
// This package contains:
//   - A lexer and compiler for a small shred language (globals, events,
//     time advance, loops, console output)
//   - The shreduler, which runs shreds against a sample clock
//   - Global variable and global event storage
//   - The host message queue, drained at the start of every Advance
//   - The audio driver goroutine that advances the VM in real time
//
// Host-facing writes, reads, signals and listener changes are queued and only
// take effect when the VM is advanced, either by the audio driver or by an
// explicit Advance call. Deliveries to host callbacks happen on the goroutine
// performing the Advance, after the VM lock has been released.
package engine
