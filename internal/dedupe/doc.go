// Package dedupe tracks alert IDs that have already been dispatched so a
// trigger transition, a restart and a late permission grant cannot send the
// same alert twice.
package dedupe
