// Package trigger implements the hold-to-confirm panic button.
//
// # States
//
//	Idle --StartHold--> Holding --hold elapses--> Triggered --Reset--> Idle
//	                       |
//	                   CancelHold
//	                       v
//	                     Idle
//
// While Holding, progress rises linearly from wherever the last hold left
// off and is persisted every ProgressStep, never decreasing. When the hold
// completes, panic.triggered, panic.progress and alert.active are written in
// one store transaction and the dispatcher is called once with a fresh alert
// ID on its own goroutine.
//
// # Restart
//
// Restore reads the two persisted fields. A stored trigger resumes as
// Triggered with its alarm effects restarted and no new dispatch. A partial
// progress value stays in the store; the next StartHold continues from it.
//
// # Concurrency
//
// One mutex guards the state. Each hold gets a generation number, and timer
// callbacks from an older generation return without effect, so a cancelled
// hold can never trigger.
package trigger
