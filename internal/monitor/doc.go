// Package monitor runs the background telemetry upload loop.
//
// While running, the Uploader ticks once per interval. A tick with no valid
// session is skipped without any network activity. Otherwise it snapshots
// the sampler, reads alert.active from the store, and posts one reading on
// its own goroutine so the timer never waits on the network.
//
// At most MaxInFlight sends run at once; a tick that finds the limit
// reached is dropped rather than queued. Failures are logged and never
// retried. A 401 is logged like any other failure unless
// InvalidateOnUnauthorized is set, in which case the token is rejected and
// later ticks skip until the next login.
package monitor
