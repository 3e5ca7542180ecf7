// Package backend is the HTTP client for the monitoring service.
//
// Four calls exist: SendReading (periodic telemetry), TriggerPanic, Login and
// Logout. None of them retry. Callers decide what a failure means; the
// uploader logs and moves on, the dispatcher logs once.
//
// A 2xx status is success. Anything else comes back as *StatusError, and a
// 401 additionally matches ErrUnauthorized:
//
//	if errors.Is(err, backend.ErrUnauthorized) {
//		// session rejected by the server
//	}
package backend
