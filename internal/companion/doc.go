// Package companion assembles the carekeeper daemon.
//
// New opens the state store, seeds user settings from configuration on
// first run, and connects the session guard, backend client, sampler,
// sensor source, alert dispatcher, panic trigger, uploader and control API.
// Logging in starts the uploader; logging out stops it and reloads the
// trigger from the cleared store.
//
// Run restores the persisted trigger, resumes uploads when a valid session
// survived the restart, then serves the control API and runs the sensor
// source until the context is cancelled. Shutdown is bounded to five
// seconds and waits for in-flight uploads and alerts before closing the
// store.
package companion
