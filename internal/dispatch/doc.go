// Package dispatch delivers panic alerts to the backend.
//
// A dispatch goes through, in order: the session gate, the location
// permission check, a location fix (falling back to the last stored one),
// and a single POST. Each alert ID is sent at most once; the dedupe cache
// is marked before the request goes out, so a failed send is not retried.
//
// When permission is denied the user is asked and the alert is held as
// pending. PermissionGranted sends it later if the alert is still active.
package dispatch
