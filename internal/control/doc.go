// Package control exposes the companion over a local HTTP API.
//
// The API stands in for the phone UI and the platform bridge: pressing and
// releasing the panic button, pushing sensor samples, answering the location
// permission prompt, signing in and out, erasing the account, and editing
// settings and contacts.
// Bodies are JSON and errors are {"error": "..."}.
package control
