// Package settings holds the user-adjustable preferences and the custom
// emergency contact list. Everything is persisted through internal/store;
// the Service keeps no state of its own.
package settings
