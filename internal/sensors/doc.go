// Package sensors adapts device readings into the telemetry sampler.
//
// On a phone the platform sensor APIs would implement Source. Here a
// Simulated source stands in for development, and Passive does nothing so
// a bridge can push readings over the control API instead. The package also
// provides the location fix and permission collaborators the dispatcher
// needs.
package sensors
