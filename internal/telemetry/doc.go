// Package telemetry holds the latest motion and location readings.
//
// Sensor callbacks arrive at unrelated times and possibly from several
// goroutines. Each group (accelerometer, gyroscope, location) is replaced
// as a whole through an atomic pointer, so a Snapshot may mix groups from
// different moments but never mixes axes of one vector. There is no queue:
// the last writer wins.
package telemetry
