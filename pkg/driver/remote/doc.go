// Package remote speaks the webpilot driver protocol: newline-delimited
// JSON frames (READY, CMD, EVENT, DONE, ERROR, EXIT) over any byte stream.
//
// Client implements engine.Backend on top of a connection to a driver
// daemon, so the execution engine drives a remote browser the same way it
// drives an in-process backend. Server answers the same protocol against
// any engine.Backend; cmd/simdriver serves it over TCP against the
// simulator.
package remote
