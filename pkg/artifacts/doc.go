// Package artifacts publishes run artifacts to their configured destination.
//
// The engine stages failure screenshots in a local directory while a run
// executes; after finalization the CLI pushes the staged files and the
// serialized run result through a Sink. LocalSink keeps artifacts on the
// local filesystem, SFTPSink uploads them to a remote host over SSH with
// optional known_hosts verification.
package artifacts
