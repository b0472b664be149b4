// Command winshell runs a headless window shell.
//
// In the default mode it serves the shell over HTTP and starts the execution
// context of every window in process, unless a websocket client offered to
// host contexts. With -connect it instead joins a running shell and hosts the
// contexts of the windows that shell creates. It waits for the shell's
// /health endpoint before dialing.
//
// Configuration is read from a TOML file and WINSHELL_* environment
// variables; flags override both.
//
// Usage:
//
//	winshell -config winshell.toml
//	winshell -dev -port 8710 -menu menu.yaml
//	winshell -connect ws://127.0.0.1:8710/stream
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
