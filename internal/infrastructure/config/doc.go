// Package config loads shell configuration.
//
// Values start from Default, are overlaid by an optional TOML file and then
// by environment variables with the WINSHELL prefix, nested by section:
//
//	WINSHELL_SERVER_PORT=8080
//	WINSHELL_LOGGING_LEVEL=debug
//	WINSHELL_DISPATCH_TIMEOUT=5s
//	WINSHELL_BRIDGE_BREAKER_FAILURES=3
//
// The same settings in TOML:
//
//	[server]
//	port = "8080"
//
//	[dispatch]
//	timeout = "5s"
package config
