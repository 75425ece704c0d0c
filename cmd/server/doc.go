// Package main is the entry point for the scriptbox server.
//
// The server runs untrusted JavaScript functions in throwaway isolates under
// wall-clock and heap ceilings. It serves the engine over a REST API
// (GET/POST /runner) or as a Model Context Protocol tool over stdio or HTTP,
// selected by server.transport.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
