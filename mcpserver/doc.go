// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The server exposes a single tool, run_function, which hands JavaScript
// source and a JSON argument payload to the script engine and returns the
// settled result. It uses the mark3labs/mcp-go library for the protocol and
// supports the stdio and streamable HTTP transports.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, executor)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
