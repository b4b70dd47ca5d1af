// Package logging provides file-based structured logging with rotation.
// The server and the sync worker write JSON lines under <data_dir>/logs/,
// where rumahcari-logs can tail, merge, and filter them.
//
// In MCP mode logs go to the file only: stdout carries the JSON-RPC
// stream and stderr stays silent.
package logging
