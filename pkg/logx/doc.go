// Package logx is immunizer's structured logging layer on top of zerolog.
//
// Console output is human readable with a short file:line caller. File
// output is JSON. A Service can swap level and sinks at runtime, and every
// Logger derived from it follows the swap.
package logx
