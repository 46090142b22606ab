// Package logx is tickd's logging layer: a value-type Logger over zerolog
// whose sinks (console, append-only file) can be swapped on config reload.
package logx
