// Package logx is assignbot's logging layer: a small value-type Logger
// over zerolog whose outputs (console, JSON file, ops chat) can be
// swapped at runtime by Service.Apply.
package logx
