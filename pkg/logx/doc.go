// Package logx is a thin facade over zerolog.
//
// It exists so the rest of the bridge never imports zerolog directly:
// components receive a Logger, derive scoped loggers with With(), and
// stay unaware of where the output goes (console, file, or a mirror
// into the supervisory Telegram chat).
//
// The Service owns the sink configuration and can be re-applied at
// runtime (config hot reload) without invalidating loggers that were
// handed out earlier.
package logx
