// Package logx is a thin structured-logging layer over zerolog.
//
// Components receive a logx.Logger value; the zero value is a safe no-op.
// The Service owns the sinks (console, file) and can re-apply them when the
// config file changes without invalidating loggers already handed out.
package logx
