// Package logx configures deadlinebot's structured logging.
//
// Components receive a logx.Logger (a small value type over zerolog) and
// derive child loggers with With(logx.String("comp", ...)). Console output
// is human readable; the optional file sink writes JSON lines.
package logx
