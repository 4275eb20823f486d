package cliContext

import "github.com/mudler/xlog"

type Context struct {
	LogLevel  string `env:"GENSTUDIO_LOG_LEVEL" default:"info" enum:"error,warn,info,debug,trace" help:"Set the level of logs to output [${enum}]"`
	LogFormat string `env:"GENSTUDIO_LOG_FORMAT" default:"default" enum:"default,text,json" help:"Set the format of logs to output [${enum}]"`
}

// Debug reports whether debug output was asked for.
func (c *Context) Debug() bool {
	return c.LogLevel == "debug" || c.LogLevel == "trace"
}

// Logger builds the logger the flags describe.
func (c *Context) Logger() *xlog.Logger {
	level := c.LogLevel
	if level == "" {
		level = "info"
	}
	format := c.LogFormat
	if format == "" {
		format = "default"
	}
	return xlog.NewLogger(xlog.LogLevel(level), format)
}
