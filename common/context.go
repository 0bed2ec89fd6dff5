package common

import (
	"fmt"
	"io"
	"time"
)

// A context carries the configuration, logger and lifecycle of a
// component.  Sub contexts share the config and environment of their parent
// but have their own control and a scoped logger.
type Context interface {
	io.Closer

	Env() Env
	Config() Config
	Logger() Logger
	Control() Control

	// Returns a child context whose logger is prefixed with the formatted string.
	Sub(string, ...interface{}) Context

	// Returns a control that closes after the given duration.
	Timer(time.Duration) Control
}

type ctx struct {
	config  Config
	logger  Logger
	control Control
	env     *env
}

func NewEmptyContext() Context {
	return NewContext(NewEmptyConfig())
}

func NewContext(config Config) Context {
	return &ctx{
		config:  config,
		logger:  NewStandardLogger(config),
		control: NewControl(nil),
		env:     NewEnv()}
}

func (c *ctx) Close() error {
	return c.control.Close()
}

func (c *ctx) Env() Env {
	return c.env
}

func (c *ctx) Config() Config {
	return c.config
}

func (c *ctx) Logger() Logger {
	return c.logger
}

func (c *ctx) Control() Control {
	return c.control
}

func (c *ctx) Sub(format string, vals ...interface{}) Context {
	return &ctx{
		config:  c.config,
		logger:  c.logger.Fmt(format, vals...),
		control: c.control.Sub(),
		env:     c.env}
}

func (c *ctx) Timer(dur time.Duration) Control {
	return NewTimer(c.control, dur)
}

func (c *ctx) String() string {
	return fmt.Sprintf("Context(%p)", c)
}
