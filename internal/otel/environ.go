package otel

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Carries trace context through process environment variables (TRACEPARENT, TRACESTATE, ...)
// so compilers and checkers started by the judge can join the calling trace.
type EnvCarrier struct {
	vars map[string]string
}

// Ensure `EnvCarrier` implements [propagation.TextMapCarrier]
var _ propagation.TextMapCarrier = EnvCarrier{}

func NewEnvCarrier() EnvCarrier {
	return EnvCarrier{vars: make(map[string]string)}
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

func (c EnvCarrier) Get(key string) string {
	if v, ok := c.vars[envKey(key)]; ok {
		return v
	}

	return os.Getenv(envKey(key))
}

func (c EnvCarrier) Set(key string, value string) {
	c.vars[envKey(key)] = value
}

// Only injected keys, the process environment is not scanned
func (c EnvCarrier) Keys() []string {
	keys := make([]string, 0, len(c.vars))
	for k := range c.vars {
		keys = append(keys, strings.ToLower(strings.ReplaceAll(k, "_", "-")))
	}
	return keys
}

// KEY=value pairs for exec.Cmd.Env
func (c EnvCarrier) Environ() []string {
	env := make([]string, 0, len(c.vars))
	for k, v := range c.vars {
		env = append(env, k+"="+v)
	}
	return env
}

// Environment for a child process: the current environment plus the trace context of ctx
func ChildEnviron(ctx context.Context) []string {
	carrier := NewEnvCarrier()
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return append(os.Environ(), carrier.Environ()...)
}
