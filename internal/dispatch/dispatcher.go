// Package dispatch performs the business task behind a workflow node.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"flowplane/internal/config"
)

// Dispatcher runs a node's business task for one service instance. It
// returns false when the task ran and failed, and an error when it could not
// be run at all. Implementations must be safe for concurrent use.
type Dispatcher interface {
	Execute(ctx context.Context, serviceID string, params map[string]string) (bool, error)
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, serviceID string, params map[string]string) (bool, error)

func (f Func) Execute(ctx context.Context, serviceID string, params map[string]string) (bool, error) {
	return f(ctx, serviceID, params)
}

// Noop succeeds without doing anything.
type Noop struct{}

func (Noop) Execute(context.Context, string, map[string]string) (bool, error) {
	return true, nil
}

// Well-known node parameters. Everything else is passed to the task as-is.
const (
	ParamCommand = "command"
	ParamImage   = "image"
	ParamWorkdir = "workdir"
	ParamTimeout = "timeout"
	ParamURL     = "url"
)

// New builds the dispatcher for an engine variant.
func New(cfg config.EngineConfig, log *slog.Logger) (Dispatcher, error) {
	switch cfg.Kind {
	case config.KindNoop, "":
		return Noop{}, nil
	case config.KindExec:
		return NewRuntimeDispatcher(NewExecRuntime(cfg.Workdir), cfg.Timeout, log), nil
	case config.KindHTTP:
		return NewHTTPDispatcher(cfg.URL, cfg.Timeout), nil
	case config.KindDocker:
		rt, err := NewDockerRuntime()
		if err != nil {
			return nil, err
		}
		return NewRuntimeDispatcher(rt, cfg.Timeout, log), nil
	case config.KindKubernetes:
		rt, err := NewKubernetesRuntime(KubernetesConfig{
			Namespace:  cfg.Namespace,
			Kubeconfig: cfg.Kubeconfig,
		}, log)
		if err != nil {
			return nil, err
		}
		return NewRuntimeDispatcher(rt, cfg.Timeout, log), nil
	default:
		return nil, fmt.Errorf("unknown dispatcher kind %q", cfg.Kind)
	}
}

var envUnsafe = regexp.MustCompile(`[^A-Z0-9_]`)

// TaskEnv is the environment handed to a task: the service id plus every
// parameter as FLOWPLANE_PARAM_<KEY>.
func TaskEnv(serviceID string, params map[string]string) map[string]string {
	env := map[string]string{"FLOWPLANE_SERVICE_ID": serviceID}
	for k, v := range params {
		name := envUnsafe.ReplaceAllString(strings.ToUpper(k), "_")
		env["FLOWPLANE_PARAM_"+name] = v
	}
	return env
}

// envList flattens env into KEY=VALUE pairs in a stable order.
func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(list)
	return list
}

// timeoutFor returns the "timeout" parameter when it parses, else def.
func timeoutFor(params map[string]string, def time.Duration) time.Duration {
	if raw, ok := params[ParamTimeout]; ok {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return def
}
