package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pscheid92/pollpulse/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// MetricsHook implements redis.Hook to collect metrics on all Redis operations
type MetricsHook struct{}

var _ goredis.Hook = (*MetricsHook)(nil)

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			metrics.RedisConnectionErrors.Inc()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		observe(operationName(cmd), err, time.Since(start))
		return err
	}
}

// ProcessPipelineHook records a pipeline as one operation, labelled
// "tx_pipeline" when it runs inside MULTI/EXEC.
func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)

		operation := "pipeline"
		if len(cmds) > 0 && cmds[0].Name() == "multi" {
			operation = "tx_pipeline"
		}
		observe(operation, err, time.Since(start))
		return err
	}
}

// operationName folds script invocations into one label.
func operationName(cmd goredis.Cmder) string {
	switch name := cmd.Name(); name {
	case "evalsha", "eval", "evalsha_ro", "eval_ro":
		return "script"
	default:
		return name
	}
}

func observe(operation string, err error, d time.Duration) {
	status := "success"
	if err != nil && !errors.Is(err, goredis.Nil) {
		status = "error"
	}
	metrics.RedisOpsTotal.WithLabelValues(operation, status).Inc()
	metrics.RedisOpDuration.WithLabelValues(operation).Observe(d.Seconds())
}
