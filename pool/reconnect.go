package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/guileen/connpool/driver"
	"github.com/guileen/connpool/logger"
)

type dialFunc func(ctx context.Context) (driver.Conn, string, error)

// reconnector replaces a slot's physical connection once it has been
// connected for longer than the reconnect interval. The last-connect time
// lives on the slot itself, so it needs no lock of its own.
type reconnector struct {
	interval     time.Duration
	backoff      time.Duration
	closeTimeout time.Duration
	dial         dialFunc
	logger       *slog.Logger
}

func newReconnector(config Config, dial dialFunc, log *slog.Logger) *reconnector {
	return &reconnector{
		interval:     config.ReconnectInterval,
		backoff:      config.ReconnectBackoff,
		closeTimeout: config.ProbeTimeout,
		dial:         dial,
		logger:       log.With(logger.Component("reconnect")),
	}
}

func (r *reconnector) enabled() bool {
	return r.interval > 0
}

func (r *reconnector) due(pc *pooledConn, now time.Time) bool {
	return r.enabled() && now.Sub(pc.connectedAt) > r.interval
}

// reconnect closes the slot's physical connection and dials until a new
// one is established or ctx is done. The caller must own pc and puts its id
// in ctx under logger.ConnIDKey.
func (r *reconnector) reconnect(ctx context.Context, pc *pooledConn) error {
	age := time.Since(pc.connectedAt)
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.closeTimeout)
	if err := pc.phys.Close(closeCtx); err != nil {
		r.logger.WarnContext(ctx, "error closing connection before reconnect",
			"physical_id", pc.physID, logger.ErrorField(err))
	}
	cancel()

	var (
		phys   driver.Conn
		physID string
	)
	err := retry.Do(
		func() error {
			c, id, err := r.dial(ctx)
			if err != nil {
				return err
			}
			phys, physID = c, id
			return nil
		},
		retry.Context(ctx),
		retry.UntilSucceeded(),
		retry.Delay(r.backoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.WarnContext(ctx, "reconnect attempt failed, retrying",
				"attempt", n+1, logger.Duration("backoff", r.backoff), logger.ErrorField(err))
		}),
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "reconnect abandoned", logger.Operation("reconnect"), logger.ErrorField(err))
		return err
	}

	old := pc.physID
	pc.phys = phys
	pc.physID = physID
	pc.connectedAt = time.Now()
	r.logger.InfoContext(ctx, "connection reconnected",
		"old_physical_id", old, "physical_id", physID, logger.Duration("age", age))
	return nil
}
