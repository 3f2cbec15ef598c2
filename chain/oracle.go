package chain

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiomesh/bounty-guardian/core"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultPollInterval = 15 * time.Second

type observation struct {
	reading core.Reading
	at      time.Time
}

// Oracle mirrors the chain head. The polling loop is the only writer of the
// last observation; readers load it atomically.
type Oracle struct {
	client   Client
	interval time.Duration
	logger   logrus.FieldLogger
	metrics  *Metrics

	last atomic.Pointer[observation]

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewOracle(client Client, interval time.Duration, logger logrus.FieldLogger, metrics *Metrics) *Oracle {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	o := &Oracle{
		client:   client,
		interval: interval,
		logger:   logger.WithField("module", "oracle"),
		metrics:  metrics,
	}
	o.last.Store(&observation{})
	return o
}

// Start polls once synchronously and then on every interval until Stop or
// ctx is done.
func (o *Oracle) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	o.Refresh(ctx)
	go o.loop(ctx, o.done)
}

func (o *Oracle) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("oracle loop stopped")
			return
		case <-ticker.C:
			o.Refresh(ctx)
		}
	}
}

// Stop cancels the polling loop and waits for it to exit.
func (o *Oracle) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.cancel()
	<-o.done
	o.running = false
}

// Refresh polls the head now. A failed poll leaves the oracle unavailable
// until the next successful one.
func (o *Oracle) Refresh(ctx context.Context) core.Reading {
	header, err := o.client.HeaderByNumber(ctx, nil)
	if err != nil || header == nil || header.Number == nil {
		if err == nil {
			err = errors.New("empty header")
		}
		o.logger.WithError(err).Warn("poll chain head failed")
		o.metrics.oraclePolls.WithLabelValues("failed").Inc()
		o.last.Store(&observation{at: time.Now()})
		return core.Reading{}
	}

	r := core.Reading{Timestamp: header.Time, Block: header.Number.Uint64(), Valid: true}
	o.last.Store(&observation{reading: r, at: time.Now()})
	o.metrics.oraclePolls.WithLabelValues("ok").Inc()
	o.metrics.oracleHeight.Set(float64(r.Block))
	return r
}

// Now returns the last observation. A reading older than three intervals is
// treated as unavailable.
func (o *Oracle) Now() core.Reading {
	obs := o.last.Load()
	if !obs.reading.Valid || time.Since(obs.at) > 3*o.interval {
		return core.Reading{}
	}
	return obs.reading
}

func (o *Oracle) CurrentTime() (uint64, bool) {
	r := o.Now()
	return r.Timestamp, r.Valid
}

func (o *Oracle) CurrentBlock() (uint64, bool) {
	r := o.Now()
	return r.Block, r.Valid
}

// BlockTimestamp returns the exact header timestamp of an already produced block.
func (o *Oracle) BlockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	header, err := o.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return 0, errors.Wrapf(ErrUnreachable, "header %d: %s", block, err)
	}
	return header.Time, nil
}
