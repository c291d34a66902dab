package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// pointWriter is the subset of api.WriteAPI the client uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client is the telemetry sink. Points are batched by the library's
// non-blocking write API; delivery failures reach the SetOnError callback.
type Client struct {
	client    influxdb2.Client
	writer    pointWriter
	connected atomic.Bool

	onErrorMu sync.RWMutex
	onError   func(err error)
}

// Connect pings the server at cfg.URL and opens a batching writer on
// cfg.Org/cfg.Bucket. It returns ErrDisabled when telemetry is off.
// Non-positive batch settings fall back to 100 points every 10s.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive by construction
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := &Client{client: client, writer: writeAPI}
	c.connected.Store(true)
	go c.forwardErrors(writeAPI.Errors())
	return c, nil
}

var errUnhealthy = errors.New("server reports unhealthy")

func ping(ctx context.Context, client influxdb2.Client) error {
	ok, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errUnhealthy
	}
	return nil
}

func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.onErrorMu.RLock()
		fn := c.onError
		c.onErrorMu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

// Close flushes buffered points and releases the client. Later writes are
// dropped.
func (c *Client) Close() error {
	if c.connected.Swap(false) && c.writer != nil {
		c.writer.Flush()
	}
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server, bounded by ctx and a 5s cap.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected is false once Close has run.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// SetOnError registers fn for asynchronous write failures.
func (c *Client) SetOnError(fn func(err error)) {
	c.onErrorMu.Lock()
	c.onError = fn
	c.onErrorMu.Unlock()
}

// Flush blocks until buffered points are sent. It does nothing after Close.
func (c *Client) Flush() {
	if c.writer != nil && c.IsConnected() {
		c.writer.Flush()
	}
}

func (c *Client) writePoint(p *write.Point) {
	if c.writer != nil && c.IsConnected() {
		c.writer.WritePoint(p)
	}
}
