package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/mqtt-sql-forwarder/internal/infrastructure/config"
)

const (
	pingTimeout          = 5 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second

	// clientIDTag is attached to every point so several forwarders can
	// share a bucket.
	clientIDTag = "client_id"
)

// Client is a forwarder.Recorder that batches one point per message outcome.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Writes never block the caller.
type Client struct {
	client influxdb2.Client
	writer api.WriteAPI
	closed atomic.Bool

	onError atomic.Pointer[func(error)]
}

// Connect pings the server and starts the batched writer.
//
// Parameters:
//   - ctx: Bounds the startup ping
//   - cfg: InfluxDB section of the forwarder configuration
//   - clientID: Broker client id, added as a default tag
//
// Returns:
//   - *Client: Ready to record
//   - error: ErrDisabled, or ErrUnreachable
func Connect(ctx context.Context, cfg config.InfluxDBConfig, clientID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize(cfg.BatchSize)).
		SetFlushInterval(flushIntervalMillis(cfg.FlushInterval))
	if clientID != "" {
		opts.AddDefaultTag(clientIDTag, clientID)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	c := &Client{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go c.forwardErrors(c.writer.Errors())
	return c, nil
}

func batchSize(n int) uint {
	if n <= 0 {
		return defaultBatchSize
	}
	return uint(n) // #nosec G115 -- checked positive
}

// flushIntervalMillis converts the configured seconds to the client's
// millisecond setting.
func flushIntervalMillis(seconds int) uint {
	d := time.Duration(seconds) * time.Second
	if d <= 0 {
		d = defaultFlushInterval
	}
	return uint(d.Milliseconds()) // #nosec G115 -- positive
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	case !healthy:
		return fmt.Errorf("%w: ping reported unhealthy", ErrUnreachable)
	}
	return nil
}

// forwardErrors drains the writer's error channel until the client closes.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		if cb := c.onError.Load(); cb != nil {
			(*cb)(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError installs the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.onError.Store(&callback)
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return ping(ctx, c.client)
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.closed.Load() {
		return
	}
	c.writer.Flush()
}

// Close flushes pending points and releases the client. Safe to call twice.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writer.Flush()
	c.client.Close()
	return nil
}
