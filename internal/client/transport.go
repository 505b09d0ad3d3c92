package client

import (
	"math/rand"
	"net/http"
	"time"
)

// LatencyConfig injects artificial delay into outgoing requests, for
// exercising timeout and slow-network behavior against a local server.
type LatencyConfig struct {
	Enabled  bool          `json:"enabled"`
	MinDelay time.Duration `json:"min_delay"`
	MaxDelay time.Duration `json:"max_delay"`
}

type delayedRoundTripper struct {
	base   http.RoundTripper
	config LatencyConfig
	rng    *rand.Rand
}

func (d *delayedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	time.Sleep(d.delay())
	return d.base.RoundTrip(req)
}

func (d *delayedRoundTripper) delay() time.Duration {
	if d.config.MaxDelay > d.config.MinDelay {
		delta := d.config.MaxDelay - d.config.MinDelay
		return d.config.MinDelay + time.Duration(d.rng.Int63n(int64(delta)))
	}
	return d.config.MinDelay
}

// newHTTPClient builds the underlying http.Client, wrapping the default
// transport with latency simulation when enabled.
func newHTTPClient(latency LatencyConfig, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport
	if latency.Enabled {
		transport = &delayedRoundTripper{
			base:   http.DefaultTransport,
			config: latency,
			rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
