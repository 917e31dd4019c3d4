package adapters

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const defaultProbeTimeout = 5 * time.Second

// HTTPHealthProbe treats any 2xx from a service's HealthURL as healthy.
// Connection errors and other statuses mean "not yet".
type HTTPHealthProbe struct {
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPHealthProbe() HTTPHealthProbe {
	return HTTPHealthProbe{Timeout: defaultProbeTimeout}
}

func (p HTTPHealthProbe) Healthy(ctx context.Context, service types.ServiceSpec) (bool, error) {
	if service.HealthURL == "" {
		return true, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service.HealthURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxChecksumBytes))
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (p HTTPHealthProbe) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &http.Client{Timeout: timeout}
}

var _ ports.HealthProbePort = HTTPHealthProbe{}
