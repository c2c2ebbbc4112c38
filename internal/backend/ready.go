package backend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotReady is returned by WaitReady when the backend never accepted
// connections within the timeout.
var ErrNotReady = errors.New("backend not ready within timeout")

const pollInterval = 100 * time.Millisecond

// WaitReady polls the descriptor's readiness endpoint until the backend
// responds or the timeout elapses. Connection refused and similar transport
// errors are expected while the backend boots and are not reported; the only
// failure mode is ErrNotReady.
func WaitReady(ctx context.Context, d Descriptor, timeout time.Duration) error {
	url := d.EndpointURL() + d.Readiness.Path
	client := &http.Client{Timeout: pollInterval * 5}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			status := resp.StatusCode
			resp.Body.Close()
			if d.Readiness.ExpectStatus == 0 || status == d.Readiness.ExpectStatus {
				log.Debug().
					Str("backend", d.Name).
					Dur("after", time.Since(start)).
					Msg("Backend ready")
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ErrNotReady
		case <-time.After(pollInterval):
		}
	}
}
