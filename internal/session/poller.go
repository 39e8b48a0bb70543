package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ferhates/earshot/pkg/logger"
)

// Poller periodically reads the session's point-in-time status over
// HTTP and feeds it to the reconciler as the fallback update source.
type Poller struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	apply      func(PollStatus)
	logger     *logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller for the given status URL. apply receives
// every successfully decoded response.
func NewPoller(url string, interval time.Duration, timeout time.Duration, apply func(PollStatus), log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Poller{
		url:      url,
		interval: interval,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		apply:  apply,
		logger: log.Named("poller"),
	}
}

// Start launches the poll loop. Stop cancels it.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status, err := p.fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					p.logger.Warn("Status poll failed", logger.Error(err))
					continue
				}
				p.apply(status)
			}
		}
	}()
}

// fetch performs one status read.
func (p *Poller) fetch(ctx context.Context) (PollStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return PollStatus{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return PollStatus{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PollStatus{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollStatus{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var status PollStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return PollStatus{}, fmt.Errorf("failed to parse status: %w", err)
	}

	return status, nil
}

// Stop halts polling and waits for the loop to exit.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}
