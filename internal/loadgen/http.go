package loadgen

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/forgescore/forgescore/pkg/logger"
)

// client wraps http.Client with a timeout and the webhook signing secret.
type client struct {
	http   *http.Client
	secret []byte
}

func newClient(timeout time.Duration, secret string) *client {
	return &client{
		http:   &http.Client{Timeout: timeout},
		secret: []byte(secret),
	}
}

func (c *client) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.http.Do(req)
}

// postDelivery sends one signed webhook delivery.
func (c *client) postDelivery(ctx context.Context, url string, d Delivery) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(d.Body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery", d.ID)
	req.Header.Set("X-Event-Type", d.EventType)
	if len(c.secret) > 0 {
		mac := hmac.New(sha256.New, c.secret)
		mac.Write(d.Body)
		req.Header.Set("X-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	return c.http.Do(req)
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// submitDeliveries posts deliveries concurrently. A configurable fraction
// is re-sent verbatim to exercise deduplication.
func submitDeliveries(ctx context.Context, config *Config, deliveries []Delivery, stats *Stats) error {
	c := newClient(config.Timeout, config.Secret)
	url := config.BaseURL + "/webhooks"

	var (
		accepted  int64
		duplicate int64
		failed    int64
		submitted int64
	)

	work := make(chan Delivery, config.Workers*2)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range work {
				select {
				case <-ctx.Done():
					return
				default:
				}
				atomic.AddInt64(&submitted, 1)
				switch submitOne(ctx, c, url, d) {
				case "accepted":
					atomic.AddInt64(&accepted, 1)
				case "duplicate":
					atomic.AddInt64(&duplicate, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	go func() {
		defer close(work)
		for _, d := range deliveries {
			replay := getRandomFloat() < config.DuplicateRate
			select {
			case <-ctx.Done():
				return
			case work <- d:
			}
			if replay {
				select {
				case <-ctx.Done():
					return
				case work <- d:
				}
			}
		}
	}()

	wg.Wait()

	stats.DeliveriesSubmitted = int(atomic.LoadInt64(&submitted))
	stats.DeliveriesAccepted = int(atomic.LoadInt64(&accepted))
	stats.DeliveriesDuplicate = int(atomic.LoadInt64(&duplicate))
	stats.DeliveriesFailed = int(atomic.LoadInt64(&failed))

	logger.Get().Info(ctx, "delivery submission completed",
		logger.Int("accepted", stats.DeliveriesAccepted),
		logger.Int("duplicate", stats.DeliveriesDuplicate),
		logger.Int("failed", stats.DeliveriesFailed))

	if stats.DeliveriesFailed > 0 && stats.DeliveriesAccepted == 0 {
		return fmt.Errorf("all %d deliveries failed", stats.DeliveriesFailed)
	}
	return nil
}

// submitOne posts a single delivery and classifies the response.
func submitOne(ctx context.Context, c *client, url string, d Delivery) string {
	resp, err := c.postDelivery(ctx, url, d)
	if err != nil {
		return "failed"
	}
	body, err := readBody(resp)
	if err != nil {
		return "failed"
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		return "accepted"
	case http.StatusOK:
		var ack Ack
		if err := json.Unmarshal(body, &ack); err == nil && ack.Duplicate {
			return "duplicate"
		}
		return "accepted"
	default:
		return "failed"
	}
}

// fetchLeaderboard retrieves the global top-N once processing settles.
func fetchLeaderboard(ctx context.Context, config *Config, stats *Stats) ([]Entry, error) {
	c := newClient(config.Timeout, config.Secret)
	url := fmt.Sprintf("%s/leaderboard?kind=GLOBAL&limit=%d", config.BaseURL, config.TopN)

	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("leaderboard returned status %d", resp.StatusCode)
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}
	stats.LeaderboardEntries = len(entries)
	return entries, nil
}
