package receiver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SyncClient flushes the server-side reminder queue for the signed-in user.
type SyncClient struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewSyncClient creates a flusher that posts to <origin>/api/push/sync with
// the given bearer token.
func NewSyncClient(origin, token string) *SyncClient {
	return &SyncClient{
		url:   strings.TrimRight(origin, "/") + "/api/push/sync",
		token: token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *SyncClient) Flush(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sync: status %d", resp.StatusCode)
	}
	return nil
}
