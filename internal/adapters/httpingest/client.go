// Package httpingest implements the ingest client port over HTTP(S).
// Each committed fragment becomes one PUT carrying the fMP4 bytes; the
// stream key and fragment name travel as query parameters, matching the
// segment-per-request shape of HLS ingest endpoints.
package httpingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/fragship/fragship/internal/domain"
	"github.com/fragship/fragship/internal/ports"
)

// Client implements ports.IngestClient using HTTP.
type Client struct {
	client ports.HTTPClient
	logger ports.Logger
}

// New creates a new HTTP ingest client.
func New(client ports.HTTPClient, logger ports.Logger) *Client {
	return &Client{
		client: client,
		logger: logger,
	}
}

// Upload transfers one fragment to the ingest endpoint. The fragment body
// is the init metadata followed by the payload, so every uploaded segment
// is independently decodable.
func (c *Client) Upload(ctx context.Context, frag domain.Fragment, target ports.IngestTarget) error {
	if target.StreamKey == ports.StreamKeyUnset {
		return domain.ErrMissingStreamKey
	}

	q := url.Values{}
	q.Set("cid", target.StreamKey)
	q.Set("copy", "0")
	q.Set("file", fmt.Sprintf("seg%08d.mp4", frag.SequenceNumber))
	endpoint := target.URL + "?" + q.Encode()

	body := make([]byte, 0, len(frag.Init)+len(frag.Payload))
	body = append(body, frag.Init...)
	body = append(body, frag.Payload...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "video/mp4")
	req.Header.Set("X-Fragship-Session", target.SessionID)
	req.Header.Set("X-Fragship-Sequence", fmt.Sprintf("%d", frag.SequenceNumber))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ingest returned %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
