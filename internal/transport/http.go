// Package transport implements pbft.Sender over two substrates: JSON
// over HTTP for real deployments, and an in-memory bus for
// deterministic tests.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/0xjeffro/pbftd/internal/pbft"
)

const (
	pathRequest    = "/req"
	pathPrePrepare = "/preprepare"
	pathPrepare    = "/prepare"
	pathCommit     = "/commit"
	pathReply      = "/reply"
	pathStatus     = "/status"
)

// statusResponse is the acknowledgement body of the wire endpoints and
// /healthz; /status and malformed-body errors return other shapes.
type statusResponse struct {
	Status string `json:"status"`
}

// HTTPSender implements pbft.Sender by POSTing JSON bodies to fixed
// paths on the target address.
type HTTPSender struct {
	client *http.Client
}

var _ pbft.Sender = (*HTTPSender)(nil)

// NewHTTPSender builds an HTTPSender with the given per-call timeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSender) post(ctx context.Context, addr, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: marshal body: %w", err)
	}

	url := "http://" + addr + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: post %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

func (s *HTTPSender) SendRequest(ctx context.Context, addr string, msg pbft.RequestMsg) error {
	return s.post(ctx, addr, pathRequest, msg)
}

func (s *HTTPSender) SendPrePrepare(ctx context.Context, addr string, msg pbft.PrePrepareMsg) error {
	return s.post(ctx, addr, pathPrePrepare, msg)
}

func (s *HTTPSender) SendVote(ctx context.Context, addr string, msg pbft.VoteMsg) error {
	path := pathPrepare
	if msg.Kind == pbft.CommitVote {
		path = pathCommit
	}
	return s.post(ctx, addr, path, msg)
}

func (s *HTTPSender) SendReply(ctx context.Context, addr string, msg pbft.ReplyMsg) error {
	return s.post(ctx, addr, pathReply, msg)
}
