package trigger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsline/deployctl/internal/models"
)

const (
	defaultDialTimeout = 10 * time.Second

	// DefaultTriggerTimeout bounds the whole round trip, deployment
	// included. On expiry the client gives up; the server keeps running
	// the command regardless.
	DefaultTriggerTimeout = 10 * time.Minute
)

// Client issues one authenticated trigger per call against a server
// endpoint.
type Client struct {
	url     string
	secret  string
	timeout time.Duration
}

func NewClient(url, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTriggerTimeout
	}
	return &Client{
		url:     url,
		secret:  secret,
		timeout: timeout,
	}
}

// Trigger connects, authenticates, and waits for the deployment result.
func (c *Client) Trigger() (*models.DeployResult, error) {
	addr := hostPort(c.url)

	conn, err := net.DialTimeout("tcp", addr, defaultDialTimeout)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	req := &TriggerRequest{
		RequestID: uuid.New().String(),
		IssuedAt:  time.Now().Unix(),
	}
	req.AuthProof = computeProof(c.secret, req.RequestID, req.IssuedAt)

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, &ConnectionError{Err: err}
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	var resp TriggerResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if !resp.Accepted {
		return nil, &AuthError{Message: resp.Error}
	}

	if resp.RequestID != req.RequestID {
		return nil, &ProtocolError{Message: "response for a different request"}
	}
	if resp.Result == nil {
		return nil, &ProtocolError{Message: "accepted response without a result"}
	}

	return resp.Result, nil
}

// hostPort strips an optional scheme prefix, so profiles may store either
// "host:port" or "tcp://host:port".
func hostPort(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[i+3:]
	}
	return url
}
