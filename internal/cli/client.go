package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client queries the daemon's HTTP status API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Health() (map[string]interface{}, error) {
	return c.get("/api/v1/health")
}

func (c *Client) Status() (map[string]interface{}, error) {
	return c.get("/api/v1/status")
}

func (c *Client) get(path string) (map[string]interface{}, error) {
	url := c.baseURL + path

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result, nil
}
