package trigger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opsline/deployctl/internal/models"
)

func setupTestAPI(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	server := NewServer("topsecret", &spyRunner{result: &models.DeployResult{Success: true}})

	mux := http.NewServeMux()
	NewAPI(server).RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return server, ts
}

func TestAPIHealth(t *testing.T) {
	_, ts := setupTestAPI(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if data["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", data["status"])
	}
}

func TestAPIStatus(t *testing.T) {
	server, ts := setupTestAPI(t)

	server.record(&models.DeployResult{
		RequestID:  "req-1",
		Success:    true,
		DurationMs: 17,
		Timestamp:  time.Now(),
	})

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /status error: %v", err)
	}
	defer resp.Body.Close()

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if data["status"] != "running" {
		t.Errorf("Expected status running, got %v", data["status"])
	}
	if int(data["deployments"].(float64)) != 1 {
		t.Errorf("Expected 1 deployment, got %v", data["deployments"])
	}

	last, ok := data["last_result"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected last_result to be present")
	}
	if last["request_id"] != "req-1" {
		t.Errorf("Expected last result for req-1, got %v", last["request_id"])
	}
}

func TestAPIMethodNotAllowed(t *testing.T) {
	_, ts := setupTestAPI(t)

	resp, err := http.Post(ts.URL+"/api/v1/status", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /status error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}
