package trigger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsline/deployctl/internal/models"
)

// spyRunner counts invocations and returns a canned result.
type spyRunner struct {
	calls  int32
	result *models.DeployResult
	err    error
}

func (r *spyRunner) Execute() (*models.DeployResult, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return nil, r.err
	}
	// Copy so the server's RequestID assignment does not leak between calls.
	result := *r.result
	return &result, nil
}

func (r *spyRunner) callCount() int32 {
	return atomic.LoadInt32(&r.calls)
}

func startTestServer(t *testing.T, secret string, runner Runner) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}

	server := NewServer(secret, runner)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		if err := server.Serve(ctx, lis); err != nil {
			t.Logf("Server error: %v", err)
		}
	}()

	return lis.Addr().String()
}

func TestTriggerRoundTrip(t *testing.T) {
	runner := &spyRunner{
		result: &models.DeployResult{
			Success:    true,
			ExitCode:   0,
			Stdout:     "deployed\n",
			DurationMs: 42,
			Timestamp:  time.Now(),
		},
	}

	addr := startTestServer(t, "topsecret", runner)

	client := NewClient(addr, "topsecret", 10*time.Second)
	result, err := client.Trigger()
	if err != nil {
		t.Fatalf("Trigger() error: %v", err)
	}

	if !result.Success {
		t.Error("Expected successful result")
	}
	if result.Stdout != "deployed\n" {
		t.Errorf("Expected stdout 'deployed', got %q", result.Stdout)
	}
	if result.RequestID == "" {
		t.Error("Expected result to carry the request ID")
	}
	if runner.callCount() != 1 {
		t.Errorf("Expected 1 execution, got %d", runner.callCount())
	}
}

func TestTriggerWrongSecret(t *testing.T) {
	runner := &spyRunner{result: &models.DeployResult{Success: true}}
	addr := startTestServer(t, "topsecret", runner)

	client := NewClient(addr, "wrong-secret", 10*time.Second)
	_, err := client.Trigger()
	if err == nil {
		t.Fatal("Expected error for wrong secret")
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected AuthError, got %T: %v", err, err)
	}

	// The rejection must never reach the executor.
	if runner.callCount() != 0 {
		t.Errorf("Expected 0 executions after rejected trigger, got %d", runner.callCount())
	}
}

func TestMalformedRequestRejectedGenerically(t *testing.T) {
	runner := &spyRunner{result: &models.DeployResult{Success: true}}
	addr := startTestServer(t, "topsecret", runner)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	var resp TriggerResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Accepted {
		t.Error("Expected rejection for malformed request")
	}
	if resp.Error != genericRejection {
		t.Errorf("Expected generic rejection, got %q", resp.Error)
	}
	if runner.callCount() != 0 {
		t.Errorf("Expected 0 executions, got %d", runner.callCount())
	}
}

func TestRunnerFailureRejectedGenerically(t *testing.T) {
	runner := &spyRunner{err: errors.New("working directory vanished")}
	addr := startTestServer(t, "topsecret", runner)

	client := NewClient(addr, "topsecret", 10*time.Second)
	_, err := client.Trigger()
	if err == nil {
		t.Fatal("Expected error when the runner fails")
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected a generic rejection, got %T: %v", err, err)
	}
	if authErr.Message == "working directory vanished" {
		t.Error("Internal error detail leaked to the client")
	}
}

func TestTriggerUnreachable(t *testing.T) {
	// Grab a free port and close it again so nothing is listening.
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	client := NewClient(addr, "topsecret", 2*time.Second)
	_, err = client.Trigger()
	if err == nil {
		t.Fatal("Expected error for unreachable endpoint")
	}

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("Expected ConnectionError, got %T: %v", err, err)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping handshake timeout test in short mode")
	}

	runner := &spyRunner{result: &models.DeployResult{Success: true}}
	addr := startTestServer(t, "topsecret", runner)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	// Send nothing; the server must give up on its own.
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout + 5*time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("Expected a rejection before the client deadline: %v", err)
	}

	var resp TriggerResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Accepted {
		t.Error("Expected rejection for idle handshake")
	}
	if runner.callCount() != 0 {
		t.Errorf("Expected 0 executions, got %d", runner.callCount())
	}
}

func TestProofVerification(t *testing.T) {
	req := &TriggerRequest{
		RequestID: "req-1",
		IssuedAt:  time.Now().Unix(),
	}
	req.AuthProof = computeProof("secret-a", req.RequestID, req.IssuedAt)

	if !verifyProof("secret-a", req) {
		t.Error("Expected proof derived from the same secret to verify")
	}
	if verifyProof("secret-b", req) {
		t.Error("Expected proof derived from a different secret to fail")
	}

	// A proof bound to different request metadata must not verify.
	tampered := *req
	tampered.RequestID = "req-2"
	if verifyProof("secret-a", &tampered) {
		t.Error("Expected proof to be bound to the request ID")
	}
}
