package trigger

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/opsline/deployctl/internal/models"
)

const (
	// handshakeTimeout bounds how long a connection may sit idle before the
	// trigger request arrives. Idle connections are dropped to avoid
	// resource exhaustion.
	handshakeTimeout = 5 * time.Second

	// maxRequestBytes bounds the trigger request frame.
	maxRequestBytes = 8 * 1024

	// responseTimeout bounds writing the result back to the client.
	responseTimeout = 30 * time.Second
)

// Runner executes the configured deployment command. It is responsible for
// serializing overlapping executions; the server accepts connections
// concurrently and calls Execute from each.
type Runner interface {
	Execute() (*models.DeployResult, error)
}

// Server accepts trigger connections, verifies each inbound proof against
// the configured secret, and runs one deployment per accepted request,
// answering on the same connection.
type Server struct {
	secret string
	runner Runner

	mu         sync.Mutex
	startedAt  time.Time
	deploys    int64
	lastResult *models.DeployResult
}

func NewServer(secret string, runner Runner) *Server {
	return &Server{
		secret:    secret,
		runner:    runner,
		startedAt: time.Now(),
	}
}

// Serve accepts connections until the listener is closed or ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr()

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	reader := bufio.NewReader(io.LimitReader(conn, maxRequestBytes))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		log.Printf("Dropping connection from %s: %v", remote, err)
		s.reject(conn, "")
		return
	}

	var req TriggerRequest
	if err := json.Unmarshal(line, &req); err != nil {
		log.Printf("Malformed request from %s: %v", remote, err)
		s.reject(conn, "")
		return
	}

	if !verifyProof(s.secret, &req) {
		log.Printf("Proof verification failed for request %s from %s", req.RequestID, remote)
		s.reject(conn, req.RequestID)
		return
	}

	// Authenticated; the deployment may now take as long as it takes.
	conn.SetReadDeadline(time.Time{})
	log.Printf("Accepted trigger %s from %s", req.RequestID, remote)

	result, err := s.runner.Execute()
	if err != nil {
		log.Printf("Deployment %s failed before execution: %v", req.RequestID, err)
		s.respond(conn, &TriggerResponse{
			RequestID: req.RequestID,
			Accepted:  false,
			Error:     "deployment failed",
		})
		return
	}

	result.RequestID = req.RequestID
	s.record(result)
	log.Printf("Deployment %s finished: success=%t exit=%d duration=%dms",
		req.RequestID, result.Success, result.ExitCode, result.DurationMs)

	s.respond(conn, &TriggerResponse{
		RequestID: req.RequestID,
		Accepted:  true,
		Result:    result,
	})
}

func (s *Server) reject(conn net.Conn, requestID string) {
	s.respond(conn, &TriggerResponse{
		RequestID: requestID,
		Accepted:  false,
		Error:     genericRejection,
	})
}

func (s *Server) respond(conn net.Conn, resp *TriggerResponse) {
	conn.SetWriteDeadline(time.Now().Add(responseTimeout))

	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		return
	}

	if _, err := conn.Write(append(data, '\n')); err != nil {
		log.Printf("Error writing response to %s: %v", conn.RemoteAddr(), err)
	}
}

func (s *Server) record(result *models.DeployResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deploys++
	s.lastResult = result
}

// Status reports the server's view of itself for the HTTP status API.
func (s *Server) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"status":         "running",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"deployments":    s.deploys,
	}
	if s.lastResult != nil {
		status["last_result"] = s.lastResult
	}
	return status
}
