package trigger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/opsline/deployctl/internal/models"
)

// TriggerRequest is the single message a client sends after connecting. The
// proof is derived from the shared secret and the request metadata; the
// secret itself never crosses the wire.
type TriggerRequest struct {
	RequestID string `json:"request_id"`
	IssuedAt  int64  `json:"issued_at"`
	AuthProof string `json:"auth_proof"`
}

// TriggerResponse is the single message the server writes back before
// closing the connection. Result is set only for accepted requests.
type TriggerResponse struct {
	RequestID string               `json:"request_id"`
	Accepted  bool                 `json:"accepted"`
	Error     string               `json:"error,omitempty"`
	Result    *models.DeployResult `json:"result,omitempty"`
}

// genericRejection is the only error detail ever sent to a client. Secret
// mismatches, malformed payloads, and parse failures all collapse to it;
// specifics go to the server's local log.
const genericRejection = "authentication failed"

func computeProof(secret, requestID string, issuedAt int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%d", requestID, issuedAt)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyProof(secret string, req *TriggerRequest) bool {
	want, err := hex.DecodeString(computeProof(secret, req.RequestID, req.IssuedAt))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(req.AuthProof)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// AuthError reports that the server rejected the request. The server never
// explains why.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("server rejected request: %s", e.Message)
}

// ConnectionError reports an unreachable endpoint or an expired round-trip
// deadline.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a response that does not conform to the expected
// message schema.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Message)
}
