package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"imageflow/internal/models"
)

// Notifier posts a completion payload to a configured webhook endpoint when
// a request reaches a terminal state. Delivery is best-effort: failures are
// logged and never reach the pipeline.
type Notifier struct {
	url    string
	client *http.Client
}

func New(url string) *Notifier {
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *Notifier) RequestFinished(requestID uuid.UUID, status models.Status) {
	if n.url == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"requestId": requestID.String(),
		"status":    string(status),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("webhook: marshal payload for request %s: %v", requestID, err)
		return
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("webhook: delivery failed for request %s: %v", requestID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("webhook: endpoint returned %s for request %s", resp.Status, requestID)
	}
}
