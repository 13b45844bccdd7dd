package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Manager struct {
	enabled      bool
	slackWebhook string
	httpClient   HTTPClient
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func NewManager(enabled bool, slackWebhook string) *Manager {
	return &Manager{
		enabled:      enabled,
		slackWebhook: slackWebhook,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

func NewManagerWithClient(enabled bool, slackWebhook string, client HTTPClient) *Manager {
	return &Manager{
		enabled:      enabled,
		slackWebhook: slackWebhook,
		httpClient:   client,
	}
}

// SendRunSummary posts the outcome of a completed reconciliation run.
func (m *Manager) SendRunSummary(tableName, runID string, inserts, deletes, unchanged int) error {
	if !m.enabled || m.slackWebhook == "" {
		return nil
	}

	msg := slackMessage{
		Text: "✅ *Snapshot reconciled*",
		Attachments: []slackAttachment{
			{
				Color: "good",
				Title: "Reconciliation Complete",
				Fields: []slackField{
					{Title: "Table", Value: tableName, Short: true},
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Inserts", Value: fmt.Sprintf("%d", inserts), Short: true},
					{Title: "Deletes", Value: fmt.Sprintf("%d", deletes), Short: true},
					{Title: "Unchanged", Value: fmt.Sprintf("%d", unchanged), Short: true},
				},
				Footer: "Snapdiff Reconciler",
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

// SendRunFailure posts a failed run. The prior snapshot is still authoritative
// when this fires.
func (m *Manager) SendRunFailure(tableName string, runErr error) error {
	if !m.enabled || m.slackWebhook == "" {
		return nil
	}

	msg := slackMessage{
		Text: "🚨 *Reconciliation failed*",
		Attachments: []slackAttachment{
			{
				Color: "danger",
				Title: "Reconciliation Failed",
				Fields: []slackField{
					{Title: "Table", Value: tableName, Short: true},
					{Title: "Error", Value: runErr.Error(), Short: false},
				},
				Footer: "Snapdiff Reconciler",
				Ts:     time.Now().Unix(),
			},
		},
	}

	return m.sendSlackMessage(msg)
}

func (m *Manager) sendSlackMessage(msg slackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, m.slackWebhook, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-200 status: %d", resp.StatusCode)
	}

	return nil
}
