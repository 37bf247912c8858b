package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// SlackNotifier posts notifications to an incoming-webhook URL
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func kindColor(k Kind) string {
	switch k {
	case KindSuccess:
		return "good"
	case KindWarning:
		return "warning"
	case KindError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// buildPayload lays the outcome out as one attachment with a field per
// number, so Slack renders the counts in its own grid
func buildPayload(n Notification) slackPayload {
	att := slackAttachment{
		Color:  kindColor(n.Kind),
		Title:  n.OperationID,
		Text:   n.Body,
		Footer: "glossgen",
	}
	if n.Status != "" {
		att.Fields = append(att.Fields, slackField{Title: "Status", Value: string(n.Status), Short: true})
	}
	if n.Section != "" {
		att.Fields = append(att.Fields, slackField{Title: "Section", Value: n.Section, Short: true})
	}
	if n.Processed+n.Failed+n.Skipped > 0 {
		att.Fields = append(att.Fields,
			slackField{Title: "Processed", Value: strconv.Itoa(n.Processed), Short: true},
			slackField{Title: "Failed", Value: strconv.Itoa(n.Failed), Short: true},
		)
		if n.Skipped > 0 {
			att.Fields = append(att.Fields, slackField{Title: "Skipped", Value: strconv.Itoa(n.Skipped), Short: true})
		}
	}
	if n.CostUSD > 0 {
		att.Fields = append(att.Fields, slackField{Title: "Cost", Value: fmt.Sprintf("$%.2f", n.CostUSD), Short: true})
	}
	return slackPayload{Text: n.Title, Attachments: []slackAttachment{att}}
}

// Send posts the notification. A notifier without a webhook is disabled.
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildPayload(n))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
