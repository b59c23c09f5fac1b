package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/leadwave/leadwave/internal/pkg/httpretry"
)

const defaultSparkPostBaseURL = "https://api.sparkpost.com/api/v1"

// SparkPostSender delivers email through the SparkPost transmissions API.
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  *httpretry.RetryClient
}

// NewSparkPostSender creates a SparkPost adapter. baseURL may be empty to
// use the production API endpoint.
func NewSparkPostSender(apiKey, baseURL string) *SparkPostSender {
	if baseURL == "" {
		baseURL = defaultSparkPostBaseURL
	}
	return &SparkPostSender{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3),
	}
}

func (s *SparkPostSender) Name() string { return "sparkpost" }

// Deliver submits one transmission. Open and click tracking are disabled
// because the rendered content carries its own unsubscribe and tracking
// links.
func (s *SparkPostSender) Deliver(ctx context.Context, msg *Message) (*Result, error) {
	transmission := map[string]any{
		"recipients": []map[string]any{
			{"address": map[string]string{"email": msg.To}},
		},
		"content": map[string]any{
			"from": map[string]string{
				"email": msg.FromEmail,
				"name":  msg.FromName,
			},
			"subject": msg.Subject,
			"html":    msg.HTMLContent,
			"text":    msg.TextContent,
		},
		"metadata": map[string]any{
			"campaign_id":   msg.CampaignID,
			"subscriber_id": msg.SubscriberID,
			"tenant_id":     msg.TenantID,
		},
		"options": map[string]any{
			"open_tracking":  false,
			"click_tracking": false,
		},
	}
	if msg.ReplyTo != "" {
		transmission["content"].(map[string]any)["reply_to"] = msg.ReplyTo
	}

	body, _ := json.Marshal(transmission)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparkpost api: %w", err)
	}
	defer resp.Body.Close()

	var spResp struct {
		Results struct {
			TotalAcceptedRecipients int    `json:"total_accepted_recipients"`
			ID                      string `json:"id"`
		} `json:"results"`
		Errors []struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"errors"`
	}
	json.NewDecoder(resp.Body).Decode(&spResp)

	if resp.StatusCode != http.StatusOK || len(spResp.Errors) > 0 {
		reason := fmt.Sprintf("sparkpost status %d", resp.StatusCode)
		if len(spResp.Errors) > 0 {
			reason = spResp.Errors[0].Message
		}
		return &Result{Accepted: false, Provider: s.Name(), Reason: reason}, nil
	}

	return &Result{
		Accepted:  true,
		MessageID: spResp.Results.ID,
		Provider:  s.Name(),
		SentAt:    time.Now(),
	}, nil
}
