package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lettora/crm-engine/internal/config"
	"github.com/lettora/crm-engine/internal/domain"
	"github.com/lettora/crm-engine/internal/pkg/logger"
)

// SparkPost sends through the SparkPost transmissions API. Open and
// click tracking are disabled on the transmission: tracking injection
// happens upstream in the dispatch pipeline so all engagement data
// lands in our own store.
type SparkPost struct {
	apiKey   string
	baseURL  string
	from     string
	fromName string
	client   *http.Client
}

// NewSparkPost creates a SparkPost mailer.
func NewSparkPost(cfg config.SparkPostConfig, from, fromName string) *SparkPost {
	return &SparkPost{
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		from:     from,
		fromName: fromName,
		client:   &http.Client{Timeout: cfg.Timeout()},
	}
}

type sparkpostResponse struct {
	Results struct {
		ID                      string `json:"id"`
		TotalAcceptedRecipients int    `json:"total_accepted_recipients"`
	} `json:"results"`
	Errors []struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (s *SparkPost) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	transmission := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"address": map[string]string{"email": msg.To}},
		},
		"content": map[string]interface{}{
			"from": map[string]string{
				"email": s.from,
				"name":  s.fromName,
			},
			"subject": msg.Subject,
			"html":    msg.HTMLBody,
			"text":    msg.TextBody,
		},
		"options": map[string]interface{}{
			"open_tracking":  false,
			"click_tracking": false,
		},
	}

	body, err := json.Marshal(transmission)
	if err != nil {
		return nil, fmt.Errorf("marshal transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/v1/transmissions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparkpost request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var parsed sparkpostResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode >= 400 {
		detail := ""
		if len(parsed.Errors) > 0 {
			detail = parsed.Errors[0].Message
		}
		logger.Warn("sparkpost rejected transmission",
			"status", resp.StatusCode, "to", msg.To, "detail", detail)
		return &domain.SendResult{Success: false},
			fmt.Errorf("sparkpost error %d: %s", resp.StatusCode, detail)
	}

	return &domain.SendResult{Success: true, MessageID: parsed.Results.ID}, nil
}
