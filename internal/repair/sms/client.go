package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OTP is a one-time code generated and sent by the gateway.
type OTP struct {
	Code  string
	SMSID string
}

// Client is a minimal HTTP client of the SMS gateway OTP endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	sender     string
}

// NewClient constructs an SMS gateway client.
func NewClient(httpClient *http.Client, baseURL, apiKey, sender string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		sender:     sender,
	}
}

// SendOTP asks the gateway to generate a code and deliver it to phone.
// The template must contain the {code} placeholder.
func (c *Client) SendOTP(ctx context.Context, phone, template string) (OTP, error) {
	if c.baseURL == "" {
		return OTP{}, errors.New("sms: gateway is not configured")
	}
	payload := map[string]interface{}{
		"phone":    normalizePhone(phone),
		"template": template,
		"sender":   c.sender,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return OTP{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/otp/send", bytes.NewReader(body))
	if err != nil {
		return OTP{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OTP{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return OTP{}, fmt.Errorf("sms: unexpected status %s", resp.Status)
	}

	var apiResp struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		SMSID   string `json:"sms_id"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return OTP{}, err
	}
	if !apiResp.Success {
		if apiResp.Error != "" {
			return OTP{}, fmt.Errorf("sms: %s", apiResp.Error)
		}
		return OTP{}, errors.New("sms: unsuccessful response")
	}
	return OTP{Code: apiResp.Code, SMSID: apiResp.SMSID}, nil
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
