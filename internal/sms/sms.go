package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nstepanov/bankline/internal/config"
	"github.com/nstepanov/bankline/pkg/clients"
	"go.uber.org/zap"
)

// Sender delivers a one-time code to the given phone numbers. The gateway
// generates the code and echoes it back so the challenge manager can store
// the expected value; it is never forwarded to the requesting client.
type Sender interface {
	SendCode(ctx context.Context, phones []string) (string, error)
}

type request struct {
	Phones []string `json:"phones"`
}

type response struct {
	OK   bool   `json:"ok"`
	Code string `json:"code"`
}

type GatewayClient struct {
	url    string
	client clients.HTTPClientI
}

func New(cfg *config.Config, client clients.HTTPClientI) *GatewayClient {
	return &GatewayClient{
		url:    cfg.SMSAddress,
		client: client,
	}
}

func (c *GatewayClient) SendCode(ctx context.Context, phones []string) (string, error) {
	body, err := json.Marshal(request{Phones: phones})
	if err != nil {
		return "", err
	}

	statusCode, respBody, err := c.client.Post(ctx, c.url+"/api/sms/code", nil, body)
	if err != nil {
		zap.L().Error("sms gateway request failed", zap.Error(err))
		return "", fmt.Errorf("sms gateway request failed: %w", err)
	}
	if statusCode != http.StatusOK {
		return "", fmt.Errorf("sms gateway returned status %d", statusCode)
	}

	var resp response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("sms gateway returned malformed response: %w", err)
	}
	if !resp.OK || resp.Code == "" {
		return "", fmt.Errorf("sms gateway refused delivery")
	}

	return resp.Code, nil
}
