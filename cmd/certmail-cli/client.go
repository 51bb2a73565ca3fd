package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// CertmailClient talks to the certmail HTTP API.
type CertmailClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *CertmailClient {
	return &CertmailClient{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Minute}}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status             int
	Message            string
	ResetTime          string
	CredentialRequired bool
}

func (e *APIError) Error() string {
	if e.ResetTime != "" {
		return fmt.Sprintf("API error (%d): %s (retry after %s)", e.Status, e.Message, e.ResetTime)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

type Credentials struct {
	Email       string `json:"email"`
	AppPassword string `json:"appPassword"`
}

type RecipientPayload struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	CertificateBase64 string `json:"certificateBase64"`
	FileName          string `json:"fileName,omitempty"`
}

type SendRequest struct {
	Recipients  []RecipientPayload `json:"recipients"`
	Provider    string             `json:"provider"`
	SendingMode string             `json:"sendingMode,omitempty"`
	Credentials *Credentials       `json:"credentials,omitempty"`
}

type Failure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

type SendResponse struct {
	Success   bool      `json:"success"`
	SentCount int       `json:"sentCount"`
	Errors    []Failure `json:"errors"`
	Provider  string    `json:"provider"`
	Mode      string    `json:"mode"`
	BatchID   string    `json:"batchId"`
}

type ProviderResponse struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Class   string `json:"class"`
}

type BatchEntry struct {
	Email     string    `json:"email"`
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId"`
	Error     string    `json:"error"`
	Provider  string    `json:"provider"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"createdAt"`
}

type BatchResponse struct {
	BatchID string       `json:"batchId"`
	Entries []BatchEntry `json:"entries"`
}

type StatsResponse struct {
	Since  string `json:"since"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

type errorBody struct {
	Success            bool   `json:"success"`
	Error              string `json:"error"`
	ResetTime          string `json:"resetTime"`
	CredentialRequired bool   `json:"credentialRequired"`
}

func (c *CertmailClient) makeRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	logVerbose("Making %s request to %s", method, req.URL)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	logVerbose("Response status: %s", resp.Status)
	return resp, nil
}

func (c *CertmailClient) handleResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: eb.Error, ResetTime: eb.ResetTime, CredentialRequired: eb.CredentialRequired}
		}
		return &APIError{Status: resp.StatusCode, Message: string(body)}
	}

	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// Validate asks the server to check a credential against its provider.
func (c *CertmailClient) Validate(ctx context.Context, cred Credentials) error {
	resp, err := c.makeRequest(ctx, http.MethodPost, "/api/validate-credentials", cred)
	if err != nil {
		return err
	}
	return c.handleResponse(resp, nil)
}

func (c *CertmailClient) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	resp, err := c.makeRequest(ctx, http.MethodPost, "/api/send-certificates", req)
	if err != nil {
		return nil, err
	}
	var out SendResponse
	if err := c.handleResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CertmailClient) Providers(ctx context.Context) ([]ProviderResponse, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/api/providers", nil)
	if err != nil {
		return nil, err
	}
	var out []ProviderResponse
	if err := c.handleResponse(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CertmailClient) Batch(ctx context.Context, id string) (*BatchResponse, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/api/batches/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out BatchResponse
	if err := c.handleResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CertmailClient) Stats(ctx context.Context, window string) (*StatsResponse, error) {
	path := "/api/stats"
	if window != "" {
		path += "?window=" + url.QueryEscape(window)
	}
	resp, err := c.makeRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out StatsResponse
	if err := c.handleResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *CertmailClient) Health(ctx context.Context) (map[string]interface{}, error) {
	resp, err := c.makeRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := c.handleResponse(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}
