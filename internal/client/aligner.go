package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/voxoff/pipeline/internal/config"
	"github.com/voxoff/pipeline/internal/model"
)

// ForcedAligner maps a transcript onto word timings in a vocal track
type ForcedAligner interface {
	Align(ctx context.Context, vocalsPath, transcript string) ([]model.AlignedWord, error)
	HealthCheck(ctx context.Context) error
}

// AlignerClient implements ForcedAligner for the alignment microservice
type AlignerClient struct {
	httpClient *http.Client
	baseURL    string
}

// alignResponse represents the response from the /align endpoint
type alignResponse struct {
	Words []model.AlignedWord `json:"words"`
}

// NewAlignerClient creates a new forced-alignment client
func NewAlignerClient(cfg *config.AlignerConfig) *AlignerClient {
	return &AlignerClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Align uploads the vocals with the transcript and returns aligned words in
// transcript order
func (c *AlignerClient) Align(ctx context.Context, vocalsPath, transcript string) ([]model.AlignedWord, error) {
	body, contentType, err := alignForm(vocalsPath, transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/align", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Service: "aligner", URL: req.URL.String(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result alignResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Words, nil
}

// HealthCheck checks if the alignment service is available
func (c *AlignerClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("aligner unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func alignForm(vocalsPath, transcript string) (*bytes.Buffer, string, error) {
	f, err := os.Open(vocalsPath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("transcript", transcript); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("audio", filepath.Base(vocalsPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
