package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ProducedPass is what the artifact producer hands back: the signed blob
// plus the three identifiers a device needs for updates.
type ProducedPass struct {
	SerialNumber string
	AuthToken    string
	ServiceURL   string
	Artifact     []byte
}

// ArtifactProducer builds a signed pass artifact for a template and
// property bag. Pass construction (layout, images, certificate signing)
// lives entirely behind this interface; the update subsystem only consumes
// the result. An empty serialNumber asks the producer to assign one; a
// non-empty one regenerates the artifact for an existing pass.
type ArtifactProducer interface {
	Produce(ctx context.Context, templateID, passTypeID, serialNumber string, properties map[string]string) (*ProducedPass, error)
}

// ProducerClient talks to the external pass-signing service over HTTP
type ProducerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewProducerClient creates a ProducerClient for the given service URL
func NewProducerClient(baseURL string, timeout time.Duration) (*ProducerClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("producer URL is required")
	}
	return &ProducerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type produceRequest struct {
	TemplateID   string            `json:"templateId"`
	PassTypeID   string            `json:"passTypeIdentifier"`
	SerialNumber string            `json:"serialNumber,omitempty"`
	Properties   map[string]string `json:"properties"`
}

type produceResponse struct {
	SerialNumber string `json:"serialNumber"`
	AuthToken    string `json:"authenticationToken"`
	ServiceURL   string `json:"webServiceUrl"`
	Artifact     string `json:"artifact"` // base64-encoded .pkpass
}

func (c *ProducerClient) Produce(ctx context.Context, templateID, passTypeID, serialNumber string, properties map[string]string) (*ProducedPass, error) {
	body, err := json.Marshal(produceRequest{
		TemplateID:   templateID,
		PassTypeID:   passTypeID,
		SerialNumber: serialNumber,
		Properties:   properties,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal producer request: %w", err)
	}

	url := c.baseURL + "/v1/passes"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create producer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("producer request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("producer error: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	var produced produceResponse
	if err := json.Unmarshal(respBody, &produced); err != nil {
		return nil, fmt.Errorf("failed to parse producer response: %w", err)
	}

	artifact, err := base64.StdEncoding.DecodeString(produced.Artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pass artifact: %w", err)
	}
	if len(artifact) == 0 {
		return nil, fmt.Errorf("producer returned an empty artifact")
	}

	return &ProducedPass{
		SerialNumber: produced.SerialNumber,
		AuthToken:    produced.AuthToken,
		ServiceURL:   produced.ServiceURL,
		Artifact:     artifact,
	}, nil
}
