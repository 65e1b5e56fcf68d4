package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"StoryboardVideo-server/models"
)

// StoryboardClient is what the generation orchestrator needs from the AI backend.
type StoryboardClient interface {
	RequestStoryboard(ctx context.Context, prompt string) ([]string, error)
	RequestSceneImage(ctx context.Context, scene string, aspect models.AspectRatio) (string, error)
}

// RelayClient talks to the relay endpoint. It never sees the provider credential.
type RelayClient struct {
	Endpoint string
	HTTP     *http.Client
	Log      *logrus.Entry
}

// NewRelayClient builds a client for baseURL+path, e.g. "http://127.0.0.1:8080" + "/functions/relay".
func NewRelayClient(baseURL, path string, timeout time.Duration, log *logrus.Entry) *RelayClient {
	return &RelayClient{
		Endpoint: strings.TrimRight(baseURL, "/") + path,
		HTTP:     &http.Client{Timeout: timeout},
		Log:      log,
	}
}

func (c *RelayClient) RequestStoryboard(ctx context.Context, prompt string) ([]string, error) {
	var out models.StoryboardResponse
	req := models.RelayRequest{Type: models.RelayTypeStoryboard, Prompt: prompt}
	if err := c.post(ctx, req, "Failed to generate storyboard", &out); err != nil {
		return nil, err
	}
	return out.Scenes, nil
}

func (c *RelayClient) RequestSceneImage(ctx context.Context, scene string, aspect models.AspectRatio) (string, error) {
	var out models.ImageResponse
	req := models.RelayRequest{Type: models.RelayTypeImage, SceneDescription: scene, AspectRatio: aspect}
	if err := c.post(ctx, req, "Failed to generate image", &out); err != nil {
		return "", err
	}
	if out.Image == "" {
		return "", &BackendError{Kind: MalformedJSON, Status: http.StatusOK, Message: "relay response missing image"}
	}
	return out.Image, nil
}

// post sends one intent and decodes a successful envelope into out.
// fallback is the message used when a failed response carries no error text.
func (c *RelayClient) post(ctx context.Context, payload models.RelayRequest, fallback string, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal relay request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger().WithField("type", payload.Type).Debug("POST relay")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &BackendError{Kind: Transport, Message: fmt.Sprintf("%s: %v", fallback, err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &BackendError{Kind: Transport, Status: resp.StatusCode, Message: fmt.Sprintf("%s: %v", fallback, err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("%s (status %d)", fallback, resp.StatusCode)
		var e models.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		c.logger().WithFields(logrus.Fields{"type": payload.Type, "status": resp.StatusCode}).Warn(msg)
		return &BackendError{Kind: NonSuccessStatus, Status: resp.StatusCode, Message: msg}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return &BackendError{Kind: EmptyResponseBody, Status: resp.StatusCode, Message: "relay returned an empty response body"}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &BackendError{Kind: MalformedJSON, Status: resp.StatusCode, Message: fmt.Sprintf("relay returned malformed JSON: %v", err), Err: err}
	}
	return nil
}

func (c *RelayClient) logger() *logrus.Entry {
	return orStandard(c.Log)
}

func orStandard(l *logrus.Entry) *logrus.Entry {
	if l == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return l
}
