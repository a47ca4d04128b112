package translate

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
)

const (
	DefaultLibreTranslateURL     = "http://localhost:5000"
	DefaultLibreTranslateTimeout = 30 * time.Second
)

// LibreTranslateClient implements Translator against a self-hosted
// LibreTranslate server.
type LibreTranslateClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewLibreTranslateClient(baseURL string, logger *logrus.Logger) *LibreTranslateClient {
	if baseURL == "" {
		baseURL = DefaultLibreTranslateURL
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &LibreTranslateClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultLibreTranslateTimeout,
		},
		logger: logger,
	}
}

type libreTranslateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type libreTranslateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

func (c *LibreTranslateClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(&libreTranslateRequest{
		Q:      text,
		Source: sourceLang,
		Target: targetLang,
		Format: "text",
	}); err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	url := c.baseURL + "/translate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("url", url).Error("Translation request failed")
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Debug("Translation request completed")

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ltResp libreTranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ltResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if ltResp.Error != "" {
		return "", fmt.Errorf("libretranslate: %s", ltResp.Error)
	}

	return ltResp.TranslatedText, nil
}

// CheckHealth uses the /languages endpoint as a readiness probe.
func (c *LibreTranslateClient) CheckHealth(ctx context.Context) error {
	url := c.baseURL + "/languages"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}
