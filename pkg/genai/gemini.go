package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sameehj/gencad/pkg/errinfo"
	"github.com/sameehj/gencad/pkg/prompt"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.0-flash"
	DefaultTimeout       = 60 * time.Second

	maxResponseBytes = 8 << 20
)

// GeminiClient calls the generateContent endpoint with the key in the URL.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGeminiClient returns a client for model at baseURL. The key is required;
// empty model, baseURL and timeout fall back to the defaults.
func NewGeminiClient(apiKey, model, baseURL string, timeout time.Duration) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GeminiClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Name identifies the provider in metrics and status lines.
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Generate sends one generateContent request. It never retries.
func (c *GeminiClient) Generate(ctx context.Context, req prompt.Request) (*Response, error) {
	params := req.Params()
	body := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Text()}},
		}},
		GenerationConfig: generationConfig{
			ResponseMimeType: params.ResponseFormat,
			MaxOutputTokens:  params.MaxOutputTokens,
			Temperature:      params.Temperature,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errinfo.Wrap(err, errinfo.KindUnexpectedFailure, "marshal request")
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errinfo.Wrap(err, errinfo.KindUnexpectedFailure, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errinfo.Wrap(redactURL(err), errinfo.KindTransportFailure, "error connecting to Gemini API")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errinfo.Wrap(err, errinfo.KindUnexpectedFailure, "read Gemini response")
	}
	if resp.StatusCode >= 400 {
		return nil, serviceError("Gemini", resp.StatusCode, string(data))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errinfo.Wrap(err, errinfo.KindMalformedResponse, "error parsing Gemini response")
	}
	return &out, nil
}

// serviceError surfaces the numeric status, the reason phrase and the raw body.
func serviceError(provider string, status int, body string) *errinfo.Error {
	e := errinfo.New(errinfo.KindServiceError, "error connecting to %s API: %d %s", provider, status, http.StatusText(status))
	if body = strings.TrimSpace(body); body != "" {
		e.WithDetail(fmt.Sprintf("%s API Error Details: %s", provider, body))
	}
	return e
}

// redactURL strips the query string (which carries the API key) from
// transport errors before they reach logs or the status stream.
func redactURL(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	if u, perr := url.Parse(urlErr.URL); perr == nil {
		u.RawQuery = ""
		return &url.Error{Op: urlErr.Op, URL: u.String(), Err: urlErr.Err}
	}
	return &url.Error{Op: urlErr.Op, URL: "<redacted>", Err: urlErr.Err}
}
