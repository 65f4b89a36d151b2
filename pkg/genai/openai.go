package genai

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sameehj/gencad/pkg/errinfo"
	"github.com/sameehj/gencad/pkg/prompt"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint and
// folds the first choice into the same Response shape Gemini returns.
type OpenAIClient struct {
	model string
	opts  []option.RequestOption
}

// NewOpenAIClient returns a client for an OpenAI-compatible endpoint. An empty
// baseURL uses the SDK default.
func NewOpenAIClient(apiKey, model, baseURL string, timeout time.Duration) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{model: model, opts: opts}, nil
}

// Name identifies the provider in metrics and status lines.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Generate sends one chat completion request. Failed replies keep the raw
// response body for the ServiceError detail line.
func (c *OpenAIClient) Generate(ctx context.Context, req prompt.Request) (*Response, error) {
	client := openai.NewClient(c.opts...)
	params := req.Params()
	var failed errorBody

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Text())},
		MaxTokens:   openai.Int(int64(params.MaxOutputTokens)),
		Temperature: openai.Float(params.Temperature),
	}, option.WithMiddleware(failed.capture))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			body := failed.String()
			if body == "" {
				body = apiErr.RawJSON()
			}
			return nil, serviceError("OpenAI", apiErr.StatusCode, body)
		}
		var netErr net.Error
		if ctx.Err() != nil || errors.As(err, &netErr) {
			return nil, errinfo.Wrap(err, errinfo.KindTransportFailure, "error connecting to OpenAI API")
		}
		return nil, errinfo.Wrap(err, errinfo.KindUnexpectedFailure, "an unexpected error occurred during API call")
	}
	if len(resp.Choices) == 0 {
		return &Response{}, nil
	}
	return TextResponse(resp.Choices[0].Message.Content), nil
}

// errorBody keeps the body of the last error response seen by one call.
type errorBody struct {
	body []byte
}

func (e *errorBody) capture(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || resp == nil || resp.StatusCode < 400 || resp.Body == nil {
		return resp, err
	}
	// on a read error, keep whatever arrived
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	e.body = data
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

func (e *errorBody) String() string {
	return strings.TrimSpace(string(e.body))
}

var _ Client = (*OpenAIClient)(nil)
