package genai

import (
	"context"

	"github.com/sameehj/gencad/pkg/prompt"
)

// Client issues one generation request. Implementations return *errinfo.Error
// classified as TransportFailure, ServiceError, UnexpectedFailure or
// MalformedResponse, and never retry.
type Client interface {
	Name() string
	Generate(ctx context.Context, req prompt.Request) (*Response, error)
}

// Response mirrors the generateContent reply. Pointer fields distinguish an
// absent field from an empty one.
type Response struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is one alternative reply; only the first is read.
type Candidate struct {
	Content      *Content `json:"content"`
	FinishReason string   `json:"finishReason,omitempty"`
}

// Content holds the parts of a candidate.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is one piece of content. Text is nil when the part carries no text.
type Part struct {
	Text *string `json:"text"`
}

// TextResponse wraps plain text in a single-candidate Response.
func TextResponse(text string) *Response {
	return &Response{Candidates: []Candidate{{
		Content: &Content{Role: "model", Parts: []Part{{Text: &text}}},
	}}}
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	Temperature      float64 `json:"temperature"`
}
