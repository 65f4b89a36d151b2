package genai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sameehj/gencad/pkg/prompt"
)

// Settings selects and configures a provider.
type Settings struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// New creates a client of the specified provider.
func New(s Settings) (Client, error) {
	switch strings.ToLower(s.Provider) {
	case "gemini", "google", "":
		return NewGeminiClient(s.APIKey, s.Model, s.BaseURL, s.Timeout)
	case "openai":
		return NewOpenAIClient(s.APIKey, s.Model, s.BaseURL, s.Timeout)
	case "mock":
		return NewMockClient(MockScript), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", s.Provider)
	}
}

// MockScript is a minimal script that passes validation.
const MockScript = "```python\n" + `import FreeCAD
import Part

doc = FreeCAD.newDocument()
box = Part.makeBox(50, 50, 50)
doc.addObject("Part::Feature", "Cube").Shape = box
doc.recompute()
FreeCAD.Gui.ActiveDocument.ActiveView.fitAll()
` + "```"

// MockClient returns a fixed reply for offline runs and tests.
type MockClient struct {
	Text string
	Err  error

	// Requests records every prompt passed to Generate.
	Requests []prompt.Request
}

// NewMockClient returns a client that always replies with text.
func NewMockClient(text string) *MockClient {
	return &MockClient{Text: text}
}

func (m *MockClient) Name() string {
	return "mock"
}

func (m *MockClient) Generate(ctx context.Context, req prompt.Request) (*Response, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return TextResponse(m.Text), nil
}
