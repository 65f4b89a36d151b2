package prompt

import (
	"strings"

	"github.com/sameehj/gencad/pkg/errinfo"
)

const (
	// Placeholder is the example text pre-filled in interactive front ends.
	Placeholder = `Example: "Create a 50mm cube with a 10mm cylindrical hole through the center"`
	// PlaceholderPrefix marks a prompt the user never edited.
	PlaceholderPrefix = "Example:"
)

// Params are the model knobs sent with every request.
type Params struct {
	MaxOutputTokens int
	Temperature     float64
	ResponseFormat  string
}

// DefaultParams matches the generation settings the pipeline was tuned with.
func DefaultParams() Params {
	return Params{
		MaxOutputTokens: 4096,
		Temperature:     0.3,
		ResponseFormat:  "text/plain",
	}
}

// Request is an immutable generation request. Build it with Builder.Build.
type Request struct {
	userPrompt  string
	constraints string
	params      Params
}

// UserPrompt is the trimmed user description.
func (r Request) UserPrompt() string { return r.userPrompt }

// Constraints is the fixed instruction block.
func (r Request) Constraints() string { return r.constraints }

// Params are the model settings sent with the request.
func (r Request) Params() Params { return r.params }

// Text returns the full prompt: instruction block followed by the user description.
func (r Request) Text() string {
	return r.constraints + "\n\nUSER DESCRIPTION: " + r.userPrompt +
		"\n\nGenerate only the Python script code, no explanations or markdown formatting:"
}

// Builder wraps raw user prompts into generation requests.
type Builder struct {
	Params Params
}

// NewBuilder fills unset params from DefaultParams.
func NewBuilder(params Params) *Builder {
	if params.MaxOutputTokens <= 0 {
		params.MaxOutputTokens = DefaultParams().MaxOutputTokens
	}
	if params.ResponseFormat == "" {
		params.ResponseFormat = DefaultParams().ResponseFormat
	}
	return &Builder{Params: params}
}

// Build trims userPrompt and refuses empty input or the untouched placeholder.
func (b *Builder) Build(userPrompt string) (Request, error) {
	text := strings.TrimSpace(userPrompt)
	if text == "" {
		return Request{}, errinfo.New(errinfo.KindEmptyPrompt, "please enter a valid model description")
	}
	if IsPlaceholder(text) {
		return Request{}, errinfo.New(errinfo.KindEmptyPrompt, "please replace the example text with your own model description")
	}
	return Request{
		userPrompt:  text,
		constraints: instructions,
		params:      b.Params,
	}, nil
}

// IsPlaceholder reports whether text is still the pre-filled example.
func IsPlaceholder(text string) bool {
	text = strings.TrimSpace(text)
	return text == Placeholder || strings.HasPrefix(text, PlaceholderPrefix)
}

const instructions = `Generate a complete and valid Python script for FreeCAD to create a 3D model based on the following description.

REQUIREMENTS:
- The script must be self-contained and runnable within FreeCAD
- Use only FreeCAD's built-in modules (FreeCAD, Part, Draft, etc.)
- Do NOT import os, subprocess, sys, or any external libraries
- Do NOT include user interaction, file saving, or file I/O operations
- Create a new document at the start with FreeCAD.newDocument()
- Add all geometry to the document
- End with FreeCAD.ActiveDocument.recompute() and FreeCAD.Gui.ActiveDocument.ActiveView.fitAll()
- Use proper Python syntax and FreeCAD API calls
- Create realistic dimensions if not specified

EXAMPLE STRUCTURE:
` + "```python" + `
import FreeCAD
import Part

# Create new document
doc = FreeCAD.newDocument()

# Create geometry using Part module
# ... your geometry creation code here ...

# Add objects to document
doc.addObject("Part::Feature", "Model").Shape = your_shape

# Finalize
doc.recompute()
FreeCAD.Gui.ActiveDocument.ActiveView.fitAll()
` + "```"
