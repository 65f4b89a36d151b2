package extract

import (
	"regexp"
	"strings"

	"github.com/sameehj/gencad/pkg/errinfo"
	"github.com/sameehj/gencad/pkg/genai"
)

const (
	fence         = "```"
	languageFence = fence + "python"
)

// bare info-string such as "py" or "python3" on the opening fence line
var infoString = regexp.MustCompile(`^[A-Za-z0-9_+.-]+$`)

// Script is the extracted candidate source plus the reply it came from.
type Script struct {
	Source string
	Origin *genai.Response
}

// Extract navigates to candidates[0].content.parts[0].text and strips code
// fences. A missing link in that chain is a MalformedResponse.
func Extract(resp *genai.Response) (*Script, error) {
	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}
	return &Script{Source: StripFences(text), Origin: resp}, nil
}

func firstText(resp *genai.Response) (string, error) {
	switch {
	case resp == nil:
		return "", errinfo.New(errinfo.KindMalformedResponse, "unexpected response structure: empty reply")
	case len(resp.Candidates) == 0:
		return "", errinfo.New(errinfo.KindMalformedResponse, "unexpected response structure: no candidates")
	case resp.Candidates[0].Content == nil:
		return "", errinfo.New(errinfo.KindMalformedResponse, "unexpected response structure: candidate has no content")
	case len(resp.Candidates[0].Content.Parts) == 0:
		return "", errinfo.New(errinfo.KindMalformedResponse, "unexpected response structure: content has no parts")
	case resp.Candidates[0].Content.Parts[0].Text == nil:
		return "", errinfo.New(errinfo.KindMalformedResponse, "unexpected response structure: part has no text")
	}
	return *resp.Candidates[0].Content.Parts[0].Text, nil
}

// StripFences returns the interior of the first python-tagged fence, else of
// the first fence of any kind, else the trimmed text. An opening fence with
// no closing fence leaves the text as is.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, languageFence); start >= 0 {
		if inner, ok := between(text, start+len(languageFence)); ok {
			return inner
		}
		return text
	}
	if start := strings.Index(text, fence); start >= 0 {
		if inner, ok := between(text, start+len(fence)); ok {
			return dropInfoString(inner)
		}
	}
	return text
}

func between(text string, start int) (string, bool) {
	end := strings.Index(text[start:], fence)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(text[start : start+end]), true
}

func dropInfoString(inner string) string {
	first, rest, found := strings.Cut(inner, "\n")
	if !found || !infoString.MatchString(strings.TrimSpace(first)) {
		return inner
	}
	return strings.TrimSpace(rest)
}
