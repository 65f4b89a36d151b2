package safety

import (
	"fmt"
	"regexp"
)

// Rule is one lexical pattern. Patterns are matched case-insensitively over
// the raw script text.
type Rule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Reason  string `yaml:"reason" json:"reason"`

	re *regexp.Regexp
}

func (r Rule) compile() (Rule, error) {
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compile pattern %q: %w", r.Pattern, err)
	}
	r.re = re
	return r, nil
}

func (r Rule) match(text string) bool {
	return r.re.MatchString(text)
}

func mustCompile(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		c, err := r.compile()
		if err != nil {
			panic(err)
		}
		out[i] = c
	}
	return out
}

var requiredImports = []Rule{
	{Pattern: `import\s+FreeCAD`, Reason: "core modeling framework"},
	{Pattern: `import\s+Part`, Reason: "geometry construction module"},
}

var initCall = Rule{Pattern: `FreeCAD\.newDocument\(\)`, Reason: "document creation"}

var operations = []Rule{
	{Pattern: `FreeCAD\.`, Reason: "framework call"},
	{Pattern: `Part\.`, Reason: "geometry call"},
	{Pattern: `\.addObject\(`, Reason: "add object to document"},
	{Pattern: `\.recompute\(`, Reason: "recompute"},
}

// builtinDenied is evaluated in order; the first match is reported. RE2 has
// no look-ahead, so "not followed by a word character" is written as \b.
var builtinDenied = []Rule{
	{Pattern: `import\s+os\b`, Reason: "operating system module import"},
	{Pattern: `import\s+subprocess`, Reason: "process spawning module import"},
	{Pattern: `import\s+sys\b`, Reason: "interpreter module import"},
	{Pattern: `import\s+shutil`, Reason: "filesystem module import"},
	{Pattern: `import\s+urllib`, Reason: "network module import"},
	{Pattern: `import\s+socket`, Reason: "network module import"},
	{Pattern: `import\s+requests`, Reason: "HTTP client import"},
	{Pattern: `\bos\.`, Reason: "operating system module reference"},
	{Pattern: `\bsubprocess\.`, Reason: "process spawning module reference"},
	{Pattern: `\bsys\.`, Reason: "interpreter module reference"},
	{Pattern: `\bshutil\.`, Reason: "filesystem module reference"},
	{Pattern: `\burllib\.`, Reason: "network module reference"},
	{Pattern: `\bsocket\.`, Reason: "network module reference"},
	{Pattern: `\brequests\.`, Reason: "HTTP client reference"},
	{Pattern: `exec\s*\(`, Reason: "dynamic code execution"},
	{Pattern: `eval\s*\(`, Reason: "dynamic code evaluation"},
	{Pattern: `__import__`, Reason: "dynamic import"},
	{Pattern: `open\s*\(`, Reason: "file open"},
	{Pattern: `file\s*\(`, Reason: "file open"},
	{Pattern: `input\s*\(`, Reason: "interactive input"},
	{Pattern: `raw_input\s*\(`, Reason: "interactive input"},
	{Pattern: `compile\s*\(`, Reason: "dynamic code compilation"},
	{Pattern: `globals\s*\(`, Reason: "namespace introspection"},
	{Pattern: `locals\s*\(`, Reason: "namespace introspection"},
	{Pattern: `setattr\s*\(`, Reason: "dynamic attribute mutation"},
	{Pattern: `getattr\s*\(`, Reason: "dynamic attribute access"},
	{Pattern: `delattr\s*\(`, Reason: "dynamic attribute deletion"},
	{Pattern: `hasattr\s*\(`, Reason: "dynamic attribute introspection"},
	{Pattern: `from\s+(os|subprocess|sys|shutil|urllib|socket|requests)\b`, Reason: "banned module import"},
	{Pattern: `import\s+(pathlib|importlib|ctypes|http|multiprocessing)\b`, Reason: "banned module import"},
}

var (
	compiledRequired   = mustCompile(requiredImports)
	compiledInit       = mustCompile([]Rule{initCall})[0]
	compiledOperations = mustCompile(operations)
	compiledDenied     = mustCompile(builtinDenied)
)

// DeniedRules returns a copy of the built-in denylist in evaluation order.
func DeniedRules() []Rule {
	out := make([]Rule, len(compiledDenied))
	copy(out, compiledDenied)
	return out
}
