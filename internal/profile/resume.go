package profile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ResumeExtract holds the matchable attributes recognized in a resume.
type ResumeExtract struct {
	Skills  []string `json:"skills"`
	Domains []string `json:"domains"`
}

// resumeSkills maps tokens found in resume text to canonical skill names.
// Multi-word keys are matched as substrings of the lowercased text, single
// words against the token set, so "go" does not fire on "google".
var resumeSkills = map[string]string{
	"golang":           "go",
	"go":               "go",
	"python":           "python",
	"java":             "java",
	"typescript":       "typescript",
	"javascript":       "javascript",
	"rust":             "rust",
	"kotlin":           "kotlin",
	"swift":            "swift",
	"c++":              "c++",
	"sql":              "sql",
	"postgresql":       "postgresql",
	"postgres":         "postgresql",
	"mysql":            "mysql",
	"sqlite":           "sqlite",
	"redis":            "redis",
	"kafka":            "kafka",
	"kubernetes":       "kubernetes",
	"k8s":              "kubernetes",
	"docker":           "docker",
	"terraform":        "terraform",
	"aws":              "aws",
	"gcp":              "gcp",
	"azure":            "azure",
	"grpc":             "grpc",
	"graphql":          "graphql",
	"react":            "react",
	"node.js":          "node.js",
	"machine learning": "machine learning",
}

var resumeDomains = map[string]string{
	"fintech":        "fintech",
	"payments":       "payments",
	"payment":        "payments",
	"e-commerce":     "e-commerce",
	"ecommerce":      "e-commerce",
	"healthcare":     "healthcare",
	"healthtech":     "healthcare",
	"logistics":      "logistics",
	"adtech":         "adtech",
	"edtech":         "edtech",
	"gaming":         "gaming",
	"cybersecurity":  "security",
	"security":       "security",
	"infrastructure": "infrastructure",
	"devops":         "infrastructure",
}

// ParseResume extracts skills and domains from a PDF resume by keyword
// matching against the plain-text content. It is deliberately conservative:
// unknown terms are ignored rather than guessed at.
func ParseResume(r io.ReaderAt, size int64) (ResumeExtract, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return ResumeExtract{}, fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return ResumeExtract{}, fmt.Errorf("extracting pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return ResumeExtract{}, fmt.Errorf("reading pdf text: %w", err)
	}
	return extractFromText(string(text)), nil
}

func extractFromText(text string) ResumeExtract {
	lower := strings.ToLower(text)
	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', ',', ';', ':', '(', ')', '/', '|':
			return true
		}
		return false
	}) {
		tokens[strings.Trim(tok, ".")] = struct{}{}
	}

	match := func(table map[string]string) []string {
		var out []string
		for keyword, canonical := range table {
			if strings.ContainsRune(keyword, ' ') {
				if strings.Contains(lower, keyword) {
					out = append(out, canonical)
				}
				continue
			}
			if _, ok := tokens[keyword]; ok {
				out = append(out, canonical)
			}
		}
		return NormalizeSet(out)
	}

	return ResumeExtract{
		Skills:  match(resumeSkills),
		Domains: match(resumeDomains),
	}
}

// RefreshFromResume parses a PDF resume and merges the recognized attributes
// into the member's profile. Existing attributes are kept; the resume only
// adds. Returns the updated profile.
func (m *Manager) RefreshFromResume(ctx context.Context, memberID string, resume []byte) (MemberProfile, error) {
	extract, err := ParseResume(bytes.NewReader(resume), int64(len(resume)))
	if err != nil {
		return MemberProfile{}, err
	}
	return m.Apply(ctx, memberID, Patch{
		AddSkills:  extract.Skills,
		AddDomains: extract.Domains,
	})
}
