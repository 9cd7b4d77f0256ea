// Package generator implements the pipeline's first worker: drafting
// a browser test from a feature description (spec §4.2). It queries
// pkg/vectorindex for similar validated patterns, calls pkg/llm to
// draft the test, and self-validates the draft against the same rule
// set pkg/worker/critic applies, retrying with structured feedback up
// to MaxRetries before giving up.
package generator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/e2eforge/forge/pkg/llm"
	"github.com/e2eforge/forge/pkg/vectorindex"
	"github.com/e2eforge/forge/pkg/worker/critic"
)

// Complexity selects which model tier drafts the test.
type Complexity string

const (
	ComplexityEasy Complexity = "easy"
	ComplexityHard Complexity = "hard"
)

// Config mirrors pkg/config.GeneratorConfig.
type Config struct {
	MaxPatterns          int
	SimilarityThreshold  float64
	MaxRetries           int
	MaxExampleChars      int
	EasyModel            string
	HardModel            string
	CriticConfig         critic.Config
}

// Request is a single generation task.
type Request struct {
	FeatureText string
	IntentType  string
	Complexity  Complexity
	Feature     string // cost-tracking label, typically the same as IntentType/feature slot

	// ExternalFeedback seeds the first attempt's feedback block from a
	// prior router-level critique (spec §4.1 step 2, block-mode
	// rejection loop), distinct from the internal self-validation
	// feedback generated between retries of a single Generate call.
	ExternalFeedback string
}

// Result is what Generator hands back to the router.
type Result struct {
	Success       bool
	TestSource    string
	Attempts      int
	CriticResult  critic.Result
	ModelUsed     string
	InputTokens   int64
	OutputTokens  int64
	FailureReason string
}

// Completer is the subset of pkg/llm.Client Generator depends on,
// narrowed so tests can substitute a fake without a live API.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)
}

// Generator drafts and self-validates test source.
type Generator struct {
	llmClient Completer
	index     *vectorindex.Index
	cfg       Config
}

// New constructs a Generator.
func New(llmClient Completer, index *vectorindex.Index, cfg Config) *Generator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxPatterns <= 0 {
		cfg.MaxPatterns = 3
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.75
	}
	return &Generator{llmClient: llmClient, index: index, cfg: cfg}
}

// Generate runs the draft/self-validate/retry loop (spec §4.2).
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	model := g.cfg.EasyModel
	if req.Complexity == ComplexityHard {
		model = g.cfg.HardModel
	}

	matches, _ := g.index.Query(ctx, embed(req.FeatureText), g.cfg.MaxPatterns, g.cfg.SimilarityThreshold)
	retrieval := buildRetrievalBlock(matches, g.cfg.MaxExampleChars)

	var (
		feedback     = req.ExternalFeedback
		lastCritic   critic.Result
		lastSource   string
		inputTokens  int64
		outputTokens int64
	)

	attempts := 0
	for attempts < g.cfg.MaxRetries+1 {
		attempts++

		prompt := buildPrompt(req, retrieval, feedback)
		resp, err := g.llmClient.Complete(ctx, llm.CompletionRequest{
			Model:  model,
			System: systemPrompt,
			Messages: []llm.Message{
				{Role: llm.RoleUser, Text: prompt},
			},
		})
		if err != nil {
			return Result{}, err
		}
		inputTokens += resp.InputTokens
		outputTokens += resp.OutputTokens

		source := extractSource(resp.Text)
		lastSource = source

		result := structureCheck(source)
		if result.Status != critic.StatusApproved {
			lastCritic = result
			feedback = critic.FeedbackBlock(result.Issues)
			continue
		}

		result = critic.Review(source, g.cfg.CriticConfig)
		lastCritic = result

		if result.Status == critic.StatusApproved {
			return Result{
				Success:      true,
				TestSource:   source,
				Attempts:     attempts,
				CriticResult: result,
				ModelUsed:    model,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			}, nil
		}

		feedback = critic.FeedbackBlock(result.Issues)
	}

	return Result{
		Success:       false,
		TestSource:    lastSource,
		Attempts:      attempts,
		CriticResult:  lastCritic,
		ModelUsed:     model,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		FailureReason: "exceeded max_retries without a clean self-validation pass",
	}, nil
}

const systemPrompt = `You write browser end-to-end tests. Output only the test source code, ` +
	`wrapped in a single fenced code block. Use stable selectors (data-testid, role, or text), ` +
	`assert on the outcome, and capture a screenshot at each meaningful step. Never hardcode ` +
	`credentials or a localhost base URL.`

func buildPrompt(req Request, retrieval, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature request: %s\n", req.FeatureText)
	fmt.Fprintf(&b, "Intent type: %s\n", req.IntentType)
	if retrieval != "" {
		b.WriteString("\nSimilar previously-validated tests:\n")
		b.WriteString(retrieval)
	}
	if feedback != "" {
		b.WriteString("\n")
		b.WriteString(feedback)
	}
	return b.String()
}

// buildRetrievalBlock renders up to MaxExampleChars of each matched
// pattern's source, kept as a block wholly separate from the feedback
// block per spec §9's "retrieval is stable, feedback is per-retry"
// design note.
func buildRetrievalBlock(matches []vectorindex.Match, maxExampleChars int) string {
	if len(matches) == 0 {
		return ""
	}
	if maxExampleChars <= 0 {
		maxExampleChars = 2000
	}
	var b strings.Builder
	for i, m := range matches {
		code := m.Pattern.Code
		if len(code) > maxExampleChars {
			code = code[:maxExampleChars]
		}
		fmt.Fprintf(&b, "--- example %d (feature: %s, similarity %.2f) ---\n%s\n", i+1, m.Pattern.Metadata.Feature, m.Similarity, code)
	}
	return b.String()
}

var testBlockRe = regexp.MustCompile(`\b(test|it|describe)\s*\(`)

// structureCheck runs before critic.Review on every attempt (spec
// §4.2 edge case: code that "does not parse as a recognisable test
// module" must be treated as a failed self-validation and retried,
// not handed to Critic). It catches what a line-by-line rule scan
// can't: no recognised test/describe-equivalent block, or brace/
// bracket nesting that never closes.
func structureCheck(source string) critic.Result {
	var issues []critic.Issue

	if !testBlockRe.MatchString(source) {
		issues = append(issues, critic.Issue{
			Type:     critic.IssueMalformedSource,
			Severity: critic.SeverityCritical,
			Reason:   "no recognised test()/it()/describe() block found",
			Fix:      "wrap the test body in a test(), it(), or describe() block",
		})
	}

	if reason, unbalanced := findUnbalancedDelimiters(source); unbalanced {
		issues = append(issues, critic.Issue{
			Type:     critic.IssueMalformedSource,
			Severity: critic.SeverityCritical,
			Reason:   reason,
			Fix:      "ensure every brace, bracket, and parenthesis is closed",
		})
	}

	status := critic.StatusApproved
	if len(issues) > 0 {
		status = critic.StatusRejected
	}
	return critic.Result{Status: status, Issues: issues}
}

// findUnbalancedDelimiters walks source outside of string/template
// literals and comments, tracking brace/bracket/paren nesting depth.
// It is a counter, not a real parser: good enough to catch a
// truncated or garbled LLM response without false-positiving on
// delimiters that legitimately appear inside strings.
func findUnbalancedDelimiters(source string) (string, bool) {
	depth := map[rune]int{'{': 0, '[': 0, '(': 0}
	closing := map[rune]rune{'}': '{', ']': '[', ')': '('}

	var inString rune
	var inLineComment, inBlockComment bool
	runes := []rune(source)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		if inLineComment {
			if r == '\n' {
				inLineComment = false
			}
			continue
		}
		if inBlockComment {
			if r == '*' && next == '/' {
				inBlockComment = false
				i++
			}
			continue
		}
		if inString != 0 {
			if r == '\\' {
				i++
				continue
			}
			if r == inString {
				inString = 0
			}
			continue
		}

		switch {
		case r == '/' && next == '/':
			inLineComment = true
			i++
			continue
		case r == '/' && next == '*':
			inBlockComment = true
			i++
			continue
		case r == '"' || r == '\'' || r == '`':
			inString = r
			continue
		}

		switch r {
		case '{', '[', '(':
			depth[r]++
		case '}', ']', ')':
			open := closing[r]
			depth[open]--
			if depth[open] < 0 {
				return fmt.Sprintf("unmatched closing %q with no corresponding opening delimiter", r), true
			}
		}
	}

	for open, count := range depth {
		if count != 0 {
			return fmt.Sprintf("unbalanced delimiter %q: %d unclosed", open, count), true
		}
	}
	return "", false
}

// extractSource strips a single markdown fenced code block if the
// model wrapped its answer in one; otherwise returns the text as-is.
func extractSource(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}
	lines = lines[1:]
	if last := len(lines) - 1; last >= 0 && strings.HasPrefix(strings.TrimSpace(lines[last]), "```") {
		lines = lines[:last]
	}
	return strings.Join(lines, "\n")
}

// embed derives a deterministic fixed-dimension pseudo-embedding from
// text. No pack repository carries a text-embedding client (see
// DESIGN.md); this hash-based stand-in gives the vector index a
// comparable key for pattern-reuse testing without a live embeddings
// API. Real deployments are expected to supply one via the unexported
// constructor's composition point once an embeddings provider dep is
// added.
func embed(text string) []float32 {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	out := make([]float32, len(sum))
	for i, b := range sum {
		out[i] = float32(b) / 255.0
	}
	return out
}
