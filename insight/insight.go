// Package insight summarizes study text, parses search intent and derives
// insights from study records.
//
// Each operation runs the configured remote generators in order, Gemini
// first and OpenAI second, and ends with a local heuristic that always
// answers. Callers therefore never see an error from this package; the
// Provider field tells them which step produced the answer.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Neil2813/Nexus/metric"
	"github.com/Neil2813/Nexus/pkg/fallback"
)

// Local provider and model names.
const (
	ProviderLocalSummary  = "local_processing"
	ProviderLocalIntent   = "local_fallback"
	ProviderLocalInsights = "local_analysis"
	ProviderNone          = "none"

	ModelLocalSummary  = "text_analysis"
	ModelLocalInsights = "statistical_analysis"

	// DefaultTimeout bounds one remote generation.
	DefaultTimeout = 30 * time.Second

	maxPromptInput = 2000
)

// Config selects the remote generators. A provider without a key is skipped.
type Config struct {
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	Timeout       time.Duration
}

// Service runs the generator chains.
type Service struct {
	remote  []Generator
	timeout time.Duration
	logger  *slog.Logger
	metrics *metric.Metrics

	gemini bool
	openai bool
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger     *slog.Logger
	metrics    *metric.Metrics
	httpClient *http.Client
	generators []Generator
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// WithMetrics records every chain attempt.
func WithMetrics(m *metric.Metrics) Option {
	return func(o *serviceOptions) { o.metrics = m }
}

// WithHTTPClient sets the client both remote generators use.
func WithHTTPClient(c *http.Client) Option {
	return func(o *serviceOptions) { o.httpClient = c }
}

// WithGenerators replaces the remote generators built from Config.
func WithGenerators(gens ...Generator) Option {
	return func(o *serviceOptions) { o.generators = gens }
}

// New creates a Service.
func New(cfg Config, opts ...Option) *Service {
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	s := &Service{
		timeout: cfg.Timeout,
		logger:  o.logger.With("component", "insight"),
		metrics: o.metrics,
	}
	if o.generators != nil {
		s.remote = o.generators
	} else {
		if cfg.GeminiAPIKey != "" {
			s.remote = append(s.remote, NewGemini(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, o.httpClient))
		}
		if cfg.OpenAIAPIKey != "" {
			s.remote = append(s.remote, NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, o.httpClient))
		}
	}
	for _, g := range s.remote {
		switch g.Name() {
		case "gemini":
			s.gemini = true
		case "openai":
			s.openai = true
		}
	}
	s.logger.Info("insight service initialized", "gemini", s.gemini, "openai", s.openai)
	return s
}

// GeminiConfigured reports whether a Gemini generator is present.
func (s *Service) GeminiConfigured() bool { return s.gemini }

// OpenAIConfigured reports whether an OpenAI generator is present.
func (s *Service) OpenAIConfigured() bool { return s.openai }

// RemoteConfigured reports whether any remote generator is present.
func (s *Service) RemoteConfigured() bool { return len(s.remote) > 0 }

func chain[T any](s *Service, name string, validate fallback.Validator[T]) fallback.Chain[T] {
	c := fallback.Chain[T]{Name: name, Timeout: s.timeout, Validate: validate, Logger: s.logger}
	if s.metrics != nil {
		c.Observer = s.metrics
	}
	return c
}

// Summary is the result of Summarize.
type Summary struct {
	Summary  string `json:"summary"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Summarize condenses text into a few bullet points.
func (s *Service) Summarize(ctx context.Context, text string, maxTokens int) Summary {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	prompt := "Analyze and summarize the following NASA space biology research data/text. " +
		"Provide key insights about the research, methodology, and findings. " +
		"Focus on biological significance and space-related implications:\n\n" +
		clip(text, maxPromptInput) +
		"\n\nFormat your response as structured bullet points highlighting:\n" +
		"• Research focus and objectives\n• Key biological findings\n• Space environment implications"

	attempts := make([]fallback.Attempt[Summary], 0, len(s.remote)+1)
	for _, g := range s.remote {
		attempts = append(attempts, fallback.Attempt[Summary]{
			Provider: g.Name(),
			Run: func(ctx context.Context) (Summary, error) {
				out, err := g.Generate(ctx, prompt, Generation{MaxTokens: maxTokens, Temperature: 0.7})
				return Summary{Summary: out, Provider: g.Name(), Model: g.Model()}, err
			},
		})
	}
	attempts = append(attempts, fallback.Attempt[Summary]{
		Provider: ProviderLocalSummary,
		Run: func(context.Context) (Summary, error) {
			return summarizeLocally(text), nil
		},
	})

	res := chain(s, "insight.summarize", func(v Summary) error {
		if strings.TrimSpace(v.Summary) == "" {
			return fallback.ErrEmpty
		}
		return nil
	}).Run(ctx, attempts...)
	if !res.OK() {
		// Empty input or a cancelled context.
		return Summary{Summary: text, Provider: ProviderLocalSummary, Model: ModelLocalSummary}
	}
	return res.Value
}

var summaryTerms = []string{
	"microgravity", "space", "protein", "cell", "gene", "rna", "dna",
	"experiment", "study", "analysis", "biological", "organism",
}

var sentenceBreak = regexp.MustCompile(`[.!?]`)

// summarizeLocally picks the three sentences among the first ten that
// mention the most key terms.
func summarizeLocally(text string) Summary {
	type scored struct {
		score    int
		sentence string
	}
	sentences := sentenceBreak.Split(text, -1)
	if len(sentences) > 10 {
		sentences = sentences[:10]
	}

	var picks []scored
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) <= 20 {
			continue
		}
		lower := strings.ToLower(sentence)
		score := 0
		for _, term := range summaryTerms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		picks = append(picks, scored{score, sentence})
	}
	// Stable insertion keeps the original order among equal scores.
	for i := 1; i < len(picks); i++ {
		for j := i; j > 0 && picks[j].score > picks[j-1].score; j-- {
			picks[j], picks[j-1] = picks[j-1], picks[j]
		}
	}
	if len(picks) > 3 {
		picks = picks[:3]
	}

	var summary string
	if len(picks) > 0 {
		lines := make([]string, len(picks))
		for i, p := range picks {
			lines[i] = p.sentence
		}
		summary = "• " + strings.Join(lines, "\n• ")
	} else if len([]rune(text)) > 400 {
		summary = clip(text, 400) + "..."
	} else {
		summary = text
	}
	return Summary{Summary: summary, Provider: ProviderLocalSummary, Model: ModelLocalSummary}
}

// Intent is a structured reading of a free-text search query.
type Intent struct {
	Query         string   `json:"query"`
	OriginalQuery string   `json:"original_query"`
	Organisms     []string `json:"organisms,omitempty"`
	Missions      []string `json:"missions,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Provider      string   `json:"provider"`
}

var jsonObject = regexp.MustCompile(`(?s)\{[^}]*\}`)

// ParseIntent extracts search filters from a query.
func (s *Service) ParseIntent(ctx context.Context, query string) Intent {
	prompt := "Extract search parameters from this NASA space biology query. Return ONLY a JSON object.\n\n" +
		fmt.Sprintf("Query: %q\n\n", query) +
		"Extract these fields if mentioned:\n" +
		"- query: refined search terms\n" +
		"- organisms: list of organisms mentioned\n" +
		"- missions: list of space missions mentioned\n" +
		"- tags: list of research areas (microgravity, radiation, protein, cell, gene, etc.)\n\n" +
		"Return valid JSON only:"

	attempts := make([]fallback.Attempt[Intent], 0, len(s.remote)+1)
	for _, g := range s.remote {
		attempts = append(attempts, fallback.Attempt[Intent]{
			Provider: g.Name(),
			Run: func(ctx context.Context) (Intent, error) {
				out, err := g.Generate(ctx, prompt, Generation{MaxTokens: 256, Temperature: 0.3})
				if err != nil {
					return Intent{}, err
				}
				return decodeIntent(out, query, g.Name())
			},
		})
	}
	attempts = append(attempts, fallback.Attempt[Intent]{
		Provider: ProviderLocalIntent,
		Run: func(context.Context) (Intent, error) {
			return parseIntentLocally(query), nil
		},
	})
	res := chain[Intent](s, "insight.intent", nil).Run(ctx, attempts...)
	if !res.OK() {
		return parseIntentLocally(query)
	}
	return res.Value
}

func decodeIntent(text, query, provider string) (Intent, error) {
	match := jsonObject.FindString(text)
	if match == "" {
		return Intent{}, fmt.Errorf("%s: no JSON object in response", provider)
	}
	var in Intent
	if err := json.Unmarshal([]byte(match), &in); err != nil {
		return Intent{}, fmt.Errorf("%s: decode intent: %w", provider, err)
	}
	if in.Query == "" {
		in.Query = query
	}
	in.OriginalQuery = query
	in.Provider = provider
	return in, nil
}

var organismKeywords = []struct{ keyword, organism string }{
	{"human", "Homo sapiens"},
	{"mouse", "Mus musculus"},
	{"mice", "Mus musculus"},
	{"arabidopsis", "Arabidopsis thaliana"},
	{"fruit fly", "Drosophila melanogaster"},
	{"yeast", "Saccharomyces cerevisiae"},
	{"c. elegans", "Caenorhabditis elegans"},
}

var missionKeywords = []string{"iss", "expedition", "sts", "shuttle", "spacex", "dragon"}

var tagKeywords = []string{
	"microgravity", "radiation", "protein", "cell", "gene", "rna", "dna",
	"muscle", "bone", "immune", "cardiovascular", "neurological",
}

func parseIntentLocally(query string) Intent {
	lower := strings.ToLower(query)
	in := Intent{Query: query, OriginalQuery: query, Provider: ProviderLocalIntent}

	for _, k := range organismKeywords {
		if strings.Contains(lower, k.keyword) && !contains(in.Organisms, k.organism) {
			in.Organisms = append(in.Organisms, k.organism)
		}
	}
	for _, k := range missionKeywords {
		if strings.Contains(lower, k) {
			in.Missions = append(in.Missions, strings.ToUpper(k))
		}
	}
	for _, k := range tagKeywords {
		if strings.Contains(lower, k) {
			in.Tags = append(in.Tags, k)
		}
	}
	return in
}

// Record is the part of a study that insight generation reads.
type Record struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Organism    string `json:"organism"`
	Mission     string `json:"mission"`
}

// Insights is the result of GenerateInsights.
type Insights struct {
	Insights []string `json:"insights"`
	Provider string   `json:"provider"`
	Model    string   `json:"model,omitempty"`
}

// GenerateInsights derives observations from records. Only Gemini is
// consulted remotely; the local analysis counts organisms and missions.
func (s *Service) GenerateInsights(ctx context.Context, records []Record) Insights {
	if len(records) == 0 {
		return Insights{Insights: []string{}, Provider: ProviderNone}
	}

	var lines []string
	for i, r := range records {
		if i == 5 {
			break
		}
		lines = append(lines, fmt.Sprintf("Study: %s - %s", orDefault(r.Title, "Unknown"), clip(r.Description, 100)))
	}
	prompt := "Analyze these NASA space biology studies and generate key insights:\n\n" +
		strings.Join(lines, "\n") +
		"\n\nProvide 3-5 analytical insights about:\n" +
		"- Common research themes\n" +
		"- Biological implications of space environment\n" +
		"- Research trends and patterns\n\n" +
		"Format as bullet points."

	var attempts []fallback.Attempt[Insights]
	for _, g := range s.remote {
		if g.Name() != "gemini" {
			continue
		}
		attempts = append(attempts, fallback.Attempt[Insights]{
			Provider: g.Name(),
			Run: func(ctx context.Context) (Insights, error) {
				out, err := g.Generate(ctx, prompt, Generation{MaxTokens: 512, Temperature: 0.8})
				if err != nil {
					return Insights{}, err
				}
				return Insights{Insights: nonBlankLines(out), Provider: g.Name(), Model: g.Model()}, nil
			},
		})
	}
	attempts = append(attempts, fallback.Attempt[Insights]{
		Provider: ProviderLocalInsights,
		Run: func(context.Context) (Insights, error) {
			return insightsLocally(records), nil
		},
	})

	res := chain(s, "insight.insights", fallback.NonEmpty(func(v Insights) int {
		return len(v.Insights)
	})).Run(ctx, attempts...)
	if !res.OK() {
		return insightsLocally(records)
	}
	return res.Value
}

func insightsLocally(records []Record) Insights {
	var insights []string
	if name, n := mostFrequent(records, func(r Record) string { return r.Organism }); n > 0 {
		insights = append(insights, fmt.Sprintf("Most studied organism: %s (%d studies)", name, n))
	}
	if name, n := mostFrequent(records, func(r Record) string { return r.Mission }); n > 0 {
		insights = append(insights, fmt.Sprintf("Most data from mission: %s (%d studies)", name, n))
	}
	insights = append(insights, fmt.Sprintf("Total datasets analyzed: %d", len(records)))
	return Insights{Insights: insights, Provider: ProviderLocalInsights, Model: ModelLocalInsights}
}

// mostFrequent returns the most common non-empty value; the first seen wins
// a tie.
func mostFrequent(records []Record, field func(Record) string) (string, int) {
	counts := map[string]int{}
	var order []string
	for _, r := range records {
		v := field(r)
		if v == "" {
			continue
		}
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best, bestN := "", 0
	for _, v := range order {
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best, bestN
}

func nonBlankLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
