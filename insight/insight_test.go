package insight

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubGenerator answers every prompt with a fixed reply or error.
type stubGenerator struct {
	name  string
	reply string
	err   error
	calls int
}

func (s *stubGenerator) Name() string  { return s.name }
func (s *stubGenerator) Model() string { return s.name + "-model" }

func (s *stubGenerator) Generate(context.Context, string, Generation) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestGemini_Generate(t *testing.T) {
	var gotKey, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		gotPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"  • Bone loss in mice  "}]}}]}`)
	}))
	defer srv.Close()

	g := NewGemini("g-key", "", srv.URL, srv.Client())
	out, err := g.Generate(context.Background(), "hello", Generation{MaxTokens: 64, Temperature: 0.5})
	require.NoError(t, err)

	assert.Equal(t, "• Bone loss in mice", out)
	assert.Equal(t, "g-key", gotKey)
	assert.Equal(t, "/models/gemini-1.5-pro:generateContent", gotPath)
	assert.Equal(t, float64(64), gotBody["generationConfig"].(map[string]any)["maxOutputTokens"])
}

func TestGemini_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGemini("k", "", srv.URL, srv.Client()).Generate(context.Background(), "x", Generation{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAI_Generate(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Model string `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotModel = body.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "c1", "object": "chat.completion", "model": "gpt-3.5-turbo",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Radiation study"}, "finish_reason": "stop"}]
		}`)
	}))
	defer srv.Close()

	o := NewOpenAI("o-key", "", srv.URL, srv.Client())
	out, err := o.Generate(context.Background(), "hello", Generation{MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "Radiation study", out)
	assert.Equal(t, "Bearer o-key", gotAuth)
	assert.Equal(t, DefaultOpenAIModel, gotModel)
}

func TestNew_ConfiguresFromKeys(t *testing.T) {
	s := New(Config{}, WithLogger(quiet()))
	assert.False(t, s.RemoteConfigured())

	s = New(Config{GeminiAPIKey: "a", OpenAIAPIKey: "b"}, WithLogger(quiet()))
	assert.True(t, s.GeminiConfigured())
	assert.True(t, s.OpenAIConfigured())
}

func TestSummarize_FallsThroughProviders(t *testing.T) {
	gemini := &stubGenerator{name: "gemini", err: errors.New("quota")}
	openai := &stubGenerator{name: "openai", reply: "• Plants grow in microgravity"}
	s := New(Config{}, WithLogger(quiet()), WithGenerators(gemini, openai))

	got := s.Summarize(context.Background(), "Plants in space.", 100)
	assert.Equal(t, "• Plants grow in microgravity", got.Summary)
	assert.Equal(t, "openai", got.Provider)
	assert.Equal(t, "openai-model", got.Model)
	assert.Equal(t, 1, gemini.calls)
}

func TestSummarize_Local(t *testing.T) {
	text := "Short one. " +
		"This experiment measured gene expression in cell cultures under microgravity. " +
		"The weather on launch day was mild and clear for everyone. " +
		"Protein analysis of the organism revealed biological stress markers. " +
		"Crew members reported the study hardware was easy to operate."
	s := New(Config{}, WithLogger(quiet()))

	got := s.Summarize(context.Background(), text, 0)
	assert.Equal(t, ProviderLocalSummary, got.Provider)
	assert.Equal(t, ModelLocalSummary, got.Model)

	lines := strings.Split(got.Summary, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "• This experiment measured gene expression in cell cultures under microgravity", lines[0])
	assert.Equal(t, "• Protein analysis of the organism revealed biological stress markers", lines[1])
	assert.Equal(t, "• Crew members reported the study hardware was easy to operate", lines[2])
}

func TestSummarize_LocalWithoutSentences(t *testing.T) {
	text := strings.Repeat("x", 450)
	got := New(Config{}, WithLogger(quiet())).Summarize(context.Background(), "tiny", 0)
	assert.Equal(t, "tiny", got.Summary)

	got = summarizeLocally(text)
	assert.Equal(t, strings.Repeat("x", 400)+"...", got.Summary)
}

func TestParseIntent_Remote(t *testing.T) {
	gemini := &stubGenerator{name: "gemini", reply: "Sure! ```json\n" +
		`{"query": "bone loss", "organisms": ["Mus musculus"], "missions": ["RR-1"], "tags": ["bone"]}` + "\n```"}
	s := New(Config{}, WithLogger(quiet()), WithGenerators(gemini))

	got := s.ParseIntent(context.Background(), "bone loss in mice on RR-1")
	assert.Equal(t, "bone loss", got.Query)
	assert.Equal(t, "bone loss in mice on RR-1", got.OriginalQuery)
	assert.Equal(t, []string{"Mus musculus"}, got.Organisms)
	assert.Equal(t, []string{"RR-1"}, got.Missions)
	assert.Equal(t, "gemini", got.Provider)
}

func TestParseIntent_BadJSONFallsBackLocally(t *testing.T) {
	gemini := &stubGenerator{name: "gemini", reply: "I cannot help with that"}
	s := New(Config{}, WithLogger(quiet()), WithGenerators(gemini))

	got := s.ParseIntent(context.Background(), "Mice and human muscle on ISS shuttle")
	assert.Equal(t, ProviderLocalIntent, got.Provider)
	assert.Equal(t, "Mice and human muscle on ISS shuttle", got.Query)
	assert.Equal(t, []string{"Homo sapiens", "Mus musculus"}, got.Organisms)
	assert.Equal(t, []string{"ISS", "SHUTTLE"}, got.Missions)
	assert.Equal(t, []string{"muscle"}, got.Tags)
}

func TestGenerateInsights(t *testing.T) {
	records := []Record{
		{Title: "A", Organism: "Mus musculus", Mission: "RR-1"},
		{Title: "B", Organism: "Arabidopsis thaliana", Mission: "RR-1"},
		{Title: "C", Organism: "Mus musculus", Mission: "SpaceX-12"},
	}

	t.Run("empty", func(t *testing.T) {
		got := New(Config{}, WithLogger(quiet())).GenerateInsights(context.Background(), nil)
		assert.Equal(t, ProviderNone, got.Provider)
		assert.Empty(t, got.Insights)
	})

	t.Run("gemini", func(t *testing.T) {
		gemini := &stubGenerator{name: "gemini", reply: "- Theme one\n\n- Theme two\n"}
		openai := &stubGenerator{name: "openai", reply: "unused"}
		got := New(Config{}, WithLogger(quiet()), WithGenerators(gemini, openai)).
			GenerateInsights(context.Background(), records)
		assert.Equal(t, []string{"- Theme one", "- Theme two"}, got.Insights)
		assert.Equal(t, "gemini", got.Provider)
		assert.Zero(t, openai.calls, "insights only consult gemini")
	})

	t.Run("local", func(t *testing.T) {
		gemini := &stubGenerator{name: "gemini", err: context.DeadlineExceeded}
		got := New(Config{Timeout: time.Second}, WithLogger(quiet()), WithGenerators(gemini)).
			GenerateInsights(context.Background(), records)
		assert.Equal(t, ProviderLocalInsights, got.Provider)
		assert.Equal(t, ModelLocalInsights, got.Model)
		assert.Equal(t, []string{
			"Most studied organism: Mus musculus (2 studies)",
			"Most data from mission: RR-1 (2 studies)",
			"Total datasets analyzed: 3",
		}, got.Insights)
	})
}
