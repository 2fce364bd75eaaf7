package cmd

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/koopa0/ragchat/internal/chat"
	"github.com/koopa0/ragchat/internal/config"
	"github.com/koopa0/ragchat/internal/llm"
	"github.com/koopa0/ragchat/internal/search"
	"github.com/koopa0/ragchat/internal/session"
	"github.com/koopa0/ragchat/internal/testutil"
)

// captureStdout runs fn while capturing everything written to stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	if err := w.Close(); err != nil {
		t.Fatalf("closing pipe: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading captured output: %v", err)
	}
	return string(data)
}

// Dispatch tests mutate os.Args, so they run serially.
func TestExecuteDispatch(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no args prints help", args: []string{"ragchat"}},
		{name: "help", args: []string{"ragchat", "help"}},
		{name: "help flag", args: []string{"ragchat", "--help"}},
		{name: "short help flag", args: []string{"ragchat", "-h"}},
		{name: "version", args: []string{"ragchat", "version"}},
		{name: "version flag", args: []string{"ragchat", "--version"}},
		{name: "unknown command", args: []string{"ragchat", "bogus"}, wantErr: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			var err error
			captureStdout(t, func() { err = Execute() })

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Execute() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Execute() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRunHelp(t *testing.T) {
	out := captureStdout(t, runHelp)

	for _, want := range []string{"serve", "chat", "ask", "mcp", "--render", "--direct", "RAGCHAT_LLM_TYPE"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestRunVersion(t *testing.T) {
	out := captureStdout(t, runVersion)

	if !strings.Contains(out, "ragchat v"+Version) {
		t.Errorf("version output missing %q, got %q", "ragchat v"+Version, out)
	}
	if !strings.Contains(out, BuildTime) || !strings.Contains(out, GitCommit) {
		t.Errorf("version output missing build metadata, got %q", out)
	}
}

func TestNewRuntime(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		RAG: config.RAGConfig{
			Enabled:                   true,
			LLMType:                   config.LLMTypeNone,
			Temperature:               0.2,
			MaxTokens:                 100,
			ContextMaxDocuments:       5,
			ContextMaxChars:           1000,
			EvaluationMaxRelevantDocs: 3,
			HistoryMaxMessages:        10,
			ContentFields:             "doc_id,title,url,content,content_description",
		},
		Search: config.SearchConfig{BaseURL: "http://localhost:8080"},
	}

	rt, err := newRuntime(cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("newRuntime() error: %v", err)
	}

	if rt.chat == nil || rt.registry == nil || rt.searcher == nil || rt.sessions == nil {
		t.Fatalf("newRuntime() left services unwired: %+v", rt)
	}
	if got := rt.registry.Name(); got != "none" {
		t.Errorf("registry.Name() = %q, want %q", got, "none")
	}
}

func TestPromptTemplates(t *testing.T) {
	t.Parallel()

	p := config.PromptsConfig{
		IntentDetection:  "a",
		Evaluation:       "b",
		Answer:           "c",
		FAQ:              "d",
		Summary:          "e",
		Unclear:          "f",
		NoResults:        "g",
		DocumentNotFound: "h",
	}
	want := llm.Templates{
		IntentDetection:  "a",
		Evaluation:       "b",
		Answer:           "c",
		FAQ:              "d",
		Summary:          "e",
		Unclear:          "f",
		NoResults:        "g",
		DocumentNotFound: "h",
	}

	if got := promptTemplates(p); got != want {
		t.Errorf("promptTemplates() = %+v, want %+v", got, want)
	}
}

func TestPrintSources(t *testing.T) {
	res := &chat.Result{
		Sources: []session.Source{
			{Index: 1, Document: search.Document{
				search.FieldTitle: "Guide",
				search.FieldURL:   "https://docs.example/guide",
			}},
			{Index: 2, Document: search.Document{
				search.FieldURL: "https://docs.example/untitled",
			}},
		},
	}

	out := captureStdout(t, func() { printSources(res) })

	if !strings.Contains(out, "[1] Guide (https://docs.example/guide)") {
		t.Errorf("missing titled source line, got %q", out)
	}
	if !strings.Contains(out, "[2] https://docs.example/untitled") {
		t.Errorf("missing url-only source line, got %q", out)
	}
}

func TestPrintSourcesEmpty(t *testing.T) {
	out := captureStdout(t, func() { printSources(&chat.Result{}) })
	if out != "" {
		t.Errorf("expected no output for a result without sources, got %q", out)
	}
}
