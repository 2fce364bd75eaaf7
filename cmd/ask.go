package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"

	"github.com/koopa0/ragchat/internal/chat"
	"github.com/koopa0/ragchat/internal/config"
	"github.com/koopa0/ragchat/internal/llm"
)

// askRenderWidth wraps rendered markdown output.
const askRenderWidth = 100

// runAsk answers a single question from the command line and exits.
//
// The answer streams to stdout as it is generated; phase progress goes to
// stderr so piping the answer stays clean. With --render the stream is
// collected and pretty-printed instead.
func runAsk() error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	render := fs.Bool("render", false, "render the answer as markdown")
	direct := fs.Bool("direct", false, "skip retrieval and ask the model directly")
	lang := fs.String("lang", "", "response language (BCP 47 tag)")

	var args []string
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing ask flags: %w", err)
	}

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: ragchat ask [--render] [--direct] [--lang tag] <question>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	req := chat.Request{Message: question, Language: *lang}

	var res *chat.Result
	if *direct {
		var fn llm.StreamFunc
		if !*render {
			fn = printChunk
		}
		res, err = rt.chat.DirectStream(ctx, req, fn)
	} else {
		cb := &chat.Callbacks{PhaseStart: printPhase}
		if !*render {
			cb.Chunk = printChunk
		}
		res, err = rt.chat.Chat(ctx, req, cb)
	}
	if err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}

	if *render {
		if err := renderAnswerMarkdown(res.Content); err != nil {
			// Renderer trouble must not eat the answer.
			fmt.Println(res.Content)
		}
	} else {
		fmt.Println()
	}

	printSources(res)
	return nil
}

// printChunk writes streamed answer text to stdout as it arrives.
func printChunk(chunk string, done bool) error {
	if !done {
		fmt.Print(chunk)
	}
	return nil
}

// printPhase reports pipeline progress on stderr.
func printPhase(_ chat.Phase, label, detail string) {
	if detail != "" {
		fmt.Fprintf(os.Stderr, "%s %s\n", label, detail)
		return
	}
	fmt.Fprintln(os.Stderr, label)
}

// renderAnswerMarkdown pretty-prints the answer with glamour.
func renderAnswerMarkdown(content string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(askRenderWidth),
	)
	if err != nil {
		return fmt.Errorf("creating renderer: %w", err)
	}
	out, err := r.Render(content)
	if err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}
	fmt.Print(out)
	return nil
}

// printSources lists the cited documents after the answer.
func printSources(res *chat.Result) {
	if len(res.Sources) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	for _, src := range res.Sources {
		title := src.Document.Title()
		url := src.Document.URL()
		switch {
		case title != "" && url != "":
			fmt.Printf("  [%d] %s (%s)\n", src.Index, title, url)
		case url != "":
			fmt.Printf("  [%d] %s\n", src.Index, url)
		default:
			fmt.Printf("  [%d] %s\n", src.Index, title)
		}
	}
}
