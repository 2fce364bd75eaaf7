package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/koopa0/ragchat/internal/llm"
	"github.com/koopa0/ragchat/internal/search"
	"github.com/koopa0/ragchat/internal/session"
	"github.com/koopa0/ragchat/internal/testutil"
)

// scriptedDriver replays canned classifier replies and a canned answer
// stream, recording every request it sees.
type scriptedDriver struct {
	mu        sync.Mutex
	replies   []string
	chunks    []string
	chatErr   error
	streamErr error
	requests  []llm.ChatRequest
	streams   []llm.ChatRequest
}

func (d *scriptedDriver) Name() string { return "scripted" }

func (d *scriptedDriver) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if d.chatErr != nil {
		return nil, d.chatErr
	}
	if len(d.replies) == 0 {
		return &llm.ChatResponse{}, nil
	}
	reply := d.replies[0]
	d.replies = d.replies[1:]
	return &llm.ChatResponse{Content: reply}, nil
}

func (d *scriptedDriver) ChatStream(_ context.Context, req llm.ChatRequest, fn llm.StreamFunc) error {
	d.mu.Lock()
	d.streams = append(d.streams, req)
	chunks := d.chunks
	streamErr := d.streamErr
	d.mu.Unlock()

	if streamErr != nil {
		return streamErr
	}
	for _, c := range chunks {
		if err := fn(c, false); err != nil {
			return err
		}
	}
	return fn("", true)
}

func (d *scriptedDriver) CheckAvailability(context.Context) bool { return true }

// fakeSearcher serves canned hits and fetched documents, recording calls.
type fakeSearcher struct {
	hits      []search.Document
	docs      []search.Document
	searchErr error
	fetchErr  error

	queries    []string
	maxDocs    []int
	fetchedIDs [][]string
	fields     [][]string
}

func (f *fakeSearcher) Search(_ context.Context, query string, maxDocs int) ([]search.Document, error) {
	f.queries = append(f.queries, query)
	f.maxDocs = append(f.maxDocs, maxDocs)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *fakeSearcher) FetchByIDs(_ context.Context, docIDs, fields []string) ([]search.Document, error) {
	f.fetchedIDs = append(f.fetchedIDs, docIDs)
	f.fields = append(f.fields, fields)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.docs, nil
}

// fakeFetcher is the web content fallback double.
type fakeFetcher struct {
	enabled bool
	text    string
	err     error
	urls    []string
}

func (f *fakeFetcher) Enabled() bool { return f.enabled }

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// recorder captures the callback event stream for ordering assertions.
// Events are rendered as "start:<phase>", "complete:<phase>", "chunk",
// "done" and "error:<phase>".
type recorder struct {
	events   []string
	starts   map[Phase][2]string // phase -> {label, detail}
	chunks   []string
	dones    int
	errors   []string
	chunkErr error
}

func newRecorder() *recorder {
	return &recorder{starts: make(map[Phase][2]string)}
}

func (r *recorder) OnPhaseStart(phase Phase, label, detail string) {
	r.events = append(r.events, "start:"+string(phase))
	r.starts[phase] = [2]string{label, detail}
}

func (r *recorder) OnPhaseComplete(phase Phase) {
	r.events = append(r.events, "complete:"+string(phase))
}

func (r *recorder) OnChunk(chunk string, done bool) error {
	if done {
		r.events = append(r.events, "done")
		r.dones++
	} else {
		r.events = append(r.events, "chunk")
		r.chunks = append(r.chunks, chunk)
	}
	return r.chunkErr
}

func (r *recorder) OnError(phase Phase, message string) {
	r.events = append(r.events, "error:"+string(phase))
	r.errors = append(r.errors, message)
}

type testEnv struct {
	driver   *scriptedDriver
	searcher *fakeSearcher
	store    *session.Store
	svc      *Service
}

func newTestEnv(t *testing.T, driver *scriptedDriver, searcher *fakeSearcher, mutate ...func(*Config)) *testEnv {
	t.Helper()

	logger := testutil.DiscardLogger()
	facade, err := llm.New(llm.Config{Driver: driver, Logger: logger})
	require.NoError(t, err)

	store := session.New(session.Config{Logger: logger})
	cfg := Config{
		LLM:      facade,
		Searcher: searcher,
		Sessions: store,
		Logger:   logger,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	svc, err := New(cfg)
	require.NoError(t, err)
	return &testEnv{driver: driver, searcher: searcher, store: store, svc: svc}
}

func doc(id, title, url, content, description string) search.Document {
	return search.Document{
		search.FieldDocID:              id,
		search.FieldTitle:              title,
		search.FieldURL:                url,
		search.FieldContent:            content,
		search.FieldContentDescription: description,
	}
}

func TestChatSearchPipeline(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{
			`{"intent":"search","query":"+Fess +Docker"}`,
			`{"has_relevant":true,"relevant_indexes":[1,3]}`,
		},
		chunks: []string{"Install ", "Fess. "},
	}
	searcher := &fakeSearcher{
		hits: []search.Document{
			doc("a", "Install guide", "https://docs/install", "", "Install Fess with Docker"),
			doc("b", "Release notes", "https://docs/notes", "", "Version history"),
			doc("c", "Docker compose", "https://docs/compose", "", "Compose file reference"),
		},
		docs: []search.Document{
			doc("a", "Install guide", "https://docs/install", "Full install text", ""),
			doc("c", "Docker compose", "https://docs/compose", "Full compose text", ""),
		},
	}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	res, err := env.svc.Chat(context.Background(), Request{Message: "How to install Fess on Docker"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:intent", "complete:intent",
		"start:search", "complete:search",
		"start:evaluate", "complete:evaluate",
		"start:fetch", "complete:fetch",
		"start:answer", "chunk", "chunk", "done", "complete:answer",
	}, rec.events)
	assert.Equal(t, 1, rec.dones)
	assert.Empty(t, rec.errors)
	assert.Equal(t, [2]string{"Analyzing your question...", ""}, rec.starts[PhaseIntent])
	assert.Equal(t, [2]string{"Searching documents...", "+Fess +Docker"}, rec.starts[PhaseSearch])
	assert.Equal(t, [2]string{"Generating response...", ""}, rec.starts[PhaseAnswer])

	assert.Equal(t, "Install Fess. ", res.Content)
	assert.Contains(t, res.HTML, "Install Fess.")
	require.Len(t, res.Sources, 2)
	assert.Equal(t, 1, res.Sources[0].Index)
	assert.Equal(t, "a", res.Sources[0].Document.DocID())
	assert.Equal(t, 2, res.Sources[1].Index)
	assert.Equal(t, "c", res.Sources[1].Document.DocID())

	// The search used the classifier's query; the fetch used the
	// evaluator's doc ids and the configured content fields.
	assert.Equal(t, []string{"+Fess +Docker"}, searcher.queries)
	assert.Equal(t, []int{5}, searcher.maxDocs)
	require.Equal(t, [][]string{{"a", "c"}}, searcher.fetchedIDs)
	assert.Contains(t, searcher.fields[0], search.FieldContent)

	sess, ok := env.store.Get(res.SessionID)
	require.True(t, ok)
	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, session.RoleUser, msgs[0].Role)
	assert.Equal(t, "How to install Fess on Docker", msgs[0].Content)
	assert.Equal(t, session.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Install Fess. ", msgs[1].Content)
	assert.NotEmpty(t, msgs[1].HTMLContent)
	assert.Len(t, msgs[1].Sources, 2)
}

func TestChatUnclearSkipsRetrieval(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{`{"intent":"unclear","reasoning":"greeting"}`},
		chunks:  []string{"Could you tell me what you are looking for?"},
	}
	searcher := &fakeSearcher{}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	res, err := env.svc.Chat(context.Background(), Request{Message: "hello"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:intent", "complete:intent",
		"start:answer", "chunk", "done", "complete:answer",
	}, rec.events)
	assert.Empty(t, searcher.queries)
	assert.Empty(t, res.Sources)
	assert.Equal(t, "Could you tell me what you are looking for?", res.Content)
	assert.Equal(t, [2]string{"Generating response...", ""}, rec.starts[PhaseAnswer])
}

func TestChatSummaryFound(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{`{"intent":"summary","url":"https://x/y"}`},
		chunks:  []string{"A summary."},
	}
	searcher := &fakeSearcher{
		hits: []search.Document{doc("d1", "Doc", "https://x/y", "", "excerpt")},
		docs: []search.Document{doc("d1", "Doc", "https://x/y", "Full body", "")},
	}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	res, err := env.svc.Chat(context.Background(), Request{Message: "Summarize https://x/y"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:intent", "complete:intent",
		"start:search", "complete:search",
		"start:fetch", "complete:fetch",
		"start:answer", "chunk", "done", "complete:answer",
	}, rec.events)
	assert.Equal(t, [2]string{"Searching for document...", "https://x/y"}, rec.starts[PhaseSearch])
	assert.Equal(t, [2]string{"Generating summary...", ""}, rec.starts[PhaseAnswer])

	assert.Equal(t, []string{`url:"https://x/y"`}, searcher.queries)
	require.Equal(t, [][]string{{"d1"}}, searcher.fetchedIDs)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "d1", res.Sources[0].Document.DocID())

	// The summary prompt carries the fetched document body.
	require.Len(t, driver.streams, 1)
	system := driver.streams[0].Messages[0]
	assert.Equal(t, llm.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "Full body")
	assert.Contains(t, system.Content, "Base your summary ONLY")
}

func TestChatSummaryMissing(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{`{"intent":"summary","url":"https://x/y"}`},
		chunks:  []string{"That document is not indexed."},
	}
	searcher := &fakeSearcher{}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	res, err := env.svc.Chat(context.Background(), Request{Message: "Summarize https://x/y"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:intent", "complete:intent",
		"start:search", "complete:search",
		"start:answer", "chunk", "done", "complete:answer",
	}, rec.events)
	assert.Empty(t, searcher.fetchedIDs)
	assert.Empty(t, res.Sources)
	assert.Equal(t, [2]string{"Generating response...", ""}, rec.starts[PhaseAnswer])

	require.Len(t, driver.streams, 1)
	assert.Contains(t, driver.streams[0].Messages[0].Content, "URL searched: https://x/y")
}

func TestChatNoSearchResults(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{`{"intent":"search","query":"quantum gravity"}`},
		chunks:  []string{"No documents matched your query."},
	}
	searcher := &fakeSearcher{}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	res, err := env.svc.Chat(context.Background(), Request{Message: "quantum gravity docs"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:intent", "complete:intent",
		"start:search", "complete:search",
		"start:answer", "chunk", "done", "complete:answer",
	}, rec.events)
	// The evaluator never ran: only the intent classification hit the backend.
	assert.Len(t, driver.requests, 1)
	assert.Empty(t, res.Sources)

	require.Len(t, driver.streams, 1)
	assert.Contains(t, driver.streams[0].Messages[0].Content, "returned no results")
}

func TestChatMalformedClassifierFallsBackToSearch(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{
			"I cannot",
			`{"has_relevant":true,"relevant_indexes":[1]}`,
		},
		chunks: []string{"Answer."},
	}
	searcher := &fakeSearcher{
		hits: []search.Document{doc("a", "Doc", "https://d", "", "excerpt")},
		docs: []search.Document{doc("a", "Doc", "https://d", "Body", "")},
	}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	res, err := env.svc.Chat(context.Background(), Request{Message: "How to configure crawling"}, rec)
	require.NoError(t, err)

	// The unusable classifier output degraded to a search on the raw message.
	assert.Equal(t, []string{"How to configure crawling"}, searcher.queries)
	assert.Equal(t, "Answer.", res.Content)
	assert.Empty(t, rec.errors)
	assert.Equal(t, 1, rec.dones)
}

func TestChatNoRelevantResults(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{
			`{"intent":"search","query":"fess"}`,
			`{"has_relevant":false}`,
		},
		chunks: []string{"Nothing relevant found."},
	}
	searcher := &fakeSearcher{
		hits: []search.Document{doc("a", "Doc", "https://d", "", "excerpt")},
	}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	_, err := env.svc.Chat(context.Background(), Request{Message: "tell me about fess"}, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"start:intent", "complete:intent",
		"start:search", "complete:search",
		"start:evaluate", "complete:evaluate",
		"start:answer", "chunk", "done", "complete:answer",
	}, rec.events)
	assert.Empty(t, searcher.fetchedIDs)
	require.Len(t, driver.streams, 1)
	assert.Contains(t, driver.streams[0].Messages[0].Content, "returned no results")
}

func TestChatFAQUsesFAQTemplate(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{
			`{"intent":"faq","query":"default admin password"}`,
			`{"has_relevant":true,"relevant_indexes":[1]}`,
		},
		chunks: []string{"The default password is documented in [1]."},
	}
	searcher := &fakeSearcher{
		hits: []search.Document{doc("a", "Admin guide", "https://d", "", "excerpt")},
		docs: []search.Document{doc("a", "Admin guide", "https://d", "Body", "")},
	}
	env := newTestEnv(t, driver, searcher)

	_, err := env.svc.Chat(context.Background(), Request{Message: "what is the default admin password"}, newRecorder())
	require.NoError(t, err)

	require.Len(t, driver.streams, 1)
	assert.Contains(t, driver.streams[0].Messages[0].Content, "direct, concise answer")
}

func TestChatAnswerErrorReportedOnce(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{
			`{"intent":"search","query":"fess"}`,
			`{"has_relevant":true,"relevant_indexes":[1]}`,
		},
		streamErr: errors.New("backend exploded"),
	}
	searcher := &fakeSearcher{
		hits: []search.Document{doc("a", "Doc", "https://d", "", "excerpt")},
		docs: []search.Document{doc("a", "Doc", "https://d", "Body", "")},
	}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	res, err := env.svc.Chat(context.Background(), Request{Message: "tell me about fess"}, rec)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "backend exploded")

	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "backend exploded")
	assert.Equal(t, "error:answer", rec.events[len(rec.events)-1])
	assert.Zero(t, rec.dones)

	// Session created but never mutated.
	sessions := env.store.List()
	require.Len(t, sessions, 1)
	assert.Zero(t, sessions[0].Len())
}

func TestChatSearchErrorReportedOnce(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{`{"intent":"search","query":"fess"}`},
	}
	searcher := &fakeSearcher{searchErr: errors.New("index down")}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	_, err := env.svc.Chat(context.Background(), Request{Message: "tell me about fess"}, rec)
	require.Error(t, err)
	assert.ErrorContains(t, err, "index down")

	assert.Equal(t, []string{
		"start:intent", "complete:intent",
		"start:search", "error:search",
	}, rec.events)
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "searching documents")
}

func TestChatIntentErrorReportedOnce(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{chatErr: errors.New("connection refused")}
	env := newTestEnv(t, driver, &fakeSearcher{})
	rec := newRecorder()

	_, err := env.svc.Chat(context.Background(), Request{Message: "hello"}, rec)
	require.Error(t, err)
	assert.ErrorContains(t, err, "detecting intent")
	assert.Equal(t, []string{"start:intent", "error:intent"}, rec.events)
}

func TestChatFetchErrorReportedOnce(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{
			`{"intent":"search","query":"fess"}`,
			`{"has_relevant":true,"relevant_indexes":[1]}`,
		},
	}
	searcher := &fakeSearcher{
		hits:     []search.Document{doc("a", "Doc", "https://d", "", "excerpt")},
		fetchErr: errors.New("fetch blew up"),
	}
	env := newTestEnv(t, driver, searcher)
	rec := newRecorder()

	_, err := env.svc.Chat(context.Background(), Request{Message: "tell me about fess"}, rec)
	require.Error(t, err)
	assert.Equal(t, "error:fetch", rec.events[len(rec.events)-1])
	require.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "fetching documents")
}

func TestChatChunkErrorAbortsStream(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{`{"intent":"unclear"}`},
		chunks:  []string{"first", "second"},
	}
	env := newTestEnv(t, driver, &fakeSearcher{})
	rec := newRecorder()
	rec.chunkErr = errors.New("client gone")

	_, err := env.svc.Chat(context.Background(), Request{Message: "hello"}, rec)
	require.Error(t, err)
	assert.ErrorContains(t, err, "client gone")

	// The stream stopped after the first rejected chunk.
	assert.Equal(t, []string{"first"}, rec.chunks)
	assert.Zero(t, rec.dones)

	sessions := env.store.List()
	require.Len(t, sessions, 1)
	assert.Zero(t, sessions[0].Len())
}

func TestChatEmptyMessageRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &scriptedDriver{}, &fakeSearcher{})

	_, err := env.svc.Chat(context.Background(), Request{Message: "   "}, newRecorder())
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestChatEmptyResponseFallback(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{`{"intent":"unclear"}`},
		// No chunks: the stream delivers only the terminal marker.
	}
	env := newTestEnv(t, driver, &fakeSearcher{})

	res, err := env.svc.Chat(context.Background(), Request{Message: "hello"}, newRecorder())
	require.NoError(t, err)
	assert.Equal(t, fallbackResponse, res.Content)
}

func TestChatAppliesHistoryLimit(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{
			`{"intent":"unclear"}`,
			`{"intent":"unclear"}`,
			`{"intent":"unclear"}`,
		},
		chunks: []string{"Hi"},
	}
	env := newTestEnv(t, driver, &fakeSearcher{}, func(cfg *Config) {
		cfg.HistoryMaxMessages = 4
	})

	ctx := context.Background()
	res, err := env.svc.Chat(ctx, Request{Message: "one"}, nil)
	require.NoError(t, err)
	sess, ok := env.store.Get(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, 2, sess.Len())

	_, err = env.svc.Chat(ctx, Request{SessionID: res.SessionID, Message: "two"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, sess.Len())

	_, err = env.svc.Chat(ctx, Request{SessionID: res.SessionID, Message: "three"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, sess.Len())

	// The prior exchange flowed into the second request as history.
	require.Len(t, driver.streams, 3)
	assert.Len(t, driver.streams[1].Messages, 4) // system + 2 history + user
	assert.Len(t, driver.streams[2].Messages, 6) // system + 4 history + user
}

func TestChatUnknownSessionIDNotAdopted(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{`{"intent":"unclear"}`},
		chunks:  []string{"Hi"},
	}
	env := newTestEnv(t, driver, &fakeSearcher{})

	res, err := env.svc.Chat(context.Background(), Request{SessionID: "made-up-id", Message: "hello"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, "made-up-id", res.SessionID)

	_, ok := env.store.Get("made-up-id")
	assert.False(t, ok)
}

func TestChatWebContentFallback(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{
			`{"intent":"search","query":"fess"}`,
			`{"has_relevant":true,"relevant_indexes":[1]}`,
		},
		chunks: []string{"Answer."},
	}
	searcher := &fakeSearcher{
		hits: []search.Document{doc("a", "Doc", "https://d/page", "", "excerpt")},
		docs: []search.Document{doc("a", "Doc", "https://d/page", "", "excerpt")},
	}
	fetcher := &fakeFetcher{enabled: true, text: "Rendered page text"}
	env := newTestEnv(t, driver, searcher, func(cfg *Config) {
		cfg.Fetcher = fetcher
	})

	_, err := env.svc.Chat(context.Background(), Request{Message: "tell me about fess"}, newRecorder())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://d/page"}, fetcher.urls)
	require.Len(t, driver.streams, 1)
	assert.Contains(t, driver.streams[0].Messages[0].Content, "Rendered page text")
}

func TestChatWebContentFallbackFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		replies: []string{
			`{"intent":"search","query":"fess"}`,
			`{"has_relevant":true,"relevant_indexes":[1]}`,
		},
		chunks: []string{"Answer."},
	}
	searcher := &fakeSearcher{
		hits: []search.Document{doc("a", "Doc", "https://d/page", "", "excerpt")},
		docs: []search.Document{doc("a", "Doc", "https://d/page", "", "excerpt")},
	}
	fetcher := &fakeFetcher{enabled: true, err: errors.New("site down")}
	env := newTestEnv(t, driver, searcher, func(cfg *Config) {
		cfg.Fetcher = fetcher
	})
	rec := newRecorder()

	res, err := env.svc.Chat(context.Background(), Request{Message: "tell me about fess"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "Answer.", res.Content)
	assert.Empty(t, rec.errors)
}

func TestChatRateLimiterRejection(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, &scriptedDriver{}, &fakeSearcher{}, func(cfg *Config) {
		cfg.RateLimiter = rate.NewLimiter(0, 0)
	})
	rec := newRecorder()

	_, err := env.svc.Chat(context.Background(), Request{Message: "hello"}, rec)
	require.Error(t, err)
	assert.Empty(t, rec.events)
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{replies: []string{"The answer is [1]."}}
	searcher := &fakeSearcher{
		hits: []search.Document{doc("a", "Doc", "https://d", "", "excerpt")},
		docs: []search.Document{doc("a", "Doc", "https://d", "Body", "")},
	}
	env := newTestEnv(t, driver, searcher)

	res, err := env.svc.Generate(context.Background(), Request{Message: "tell me about fess"})
	require.NoError(t, err)

	assert.Equal(t, "The answer is [1].", res.Content)
	assert.Equal(t, []string{"tell me about fess"}, searcher.queries)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "a", res.Sources[0].Document.DocID())

	sess, ok := env.store.Get(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, 2, sess.Len())
}

func TestDirectStream(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{chunks: []string{"Hello ", "world"}}
	searcher := &fakeSearcher{}
	env := newTestEnv(t, driver, searcher)

	var got strings.Builder
	var dones int
	res, err := env.svc.DirectStream(context.Background(), Request{Message: "hi"}, func(chunk string, done bool) error {
		got.WriteString(chunk)
		if done {
			dones++
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello world", res.Content)
	assert.Equal(t, "Hello world", got.String())
	assert.Equal(t, 1, dones)
	assert.Empty(t, searcher.queries)

	sess, ok := env.store.Get(res.SessionID)
	require.True(t, ok)
	assert.Equal(t, 2, sess.Len())
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	logger := testutil.DiscardLogger()
	facade, err := llm.New(llm.Config{Driver: &scriptedDriver{}, Logger: logger})
	require.NoError(t, err)
	store := session.New(session.Config{Logger: logger})

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing llm",
			cfg:     Config{Searcher: &fakeSearcher{}, Sessions: store},
			wantErr: "llm service is required",
		},
		{
			name:    "missing searcher",
			cfg:     Config{LLM: facade, Sessions: store},
			wantErr: "searcher is required",
		},
		{
			name:    "missing sessions",
			cfg:     Config{LLM: facade, Searcher: &fakeSearcher{}},
			wantErr: "session store is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestAccumulatorFinishIsIdempotent(t *testing.T) {
	t.Parallel()

	var acc accumulator
	var dones int
	fn := acc.sink(func(_ string, done bool) error {
		if done {
			dones++
		}
		return nil
	})

	require.NoError(t, fn("text", false))
	require.NoError(t, fn("", true))

	// The stream already delivered its terminal chunk; finish must not
	// produce a second one.
	require.NoError(t, acc.finish(func(_ string, done bool) error {
		if done {
			dones++
		}
		return nil
	}))
	assert.Equal(t, 1, dones)
	assert.Equal(t, "text", acc.String())
}
