package rag

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/docsrag/docsrag/internal/log"
	"github.com/docsrag/docsrag/internal/provider"
	"github.com/docsrag/docsrag/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeEmbedder returns a fixed vector per text and can fail per call.
type fakeEmbedder struct {
	calls int
	errs  []error // errs[i] returned on call i; nil or exhausted means success
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	call := f.calls
	f.calls++
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

// fakeIndex is an in-memory Index that records calls.
type fakeIndex struct {
	count     int
	matches   []store.Match
	lastLimit int
	replaced  []store.Row
}

func (f *fakeIndex) Count(context.Context) (int, error) { return f.count, nil }

func (f *fakeIndex) Query(_ context.Context, _ []float32, limit int) ([]store.Match, error) {
	f.lastLimit = limit
	if limit > len(f.matches) {
		limit = len(f.matches)
	}
	return f.matches[:limit], nil
}

func (f *fakeIndex) Replace(_ context.Context, rows []store.Row) error {
	f.replaced = rows
	f.count = len(rows)
	return nil
}

// fakeCompleter records messages and can fail the first N calls.
type fakeCompleter struct {
	calls    int
	errs     []error
	response string
	tokens   []string
	midErr   error // returned by Recv after tokens are exhausted, instead of EOF
	lastMsgs []provider.Message
}

func (f *fakeCompleter) next(messages []provider.Message) error {
	call := f.calls
	f.calls++
	f.lastMsgs = messages
	if call < len(f.errs) && f.errs[call] != nil {
		return f.errs[call]
	}
	return nil
}

func (f *fakeCompleter) Complete(_ context.Context, messages []provider.Message) (string, error) {
	if err := f.next(messages); err != nil {
		return "", err
	}
	return f.response, nil
}

func (f *fakeCompleter) CompleteStream(_ context.Context, messages []provider.Message) (TokenStream, error) {
	if err := f.next(messages); err != nil {
		return nil, err
	}
	return &fakeStream{tokens: f.tokens, midErr: f.midErr}, nil
}

type fakeStream struct {
	tokens []string
	midErr error
	pos    int
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.pos < len(s.tokens) {
		tok := s.tokens[s.pos]
		s.pos++
		return tok, nil
	}
	if s.midErr != nil {
		return "", s.midErr
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func transientErr(kind provider.Kind) error {
	return &provider.Error{Kind: kind, Status: 429, Message: "slow down"}
}

func fatalErr() error {
	return &provider.Error{Kind: provider.KindFatal, Status: 401, Message: "bad key"}
}

func indexWithMatches(matches ...store.Match) *fakeIndex {
	return &fakeIndex{count: len(matches), matches: matches}
}

func newTestService(e Embedder, c Completer, idx Index) *Service {
	return New(e, c, idx, RetryConfig{MaxAttempts: 3, BaseDelay: time.Microsecond}, log.NewNop())
}

func sampleMatches() []store.Match {
	return []store.Match{
		{ID: "a.md::chunk0", Source: "a.md", Section: "Intro", ChunkIndex: 0, Content: "alpha text", Distance: 0.1},
		{ID: "b.md::chunk1", Source: "b.md", Section: "Usage", ChunkIndex: 1, Content: "beta text", Distance: 0.3},
		{ID: "a.md::chunk2", Source: "a.md", Section: "More", ChunkIndex: 2, Content: "gamma text", Distance: 0.5},
	}
}

func TestRetrieve_InvalidTopK(t *testing.T) {
	svc := newTestService(&fakeEmbedder{}, &fakeCompleter{}, indexWithMatches(sampleMatches()...))

	for _, topK := range []int{0, -1, MaxTopK + 1} {
		if _, err := svc.Retrieve(context.Background(), "q", topK); !errors.Is(err, ErrInvalidTopK) {
			t.Errorf("Retrieve(topK=%d) = %v, want ErrInvalidTopK", topK, err)
		}
	}
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	svc := newTestService(&fakeEmbedder{}, &fakeCompleter{}, &fakeIndex{count: 0})

	if _, err := svc.Retrieve(context.Background(), "q", DefaultTopK); !errors.Is(err, ErrIndexEmpty) {
		t.Fatalf("Retrieve() = %v, want ErrIndexEmpty", err)
	}
}

func TestRetrieve_CapsTopKAtIndexSize(t *testing.T) {
	idx := indexWithMatches(sampleMatches()[:2]...)
	svc := newTestService(&fakeEmbedder{}, &fakeCompleter{}, idx)

	results, err := svc.Retrieve(context.Background(), "q", 20)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if idx.lastLimit != 2 {
		t.Errorf("query limit = %d, want capped to 2", idx.lastLimit)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestRetrieve_ScoresAndOrder(t *testing.T) {
	svc := newTestService(&fakeEmbedder{}, &fakeCompleter{}, indexWithMatches(sampleMatches()...))

	results, err := svc.Retrieve(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}

	wantScores := []float64{0.9, 0.7, 0.5}
	for i, want := range wantScores {
		if results[i].Score != want {
			t.Errorf("results[%d].Score = %v, want %v", i, results[i].Score, want)
		}
	}
	if results[0].ID != "a.md::chunk0" || results[0].Section != "Intro" {
		t.Errorf("results[0] = %+v", results[0])
	}
}

func TestRetrieve_RoundsScoreToFourPlaces(t *testing.T) {
	idx := indexWithMatches(store.Match{ID: "x.md::chunk0", Source: "x.md", Content: "x", Distance: 0.1234567})
	svc := newTestService(&fakeEmbedder{}, &fakeCompleter{}, idx)

	results, err := svc.Retrieve(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if results[0].Score != 0.8765 {
		t.Errorf("Score = %v, want 0.8765", results[0].Score)
	}
}

func TestAnswer_GroundedPrompt(t *testing.T) {
	completer := &fakeCompleter{response: "the answer"}
	svc := newTestService(&fakeEmbedder{}, completer, indexWithMatches(sampleMatches()...))

	ans, err := svc.Answer(context.Background(), "how do I use it?", 3)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}

	if ans.Answer != "the answer" {
		t.Errorf("Answer = %q", ans.Answer)
	}

	// Sources: distinct, first-seen order.
	if len(ans.Sources) != 2 || ans.Sources[0] != "a.md" || ans.Sources[1] != "b.md" {
		t.Errorf("Sources = %v, want [a.md b.md]", ans.Sources)
	}

	if len(completer.lastMsgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(completer.lastMsgs))
	}
	system := completer.lastMsgs[0]
	user := completer.lastMsgs[1]

	if system.Role != "system" {
		t.Errorf("first message role = %q", system.Role)
	}
	if !strings.Contains(system.Content, "[Source: a.md]\nalpha text") {
		t.Errorf("system prompt missing grounded block:\n%s", system.Content)
	}
	if !strings.Contains(system.Content, "[Source: a.md]\nalpha text"+contextSeparator+"[Source: b.md]\nbeta text") {
		t.Errorf("context blocks not separated correctly:\n%s", system.Content)
	}
	if !strings.Contains(system.Content, "I don't know based on the available documentation.") {
		t.Error("system prompt missing fallback instruction")
	}

	if user.Role != "user" || user.Content != "how do I use it?" {
		t.Errorf("user message = %+v", user)
	}
}

func TestAnswer_RetriesTransientOnce(t *testing.T) {
	completer := &fakeCompleter{
		errs:     []error{transientErr(provider.KindRateLimited)},
		response: "recovered",
	}
	svc := newTestService(&fakeEmbedder{}, completer, indexWithMatches(sampleMatches()...))

	ans, err := svc.Answer(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if ans.Answer != "recovered" {
		t.Errorf("Answer = %q", ans.Answer)
	}
	if completer.calls != 2 {
		t.Errorf("completer calls = %d, want exactly 2 (one failure, one success)", completer.calls)
	}
}

func TestAnswer_MalformedResponseNotRetried(t *testing.T) {
	// Shape and decode failures are deterministic; burning the backoff
	// budget on them only delays the caller's 503.
	otherErr := &provider.Error{Kind: provider.KindOther, Message: "no choices in response"}
	completer := &fakeCompleter{errs: []error{otherErr, otherErr, otherErr}}
	svc := newTestService(&fakeEmbedder{}, completer, indexWithMatches(sampleMatches()...))

	if _, err := svc.Answer(context.Background(), "q", 1); err == nil {
		t.Fatal("expected error")
	}
	if completer.calls != 1 {
		t.Errorf("completer calls = %d, want 1 (no retry on malformed response)", completer.calls)
	}
}

func TestAnswer_FatalNotRetried(t *testing.T) {
	completer := &fakeCompleter{errs: []error{fatalErr(), fatalErr(), fatalErr()}}
	svc := newTestService(&fakeEmbedder{}, completer, indexWithMatches(sampleMatches()...))

	if _, err := svc.Answer(context.Background(), "q", 1); err == nil {
		t.Fatal("expected error")
	}
	if completer.calls != 1 {
		t.Errorf("completer calls = %d, want 1 (no retry on fatal)", completer.calls)
	}
}

func TestAnswer_RetryBudgetExhausted(t *testing.T) {
	completer := &fakeCompleter{
		errs: []error{
			transientErr(provider.KindServerError),
			transientErr(provider.KindServerError),
			transientErr(provider.KindServerError),
		},
	}
	svc := newTestService(&fakeEmbedder{}, completer, indexWithMatches(sampleMatches()...))

	_, err := svc.Answer(context.Background(), "q", 1)
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want wrapped provider error", err)
	}
	if completer.calls != 3 {
		t.Errorf("completer calls = %d, want 3 (full budget)", completer.calls)
	}
}

func TestRetrieve_RetriesEmbedding(t *testing.T) {
	embedder := &fakeEmbedder{errs: []error{transientErr(provider.KindTimeout)}}
	svc := newTestService(embedder, &fakeCompleter{}, indexWithMatches(sampleMatches()...))

	if _, err := svc.Retrieve(context.Background(), "q", 1); err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if embedder.calls != 2 {
		t.Errorf("embedder calls = %d, want 2", embedder.calls)
	}
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestStream_EventOrder(t *testing.T) {
	completer := &fakeCompleter{tokens: []string{"Hello", " ", "world"}}
	svc := newTestService(&fakeEmbedder{}, completer, indexWithMatches(sampleMatches()...))

	events, err := svc.Stream(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	got := collectEvents(t, events)

	if len(got) != 5 {
		t.Fatalf("got %d events, want 5 (metadata, 3 tokens, done): %+v", len(got), got)
	}
	if got[0].Type != EventMetadata {
		t.Errorf("events[0].Type = %q, want metadata", got[0].Type)
	}
	if len(got[0].Sources) != 2 || len(got[0].Chunks) != 3 {
		t.Errorf("metadata = %+v", got[0])
	}
	var text strings.Builder
	for i := 1; i <= 3; i++ {
		if got[i].Type != EventToken {
			t.Errorf("events[%d].Type = %q, want token", i, got[i].Type)
		}
		text.WriteString(got[i].Token)
	}
	if text.String() != "Hello world" {
		t.Errorf("assembled tokens = %q", text.String())
	}
	if got[4].Type != EventDone {
		t.Errorf("events[4].Type = %q, want done", got[4].Type)
	}
}

func TestStream_EmptyIndex(t *testing.T) {
	svc := newTestService(&fakeEmbedder{}, &fakeCompleter{}, &fakeIndex{count: 0})

	events, err := svc.Stream(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	got := collectEvents(t, events)

	if len(got) != 1 || got[0].Type != EventError {
		t.Fatalf("events = %+v, want single error event", got)
	}
	if !strings.Contains(got[0].Message, "No documents ingested yet") {
		t.Errorf("Message = %q", got[0].Message)
	}
}

func TestStream_MidStreamError(t *testing.T) {
	completer := &fakeCompleter{
		tokens: []string{"partial"},
		midErr: transientErr(provider.KindConnectionFailed),
	}
	svc := newTestService(&fakeEmbedder{}, completer, indexWithMatches(sampleMatches()...))

	events, err := svc.Stream(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	got := collectEvents(t, events)

	last := got[len(got)-1]
	if last.Type != EventError {
		t.Fatalf("last event = %+v, want error", last)
	}
	// Exactly one terminal event: no done after the error.
	var terminals int
	for _, ev := range got {
		if ev.Type == EventDone || ev.Type == EventError {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want 1", terminals)
	}
	// The partial token was delivered before the break.
	if got[1].Type != EventToken || got[1].Token != "partial" {
		t.Errorf("events[1] = %+v, want partial token", got[1])
	}
}

func TestStream_RetriesStreamStart(t *testing.T) {
	completer := &fakeCompleter{
		errs:   []error{transientErr(provider.KindRateLimited)},
		tokens: []string{"ok"},
	}
	svc := newTestService(&fakeEmbedder{}, completer, indexWithMatches(sampleMatches()...))

	events, err := svc.Stream(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	got := collectEvents(t, events)

	if got[len(got)-1].Type != EventDone {
		t.Fatalf("stream should recover after transient start failure: %+v", got)
	}
	if completer.calls != 2 {
		t.Errorf("completer calls = %d, want 2", completer.calls)
	}
}

func TestStream_InvalidTopK(t *testing.T) {
	svc := newTestService(&fakeEmbedder{}, &fakeCompleter{}, indexWithMatches(sampleMatches()...))

	if _, err := svc.Stream(context.Background(), "q", 0); !errors.Is(err, ErrInvalidTopK) {
		t.Fatalf("Stream(topK=0) = %v, want ErrInvalidTopK", err)
	}
}

func TestStream_ContextCancelled(t *testing.T) {
	completer := &fakeCompleter{tokens: []string{"a", "b", "c", "d"}}
	svc := newTestService(&fakeEmbedder{}, completer, indexWithMatches(sampleMatches()...))

	ctx, cancel := context.WithCancel(context.Background())
	events, err := svc.Stream(ctx, "q", 1)
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}

	// Read the metadata event, then walk away.
	<-events
	cancel()

	// The goroutine must close the channel rather than block forever;
	// goleak in TestMain catches a leak here.
	for range events { //nolint:revive
	}
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "guide.md", "# Guide\n\nIntro.\n\n## Setup\n\nSteps here.")
	writeDoc(t, dir, "faq.md", "Short FAQ.")

	idx := &fakeIndex{}
	svc := newTestService(&fakeEmbedder{}, &fakeCompleter{}, idx)

	stats, err := svc.Ingest(context.Background(), dir)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if stats.Documents != 2 {
		t.Errorf("Documents = %d, want 2", stats.Documents)
	}
	if stats.Chunks != len(idx.replaced) {
		t.Errorf("Chunks = %d, replaced = %d", stats.Chunks, len(idx.replaced))
	}

	// Chunk IDs are "{relative path}::chunk{i}" and every row is embedded.
	if idx.replaced[0].ID != "faq.md::chunk0" {
		t.Errorf("replaced[0].ID = %q", idx.replaced[0].ID)
	}
	for i, row := range idx.replaced {
		if len(row.Embedding) == 0 {
			t.Errorf("replaced[%d] has no embedding", i)
		}
		if row.Source == "" || row.Section == "" {
			t.Errorf("replaced[%d] missing metadata: %+v", i, row)
		}
	}
}

func TestIngest_EmptyCorpus(t *testing.T) {
	svc := newTestService(&fakeEmbedder{}, &fakeCompleter{}, &fakeIndex{})
	if _, err := svc.Ingest(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for empty corpus")
	}
}

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
