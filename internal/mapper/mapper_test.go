package mapper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelliquery/intent-agent/internal/catalog"
	"github.com/intelliquery/intent-agent/internal/classifier"
	"github.com/intelliquery/intent-agent/internal/entities"
	"github.com/intelliquery/intent-agent/internal/index"
	"github.com/intelliquery/intent-agent/internal/llm"
	"github.com/intelliquery/intent-agent/internal/schema"
	"github.com/intelliquery/intent-agent/pkg/apperror"
)

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	block    bool
	requests []llm.CompletionRequest
}

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n < len(p.errs) && p.errs[n] != nil {
		return nil, p.errs[n]
	}
	reply := p.replies[len(p.replies)-1]
	if n < len(p.replies) {
		reply = p.replies[n]
	}
	return &llm.CompletionResponse{Content: reply}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func testConfig() Config {
	return Config{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: 50 * time.Millisecond,
		HintCandidates: 2,
	}
}

func testInput(t *testing.T) Input {
	t.Helper()
	cat := catalog.Default()
	ents := entities.Entities{Locations: []string{"Mumbai"}, Dates: []string{"last month"}}
	folded := classifier.Fold("Show me sales data from Mumbai for last month")
	return Input{
		Query:   "Show me sales data from Mumbai for last month",
		Catalog: cat,
		Exemplars: []index.Match{
			{WorkspaceID: "sales", Phrase: "show me total sales for last quarter", Intent: "read", Score: 0.81},
		},
		Entities:       ents,
		Classification: classifier.New(classifier.DefaultConfig()).Classify(cat, folded, nil, ents),
	}
}

func mustPrompts(t *testing.T) *PromptSet {
	t.Helper()
	p, err := LoadPrompts("")
	require.NoError(t, err)
	return p
}

const validReply = `{"intent_type":"read","workspaces":["sales"],"confidence":0.9,"rationale":"sales by city"}`

func TestMapParsesFencedReply(t *testing.T) {
	p := &scriptedProvider{replies: []string{"Sure!\n```json\n" + validReply + "\n```"}}
	m := New(p, mustPrompts(t), testConfig())

	out, err := m.Map(context.Background(), testInput(t))
	require.NoError(t, err)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, "read", out.Candidate.IntentType)
	assert.True(t, m.Enabled())

	req := p.requests[0]
	assert.True(t, req.JSON)
	assert.Contains(t, req.SystemPrompt, "single JSON object")
	assert.Contains(t, req.UserPrompt, "Query: Show me sales data from Mumbai for last month")
}

func TestMapRetriesMalformedReplies(t *testing.T) {
	p := &scriptedProvider{replies: []string{"I think it is sales", `{"intent_type": `, validReply}}
	m := New(p, mustPrompts(t), testConfig())

	out, err := m.Map(context.Background(), testInput(t))
	require.NoError(t, err)
	assert.Len(t, out.Attempts, 3)
	assert.Error(t, out.Attempts[0].Err)
	assert.NoError(t, out.Attempts[2].Err)
	assert.NotNil(t, out.Candidate)
}

func TestMapTimeoutExhaustsAttempts(t *testing.T) {
	p := &scriptedProvider{block: true}
	m := New(p, mustPrompts(t), testConfig())

	out, err := m.Map(context.Background(), testInput(t))
	require.Error(t, err)
	assert.Equal(t, apperror.CodeRemoteCallTimeout, apperror.CodeOf(err))
	assert.Len(t, out.Attempts, 3)
	assert.Equal(t, 3, p.calls())
	assert.Nil(t, out.Candidate)
}

func TestMapMalformedExhaustsAttempts(t *testing.T) {
	p := &scriptedProvider{replies: []string{"no json here"}}
	m := New(p, mustPrompts(t), testConfig())

	out, err := m.Map(context.Background(), testInput(t))
	require.Error(t, err)
	assert.Equal(t, apperror.CodeRemoteResponseMalformed, apperror.CodeOf(err))
	assert.Len(t, out.Attempts, 3)
	assert.Equal(t, "no json here", out.Raw)
}

func TestMapCallFailure(t *testing.T) {
	boom := errors.New("connection refused")
	p := &scriptedProvider{errs: []error{boom, boom, boom}, replies: []string{validReply}}
	m := New(p, mustPrompts(t), testConfig())

	_, err := m.Map(context.Background(), testInput(t))
	assert.Equal(t, apperror.CodeRemoteCallFailed, apperror.CodeOf(err))
	assert.ErrorIs(t, err, boom)
}

func TestMapStopsOnCancel(t *testing.T) {
	p := &scriptedProvider{block: true}
	cfg := testConfig()
	cfg.AttemptTimeout = time.Second
	m := New(p, mustPrompts(t), cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := m.Map(ctx, testInput(t))
	require.Error(t, err)
	assert.Len(t, out.Attempts, 1)
}

func TestDisabledMapper(t *testing.T) {
	m := New(nil, mustPrompts(t), testConfig())
	assert.False(t, m.Enabled())
}

func TestRepair(t *testing.T) {
	p := &scriptedProvider{replies: []string{validReply}}
	m := New(p, mustPrompts(t), testConfig())

	bad, err := schema.ParseCandidate([]byte(`{"intent_type":"browse","workspaces":["sales"],"confidence":0.9}`))
	require.NoError(t, err)
	violations := []schema.Violation{{Field: "intent_type", Code: schema.CodeInvalidEnum, Message: "intent_type \"browse\" is not allowed"}}

	fixed, raw, err := m.Repair(context.Background(), testInput(t), bad, violations)
	require.NoError(t, err)
	assert.Equal(t, validReply, raw)
	assert.Equal(t, "read", fixed.IntentType)

	prompt := p.requests[0].UserPrompt
	assert.Contains(t, prompt, "browse")
	assert.Contains(t, prompt, "Allowed workspaces: sales, inventory")

	p2 := &scriptedProvider{replies: []string{"sorry"}}
	_, _, err = New(p2, mustPrompts(t), testConfig()).Repair(context.Background(), testInput(t), bad, violations)
	assert.Equal(t, apperror.CodeRemoteResponseMalformed, apperror.CodeOf(err))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "```json\n{\"a\":{\"b\":2}}\n```", want: `{"a":{"b":2}}`},
		{in: `prefix {"s":"a } brace"} suffix {"x":1}`, want: `{"s":"a } brace"}`},
		{in: `{"s":"quote \" and { brace"}`, want: `{"s":"quote \" and { brace"}`},
		{in: `no object`, wantErr: true},
		{in: `{"a":1`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ExtractJSON(tt.in)
		if tt.wantErr {
			assert.True(t, apperror.Is(err, apperror.CodeRemoteResponseMalformed), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestExtractCandidateSkipsStrayBraces(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unclosed brace in prose", "Using {workspace ids: " + validReply},
		{"braced prose", "Options were {read, analyze}. Answer: " + validReply},
		{"fenced after prose", "Set {x} aside.\n```json\n" + validReply + "\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := extractCandidate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, "read", c.IntentType)
			assert.Equal(t, []any{"sales"}, c.Workspaces)
		})
	}

	for _, in := range []string{"no object", "{read, write}", `{"intent_type": `} {
		_, err := extractCandidate(in)
		assert.True(t, apperror.Is(err, apperror.CodeRemoteResponseMalformed), in)
	}
}

func TestMapAcceptsReplyWithStrayBrace(t *testing.T) {
	p := &scriptedProvider{replies: []string{"The {sales workspace fits. " + validReply}}
	m := New(p, mustPrompts(t), testConfig())

	out, err := m.Map(context.Background(), testInput(t))
	require.NoError(t, err)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, "read", out.Candidate.IntentType)
}

func TestBuildPrompt(t *testing.T) {
	p := mustPrompts(t)
	require.Len(t, p.Examples, 3)

	prompt := p.BuildPrompt(testInput(t), 2)
	assert.Contains(t, prompt, "- sales: ")
	assert.Contains(t, prompt, "- general: ")
	assert.Contains(t, prompt, `"show me total sales for last quarter" -> sales/read (similarity 0.81)`)
	assert.Contains(t, prompt, `"locations":["Mumbai"]`)
	assert.Contains(t, prompt, "Classifier hints:")
	assert.Contains(t, prompt, "sales=")
	assert.True(t, strings.HasSuffix(prompt, "Answer:"))
}

func TestLoadPromptsErrors(t *testing.T) {
	_, err := LoadPrompts("/does/not/exist.yaml")
	assert.Error(t, err)
}
