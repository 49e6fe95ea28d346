package activities

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/marketscope/dispatch/internal/agents"
	"github.com/marketscope/dispatch/internal/oracle"
	"github.com/marketscope/dispatch/internal/refdata"
	"github.com/marketscope/dispatch/internal/registry"
	"github.com/marketscope/dispatch/internal/resolver"
)

type staticSource struct{ entries []refdata.Entry }

func (s *staticSource) Fetch(ctx context.Context) ([]refdata.Entry, error) {
	return s.entries, nil
}

func newTestResolver(t *testing.T) *resolver.UniversalResolver {
	t.Helper()
	logger := zaptest.NewLogger(t)
	krxCache := refdata.NewCache("krx", &staticSource{entries: []refdata.Entry{
		{CanonicalID: "005930", PrimaryName: "Samsung Electronics", AlternateName: "삼성전자"},
		{CanonicalID: "377300", PrimaryName: "Bitcoin Korea Holdings", AlternateName: "비트코인코리아"},
	}}, time.Hour, logger)
	cryptoCache := refdata.NewCache("crypto", &staticSource{entries: []refdata.Entry{
		{CanonicalID: "KRW-BTC", PrimaryName: "Bitcoin", AlternateName: "비트코인"},
	}}, time.Hour, logger)
	usCache := refdata.NewCache("us", &staticSource{entries: []refdata.Entry{
		{CanonicalID: "AAPL", PrimaryName: "Apple Inc.", AlternateName: "애플"},
	}}, time.Hour, logger)

	return resolver.NewUniversalResolver(
		[]string{"krx", "us", "crypto"},
		logger,
		resolver.NewKRXResolver(krxCache, ".KS", 4, 6, 80),
		resolver.NewUSEquityResolver(usCache, 80),
		resolver.NewCryptoResolver(cryptoCache, 80),
	)
}

func testBindings() map[string]MarketBinding {
	return map[string]MarketBinding{
		"krx":    {AgentID: "krx-agent", DisplayName: "Korean equities"},
		"us":     {AgentID: "us-agent", DisplayName: "US equities"},
		"crypto": {AgentID: "crypto-agent", DisplayName: "Crypto"},
	}
}

func TestResolveQuerySingleMarket(t *testing.T) {
	a := NewActivities(Deps{
		Resolver:       newTestResolver(t),
		MarketBindings: testBindings(),
		Logger:         zaptest.NewLogger(t),
	})

	res, err := a.ResolveQuery(context.Background(), ResolveInput{Query: "005930 주가 알려줘"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.MatchCount)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "krx", res.Matches[0].Market)
	assert.Equal(t, "005930.KS", res.Matches[0].CanonicalID)
	assert.Equal(t, "krx-agent", res.Matches[0].AgentID)
}

func TestResolveQueryAmbiguousWinsOverSingle(t *testing.T) {
	a := NewActivities(Deps{
		Resolver:       newTestResolver(t),
		MarketBindings: testBindings(),
		Logger:         zaptest.NewLogger(t),
	})

	// "bitcoin" matches both the crypto pair list and a listed company name.
	res, err := a.ResolveQuery(context.Background(), ResolveInput{Query: "bitcoin price today"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.MatchCount)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "krx", res.Matches[0].Market, "matches follow market priority order")
	assert.Equal(t, "crypto", res.Matches[1].Market)
	assert.Equal(t, "KRW-BTC", res.Matches[1].CanonicalID)
}

func TestResolveQueryNoMatch(t *testing.T) {
	a := NewActivities(Deps{
		Resolver:       newTestResolver(t),
		MarketBindings: testBindings(),
		Logger:         zaptest.NewLogger(t),
	})

	res, err := a.ResolveQuery(context.Background(), ResolveInput{Query: "how do interest rates work"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.MatchCount)
	assert.Empty(t, res.Matches)
}

func newTestAgentRegistry(t *testing.T) *registry.AgentRegistry {
	t.Helper()
	reg := registry.NewAgentRegistry(zaptest.NewLogger(t))
	require.NoError(t, reg.Register(registry.AgentMetadata{Name: "krx-agent", Description: "Korean equities"}))
	require.NoError(t, reg.Register(registry.AgentMetadata{Name: "crypto-agent", Description: "Crypto pairs"}))
	return reg
}

func TestClassifyQueryConstrainedToRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"decision":"single","agent_id":"rogue-agent"}`))
	}))
	defer srv.Close()

	a := NewActivities(Deps{
		Oracle:        oracle.NewClient(srv.URL, 5*time.Second, zaptest.NewLogger(t)),
		AgentRegistry: newTestAgentRegistry(t),
		Logger:        zaptest.NewLogger(t),
	})

	res, err := a.ClassifyQuery(context.Background(), ClassifyInput{Query: "anything"})
	require.NoError(t, err)
	assert.Equal(t, oracle.DecisionInsufficient, res.Decision,
		"a decision naming an unregistered agent must not be trusted")
}

func TestClassifyQueryPassesThroughValidDecision(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"decision":"single","agent_id":"krx-agent"}`))
	}))
	defer srv.Close()

	a := NewActivities(Deps{
		Oracle:        oracle.NewClient(srv.URL, 5*time.Second, zaptest.NewLogger(t)),
		AgentRegistry: newTestAgentRegistry(t),
		Logger:        zaptest.NewLogger(t),
	})

	res, err := a.ClassifyQuery(context.Background(), ClassifyInput{Query: "kakao price"})
	require.NoError(t, err)
	assert.Equal(t, oracle.DecisionSingle, res.Decision)
	assert.Equal(t, "krx-agent", res.AgentID)
}

type fixedAgent struct {
	id     string
	result agents.AgentResult
	err    error
}

func (f *fixedAgent) ID() string                              { return f.id }
func (f *fixedAgent) SelectTools(sub agents.SubTask) []string { return nil }
func (f *fixedAgent) Execute(ctx context.Context, sub agents.SubTask) (agents.AgentResult, error) {
	return f.result, f.err
}

func TestExecuteAgentUnknownAgent(t *testing.T) {
	a := NewActivities(Deps{
		Agents: map[string]agents.Agent{},
		Logger: zaptest.NewLogger(t),
	})
	_, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Task: agents.SubTask{TargetAgentID: "ghost-agent"},
	})
	assert.ErrorContains(t, err, "ghost-agent")
}

func TestExecuteAgentPassesThroughResult(t *testing.T) {
	want := agents.AgentResult{AgentID: "krx-agent", Success: true, Quality: agents.QualityPass, Message: "ok"}
	a := NewActivities(Deps{
		Agents: map[string]agents.Agent{"krx-agent": &fixedAgent{id: "krx-agent", result: want}},
		Logger: zaptest.NewLogger(t),
	})
	got, err := a.ExecuteAgent(context.Background(), AgentExecutionInput{
		Task: agents.SubTask{TargetAgentID: "krx-agent"},
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSynthesizeResultsLabelsEverySection(t *testing.T) {
	a := NewActivities(Deps{MarketBindings: testBindings(), Logger: zaptest.NewLogger(t)})

	tasks := []agents.SubTask{
		{StepIndex: 0, Market: "krx", TargetAgentID: "krx-agent", CanonicalID: "005930.KS"},
		{StepIndex: 1, Market: "crypto", TargetAgentID: "crypto-agent", CanonicalID: "KRW-BTC"},
	}
	results := []agents.AgentResult{
		{AgentID: "krx-agent", Success: true, Quality: agents.QualityPass, Message: "Korean equities data for 005930.KS",
			StructuredData: map[string]interface{}{"krx_quote": map[string]interface{}{"price": 71200.0}}},
		{AgentID: "crypto-agent", Success: false, Quality: agents.QualityFail, Message: "no Crypto data available for KRW-BTC"},
	}

	out, err := a.SynthesizeResults(context.Background(), SynthesisInput{Tasks: tasks, Results: results})
	require.NoError(t, err)
	require.Len(t, out.Sections, 2, "one section per plan step, failures included")
	assert.True(t, out.OverallSuccess, "one success is enough")

	assert.Equal(t, "Korean equities", out.Sections[0].MarketLabel)
	assert.True(t, out.Sections[0].Success)
	assert.NotEmpty(t, out.Sections[0].StructuredData)

	assert.Equal(t, "Crypto", out.Sections[1].MarketLabel)
	assert.False(t, out.Sections[1].Success)
	assert.Contains(t, out.Sections[1].Message, "no data available")
	assert.Empty(t, out.Sections[1].StructuredData)
}

func TestSynthesizeResultsAllFailed(t *testing.T) {
	a := NewActivities(Deps{MarketBindings: testBindings(), Logger: zaptest.NewLogger(t)})

	out, err := a.SynthesizeResults(context.Background(), SynthesisInput{
		Tasks: []agents.SubTask{
			{StepIndex: 0, Market: "krx", TargetAgentID: "krx-agent", CanonicalID: "005930.KS"},
		},
		Results: []agents.AgentResult{
			{AgentID: "krx-agent", Success: false, Quality: agents.QualityFail},
		},
	})
	require.NoError(t, err)
	assert.False(t, out.OverallSuccess)
	require.Len(t, out.Sections, 1)
	assert.Contains(t, out.Sections[0].Message, "no data available")
}

func TestSynthesizeResultsIsDeterministic(t *testing.T) {
	a := NewActivities(Deps{MarketBindings: testBindings(), Logger: zaptest.NewLogger(t)})

	in := SynthesisInput{
		Tasks: []agents.SubTask{
			{StepIndex: 0, Market: "krx", TargetAgentID: "krx-agent"},
			{StepIndex: 1, Market: "crypto", TargetAgentID: "crypto-agent"},
		},
		Results: []agents.AgentResult{
			{AgentID: "krx-agent", Success: true, Quality: agents.QualityPass, Message: "a"},
			{AgentID: "crypto-agent", Success: true, Quality: agents.QualityPass, Message: "b"},
		},
	}
	first, err := a.SynthesizeResults(context.Background(), in)
	require.NoError(t, err)
	second, err := a.SynthesizeResults(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
