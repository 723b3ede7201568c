package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/registry"
	"github.com/Veraticus/ledgerline/internal/remote"
	"github.com/Veraticus/ledgerline/internal/rules"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine   *Engine
	provider *remote.MockProvider
	registry *registry.Registry
	store    *rules.Store
}

type harnessOption func(*Config, *remote.Config)

func newHarness(t *testing.T, provider *remote.MockProvider, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()
	logger := common.DiscardLogger()

	reg := registry.New(ctx, registry.EmbeddedSource{}, "CA", logger)
	require.NoError(t, reg.Wait(ctx))

	store := rules.NewStore(
		rules.WithLogger(logger),
		rules.WithCodeValidator(func(j, code string) bool {
			set, err := reg.Load(ctx, j)
			return err == nil && set.Exists(code)
		}),
	)
	_, err := store.SeedDefaults("CA", "US", "UK")
	require.NoError(t, err)

	cfg := DefaultConfig()
	remoteCfg := remote.DefaultConfig()
	remoteCfg.Timeout = 2 * time.Second
	remoteCfg.RetryDelay = time.Millisecond
	remoteCfg.MaxRetries = 0
	remoteCfg.RateLimit = 6000
	for _, opt := range opts {
		opt(&cfg, &remoteCfg)
	}

	var classifier RemoteClassifier
	if provider != nil {
		adapter := remote.NewAdapter(remoteCfg, provider, logger)
		t.Cleanup(adapter.Close)
		classifier = adapter
	}

	eng, err := New(reg, store, classifier, cfg, logger)
	require.NoError(t, err)

	return &harness{engine: eng, provider: provider, registry: reg, store: store}
}

func (h *harness) set(t *testing.T, j string) *registry.AccountSet {
	t.Helper()
	set, err := h.registry.Load(context.Background(), j)
	require.NoError(t, err)
	return set
}

func req(desc, amount string) Request {
	return Request{
		Description:  desc,
		Amount:       decimal.RequireFromString(amount),
		Jurisdiction: "CA",
	}
}

func TestClassify_Scenarios(t *testing.T) {
	tests := []struct {
		name           string
		reply          string
		request        Request
		wantCode       string
		wantSource     model.Source
		wantConfidence int
		wantRemote     int
	}{
		{
			name:       "interac fee resolves locally",
			reply:      remote.FormatReply("200", 99, "wrong", "NONE"),
			request:    req("SEND E-TFR FEE", "-4.99"),
			wantCode:   "404",
			wantSource: model.SourceExactRule,
			wantRemote: 0,
		},
		{
			name:       "federal payment is sales revenue",
			reply:      remote.FormatReply("429", 99, "wrong", "NONE"),
			request:    req("FEDERAL PAYMENT CANADA", "2500.00"),
			wantCode:   "200",
			wantSource: model.SourceKeywordRule,
			wantRemote: 0,
		},
		{
			name:           "remote revenue on outflow is corrected",
			reply:          remote.FormatReply("200", 85, "Looks like a customer payment", "NONE"),
			request:        req("UNKNOWN VENDOR XYZ", "-50.00"),
			wantCode:       "429",
			wantSource:     model.SourceRemoteCorrected,
			wantConfidence: 65,
			wantRemote:     1,
		},
		{
			name:           "remote answer passes validation",
			reply:          remote.FormatReply("453", 77, "Printer paper", "PAPERCO"),
			request:        req("PAPERCO SUPPLY 1182", "-80"),
			wantCode:       "453",
			wantSource:     model.SourceRemote,
			wantConfidence: 77,
			wantRemote:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, remote.NewMockProvider(tt.reply))

			got, err := h.engine.Classify(context.Background(), tt.request)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCode, got.AccountCode)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, "CA", got.Jurisdiction)
			assert.NotEmpty(t, got.AccountName)
			assert.NotEmpty(t, got.Reasoning)
			if tt.wantConfidence != 0 {
				assert.Equal(t, tt.wantConfidence, got.Confidence)
			}
			assert.Equal(t, tt.wantRemote, h.provider.Calls())
		})
	}
}

func TestClassify_RemoteTimeoutFallsBack(t *testing.T) {
	provider := remote.NewMockProvider(remote.FormatReply("453", 90, "slow", "NONE"))
	provider.Delay = time.Second
	h := newHarness(t, provider, func(_ *Config, rc *remote.Config) {
		rc.Timeout = 50 * time.Millisecond
	})

	start := time.Now()
	got, err := h.engine.Classify(context.Background(), req("XYZZY HOLDINGS", "-10"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, model.SourceFallback, got.Source)
	assert.Equal(t, "429", got.AccountCode)
	assert.Equal(t, 10, got.Confidence)

	got, err = h.engine.Classify(context.Background(), req("MOBILE DEPOSIT 8812", "150"))
	require.NoError(t, err)
	assert.Equal(t, model.SourceKeywordRule, got.Source, "best local candidate beats the neutral default")
	assert.Equal(t, "260", got.AccountCode)

	assert.Equal(t, uint64(2), h.engine.Stats().RemoteFailures)
}

func TestClassify_Fallbacks(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		amount   string
		wantCode string
	}{
		{"-10", "429"},
		{"10", "260"},
		{"0", "877"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := h.engine.Classify(context.Background(), req("QWERTY ASDF", tt.amount))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, got.AccountCode)
			assert.Equal(t, model.SourceFallback, got.Source)
		})
	}
}

func TestClassify_SubCentAmountsDoNotShareCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	out, err := h.engine.Classify(ctx, req("QWERTY ASDF", "-0.004"))
	require.NoError(t, err)
	assert.Equal(t, "429", out.AccountCode)

	in, err := h.engine.Classify(ctx, req("QWERTY ASDF", "0.004"))
	require.NoError(t, err)
	assert.Equal(t, "260", in.AccountCode)
	assert.Zero(t, h.engine.Stats().ResultCache.Hits)
}

func TestClassify_InvalidRemoteCodeRerunsLocally(t *testing.T) {
	h := newHarness(t, remote.NewMockProvider(remote.FormatReply("9999", 95, "made up", "NONE")))

	got, err := h.engine.Classify(context.Background(), req("XYZZY HOLDINGS", "-10"))
	require.NoError(t, err)
	assert.Equal(t, model.SourceFallback, got.Source)
	assert.Equal(t, "429", got.AccountCode)
	assert.Equal(t, 1, h.provider.Calls(), "the provider is not retried for an invalid code")
}

func TestClassify_CacheIdempotence(t *testing.T) {
	h := newHarness(t, remote.NewMockProvider(remote.FormatReply("453", 70, "Supplies", "NONE")))
	request := req("PAPERCO SUPPLY 1182", "-80")

	first, err := h.engine.Classify(context.Background(), request)
	require.NoError(t, err)
	second, err := h.engine.Classify(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.provider.Calls())
	assert.Equal(t, uint64(1), h.engine.Stats().ResultCache.Hits)
}

func TestEngine_ClearCachesAndSweep(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Classify(ctx, req("SEND E-TFR FEE", "-4.99"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.engine.Stats().ResultCache.Size)
	assert.Equal(t, 0, h.engine.Sweep(), "fresh entries survive a sweep")

	h.engine.ClearCaches()
	assert.Equal(t, 0, h.engine.Stats().ResultCache.Size)
	assert.Equal(t, 0, h.engine.Stats().PatternCache.Size)
}

func TestClassify_CacheModes(t *testing.T) {
	request := req("PAPERCO SUPPLY 1182", "-80")

	t.Run("bypass cache skips the read", func(t *testing.T) {
		h := newHarness(t, remote.NewMockProvider(remote.FormatReply("453", 70, "Supplies", "NONE")))
		_, err := h.engine.Classify(context.Background(), request)
		require.NoError(t, err)

		bypass := request
		bypass.BypassCache = true
		_, err = h.engine.Classify(context.Background(), bypass)
		require.NoError(t, err)
		assert.Equal(t, 2, h.provider.Calls())
	})

	t.Run("force remote skips cache and cascade", func(t *testing.T) {
		h := newHarness(t, remote.NewMockProvider(remote.FormatReply("420", 88, "Coffee meeting", "NONE")))
		fee := req("SEND E-TFR FEE", "-4.99")

		local, err := h.engine.Classify(context.Background(), fee)
		require.NoError(t, err)
		assert.Equal(t, model.SourceExactRule, local.Source)

		forced := fee
		forced.ForceRemote = true
		got, err := h.engine.Classify(context.Background(), forced)
		require.NoError(t, err)
		assert.Equal(t, model.SourceRemote, got.Source)
		assert.Equal(t, "420", got.AccountCode)
		assert.Equal(t, 1, h.provider.Calls())

		// The forced answer replaced the cached one.
		again, err := h.engine.Classify(context.Background(), fee)
		require.NoError(t, err)
		assert.Equal(t, got, again)
		assert.Equal(t, 1, h.provider.Calls())
	})

	t.Run("force remote still validates", func(t *testing.T) {
		h := newHarness(t, remote.NewMockProvider(remote.FormatReply("200", 90, "Revenue", "NONE")))
		forced := req("SEND E-TFR FEE", "-4.99")
		forced.ForceRemote = true

		got, err := h.engine.Classify(context.Background(), forced)
		require.NoError(t, err)
		assert.Equal(t, model.SourceRemoteCorrected, got.Source)
		assert.Equal(t, "404", got.AccountCode)
		assert.Equal(t, 70, got.Confidence)
	})

	t.Run("force remote failure uses the cascade", func(t *testing.T) {
		provider := &remote.MockProvider{Err: errors.New("connection refused")}
		h := newHarness(t, provider)
		forced := req("SEND E-TFR FEE", "-4.99")
		forced.ForceRemote = true

		got, err := h.engine.Classify(context.Background(), forced)
		require.NoError(t, err)
		assert.Equal(t, model.SourceExactRule, got.Source)
		assert.Equal(t, "404", got.AccountCode)
	})

	t.Run("local only never calls remote", func(t *testing.T) {
		h := newHarness(t, remote.NewMockProvider(remote.FormatReply("453", 70, "Supplies", "NONE")))
		local := request
		local.LocalOnly = true

		got, err := h.engine.Classify(context.Background(), local)
		require.NoError(t, err)
		assert.Equal(t, model.SourceFallback, got.Source)
		assert.Zero(t, h.provider.Calls())
	})
}

func TestClassify_ResultCacheEvictsLeastRecentlyUsed(t *testing.T) {
	h := newHarness(t, remote.NewMockProvider(remote.FormatReply("453", 70, "Supplies", "NONE")),
		func(c *Config, _ *remote.Config) { c.ResultCacheSize = 2 })
	ctx := context.Background()

	a := req("VENDOR ALPHA", "-1")
	b := req("VENDOR BRAVO", "-2")
	c := req("VENDOR CHARLIE", "-3")

	for _, r := range []Request{a, b} {
		_, err := h.engine.Classify(ctx, r)
		require.NoError(t, err)
	}
	_, err := h.engine.Classify(ctx, a) // a is now most recently used
	require.NoError(t, err)
	require.Equal(t, 2, h.provider.Calls())

	_, err = h.engine.Classify(ctx, c) // evicts b
	require.NoError(t, err)
	require.Equal(t, 3, h.provider.Calls())

	_, err = h.engine.Classify(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 3, h.provider.Calls(), "a must still be cached")

	_, err = h.engine.Classify(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 4, h.provider.Calls(), "b must have been evicted")
}

func TestClassify_ExactStageBeatsKeywordStage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.store.AddRule(ctx, rules.RuleSpec{Keywords: []string{"ACME TOOLS"}, AccountCode: "310", Jurisdiction: "CA", Confidence: 99})
	require.NoError(t, err)
	_, err = h.store.AddExact(ctx, rules.RuleSpec{Keywords: []string{"ACME"}, AccountCode: "453", Jurisdiction: "CA"})
	require.NoError(t, err)

	got, err := h.engine.Classify(ctx, req("ACME TOOLS LTD", "-45"))
	require.NoError(t, err)
	assert.Equal(t, "453", got.AccountCode)
	assert.Equal(t, model.SourceExactRule, got.Source)
}

func TestClassify_RuleChangesInvalidateCachedResults(t *testing.T) {
	h := newHarness(t, remote.NewMockProvider(remote.FormatReply("453", 70, "Supplies", "NONE")))
	ctx := context.Background()
	request := req("PAPERCO SUPPLY 1182", "-80")

	first, err := h.engine.Classify(ctx, request)
	require.NoError(t, err)
	require.Equal(t, model.SourceRemote, first.Source)

	_, err = h.store.AddKeyword(ctx, rules.RuleSpec{Keywords: []string{"PAPERCO"}, AccountCode: "310", Jurisdiction: "CA"})
	require.NoError(t, err)

	second, err := h.engine.Classify(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, "310", second.AccountCode)
	assert.Equal(t, model.SourceKeywordRule, second.Source)
	assert.Equal(t, 1, h.provider.Calls())
}

func TestRecordCorrection(t *testing.T) {
	h := newHarness(t, remote.NewMockProvider(remote.FormatReply("453", 70, "Supplies", "NONE")))
	ctx := context.Background()
	request := req("JOE'S DINER 44", "-20")

	first, err := h.engine.Classify(ctx, request)
	require.NoError(t, err)
	require.Equal(t, "453", first.AccountCode)

	correction, err := h.engine.RecordCorrection(ctx, request, "420", "client lunches")
	require.NoError(t, err)
	assert.Equal(t, "JOE'S DINER", correction.Pattern)

	got, err := h.engine.Classify(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, "420", got.AccountCode)
	assert.Equal(t, model.SourceLearned, got.Source)

	other, err := h.engine.Classify(ctx, req("JOE'S DINER 97", "-31"))
	require.NoError(t, err)
	assert.Equal(t, "420", other.AccountCode)
	assert.Equal(t, 1, h.provider.Calls())

	_, err = h.engine.RecordCorrection(ctx, request, "9999", "")
	assert.ErrorIs(t, err, common.ErrInvalidAccountCode)
	assert.Equal(t, uint64(1), h.engine.Stats().Corrections)
}

func TestRecordCorrection_OverridesSeededRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		description string
		before      model.Source
		beforeCode  string
	}{
		{"exact merchant rule", "STARBUCKS #123", model.SourceExactRule, "420"},
		{"keyword rule", "ACME INSURANCE 12", model.SourceKeywordRule, "433"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			request := req(tt.description, "-25")

			got, err := h.engine.Classify(ctx, request)
			require.NoError(t, err)
			require.Equal(t, tt.beforeCode, got.AccountCode)
			require.Equal(t, tt.before, got.Source)

			_, err = h.engine.RecordCorrection(ctx, request, "453", "")
			require.NoError(t, err)

			got, err = h.engine.Classify(ctx, request)
			require.NoError(t, err)
			assert.Equal(t, "453", got.AccountCode)
			assert.Equal(t, model.SourceLearned, got.Source)
		})
	}

	// System patterns stay ahead of learned corrections.
	h := newHarness(t, nil)
	fee := req("SEND E-TFR FEE", "-4.99")
	_, err := h.engine.RecordCorrection(ctx, fee, "453", "")
	require.NoError(t, err)
	got, err := h.engine.Classify(ctx, fee)
	require.NoError(t, err)
	assert.Equal(t, "404", got.AccountCode)
	assert.Equal(t, model.SourceExactRule, got.Source)
}

func TestClassify_Jurisdictions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	unknown := req("SEND E-TFR FEE", "-4.99")
	unknown.Jurisdiction = "ZZ"
	got, err := h.engine.Classify(ctx, unknown)
	require.NoError(t, err)
	assert.Equal(t, "CA", got.Jurisdiction)
	assert.Equal(t, "404", got.AccountCode)

	us := req("ATM FEE", "-3")
	us.Jurisdiction = "us"
	got, err = h.engine.Classify(ctx, us)
	require.NoError(t, err)
	assert.Equal(t, "US", got.Jurisdiction)
	usFees, ok := h.set(t, "US").Role(registry.RoleBankFees)
	require.True(t, ok)
	assert.Equal(t, usFees.Code, got.AccountCode)
}

func TestClassify_InvalidRequest(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.Classify(context.Background(), req("   ", "-1"))
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"-4.99", "-4.99", false},
		{"2,500.00", "2500", false},
		{" $12 ", "12", false},
		{"", "", true},
		{"twelve", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got))
		})
	}
}

func TestClassify_NeverReturnsDanglingOrSignInconsistentCodes(t *testing.T) {
	replies := []string{
		remote.FormatReply("200", 90, "revenue", "NONE"),
		remote.FormatReply("404", 90, "fee", "NONE"),
		remote.FormatReply("310", 90, "materials", "NONE"),
		remote.FormatReply("9999", 90, "invented", "NONE"),
		"not a reply",
	}
	var mu sync.Mutex
	n := 0
	provider := &remote.MockProvider{Respond: func(string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return replies[n%len(replies)], nil
	}}
	h := newHarness(t, provider)
	set := h.set(t, "CA")

	descriptions := []string{
		"SEND E-TFR FEE", "FEDERAL PAYMENT CANADA", "TIM HORTONS #88", "MYSTERY CO",
		"HOME DEPOT 4411", "DEPOSIT", "PAYMENT - THANK YOU", "SHELL C02231", "NEW CLIENT INC",
	}
	for _, desc := range descriptions {
		for _, amount := range []string{"-25.50", "25.50", "0"} {
			t.Run(fmt.Sprintf("%s/%s", desc, amount), func(t *testing.T) {
				r := req(desc, amount)
				got, err := h.engine.Classify(context.Background(), r)
				require.NoError(t, err)

				acct, ok := set.Get(got.AccountCode)
				require.True(t, ok, "code %s must exist", got.AccountCode)
				direction := model.Transaction{Amount: r.Amount}.Direction()
				assert.True(t, acct.Type.Allows(direction),
					"%s account %s for %s", acct.Type, acct.Code, direction)
				assert.GreaterOrEqual(t, got.Confidence, 0)
				assert.LessOrEqual(t, got.Confidence, 100)
			})
		}
	}
}

func TestClassify_ConcurrentIdenticalRequestsShareOneRemoteCall(t *testing.T) {
	provider := remote.NewMockProvider(remote.FormatReply("453", 70, "Supplies", "NONE"))
	provider.Delay = 50 * time.Millisecond
	h := newHarness(t, provider)
	request := req("PAPERCO SUPPLY 1182", "-80")

	var wg sync.WaitGroup
	results := make([]model.CategorizationResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := h.engine.Classify(context.Background(), request)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, provider.Calls())
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestClassifyBatch(t *testing.T) {
	h := newHarness(t, remote.NewMockProvider(remote.FormatReply("453", 70, "Supplies", "NONE")))

	reqs := []Request{
		req("SEND E-TFR FEE", "-4.99"),
		req("", "-1"),
		req("FEDERAL PAYMENT CANADA", "2500"),
		req("PAPERCO SUPPLY 1182", "-80"),
	}

	var mu sync.Mutex
	var progress []int
	items, err := h.engine.ClassifyBatch(context.Background(), reqs, 2, WithProgress(func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, len(reqs), total)
		progress = append(progress, done)
	}))
	require.NoError(t, err)
	require.Len(t, items, len(reqs))

	assert.Equal(t, "404", items[0].Result.AccountCode)
	assert.ErrorIs(t, items[1].Err, common.ErrInvalidRequest)
	assert.Equal(t, "200", items[2].Result.AccountCode)
	assert.Equal(t, "453", items[3].Result.AccountCode)
	assert.Len(t, progress, len(reqs))
}

type slowRemote struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (r *slowRemote) Available() bool { return true }

func (r *slowRemote) Classify(ctx context.Context, _ model.Transaction, _ *registry.AccountSet) (model.CategorizationResult, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-ctx.Done():
		return model.CategorizationResult{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	return model.CategorizationResult{AccountCode: "453", Confidence: 80, Source: model.SourceRemote}, nil
}

func TestClassifyBatch_WorkersCappedByConfig(t *testing.T) {
	h := newHarness(t, nil)
	slow := &slowRemote{}

	cfg := DefaultConfig()
	cfg.Workers = 2
	eng, err := New(h.registry, h.store, slow, cfg, common.DiscardLogger())
	require.NoError(t, err)

	reqs := make([]Request, 12)
	for i := range reqs {
		reqs[i] = req(fmt.Sprintf("QZXV VENDOR %d", i), "-10")
	}
	items, err := eng.ClassifyBatch(context.Background(), reqs, 1000)
	require.NoError(t, err)
	for _, item := range items {
		require.NoError(t, item.Err)
		assert.Equal(t, "453", item.Result.AccountCode)
	}
	assert.LessOrEqual(t, slow.peak.Load(), int32(2))
	assert.Positive(t, slow.peak.Load())
}

func TestClassifyBatch_Canceled(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reqs := make([]Request, 10)
	for i := range reqs {
		reqs[i] = req(strings.Repeat("X", i+1), "-1")
	}
	_, err := h.engine.ClassifyBatch(ctx, reqs, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
