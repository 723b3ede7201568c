package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/registry"
	"github.com/Veraticus/ledgerline/internal/remote"
	"github.com/Veraticus/ledgerline/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, provider *remote.MockProvider) *Server {
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

	var (
		classifier engine.RemoteClassifier
		rem        Remote
	)
	if provider != nil {
		cfg := remote.DefaultConfig()
		cfg.MaxRetries = 0
		cfg.RateLimit = 6000
		adapter := remote.NewAdapter(cfg, provider, logger)
		t.Cleanup(adapter.Close)
		classifier = adapter
		rem = adapter
	}

	eng, err := engine.New(reg, store, classifier, engine.DefaultConfig(), logger)
	require.NoError(t, err)

	return New(eng, rem, Config{Version: "test", ReadTimeout: time.Second, WriteTimeout: time.Second}, logger)
}

func doJSON(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := doJSON(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, status)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, "test", got["version"])
	assert.Equal(t, "disabled", got["remote"])
	assert.ElementsMatch(t, []any{"CA", "UK", "US"}, got["jurisdictions"])
}

func TestClassify(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name       string
		body       string
		wantCode   string
		wantSource model.Source
		wantStatus int
	}{
		{
			name:       "amount as string",
			body:       `{"description":"SEND E-TFR FEE","amount":"-4.99","jurisdiction":"CA"}`,
			wantStatus: http.StatusOK,
			wantCode:   "404",
			wantSource: model.SourceExactRule,
		},
		{
			name:       "amount as number",
			body:       `{"description":"FEDERAL PAYMENT CANADA","amount":2500,"date":"2024-03-01"}`,
			wantStatus: http.StatusOK,
			wantCode:   "200",
		},
		{name: "non-numeric amount", body: `{"description":"COFFEE","amount":"abc"}`, wantStatus: http.StatusBadRequest},
		{name: "missing amount", body: `{"description":"COFFEE"}`, wantStatus: http.StatusBadRequest},
		{name: "missing description", body: `{"amount":"-3"}`, wantStatus: http.StatusBadRequest},
		{name: "bad date", body: `{"description":"COFFEE","amount":"-3","date":"03/01/2024"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed JSON", body: `{"description":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, s, http.MethodPost, "/api/classify", tt.body)
			require.Equal(t, tt.wantStatus, status, string(body))
			if tt.wantStatus != http.StatusOK {
				var errResp errorResponse
				require.NoError(t, json.Unmarshal(body, &errResp))
				assert.NotEmpty(t, errResp.Error)
				return
			}

			var result model.CategorizationResult
			require.NoError(t, json.Unmarshal(body, &result))
			assert.Equal(t, tt.wantCode, result.AccountCode)
			assert.NotEmpty(t, result.AccountName)
			if tt.wantSource != "" {
				assert.Equal(t, tt.wantSource, result.Source)
			}
		})
	}
}

func TestClassifyBatch(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := doJSON(t, s, http.MethodPost, "/api/classify/batch", `{
		"workers": 2,
		"transactions": [
			{"description":"SEND E-TFR FEE","amount":"-4.99"},
			{"description":"FEDERAL PAYMENT CANADA","amount":"2500"},
			{"description":"   ","amount":"-1"}
		]
	}`)
	require.Equal(t, http.StatusOK, status, string(body))

	var got struct {
		Results []batchResult `json:"results"`
		Count   int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, 3, got.Count)
	require.NotNil(t, got.Results[0].Result)
	assert.Equal(t, "404", got.Results[0].Result.AccountCode)
	require.NotNil(t, got.Results[1].Result)
	assert.Equal(t, "200", got.Results[1].Result.AccountCode)
	assert.Nil(t, got.Results[2].Result)
	assert.NotEmpty(t, got.Results[2].Error)

	status, _ = doJSON(t, s, http.MethodPost, "/api/classify/batch", `{"transactions":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, s, http.MethodPost, "/api/classify/batch", `{"transactions":[{"description":"X","amount":"x"}]}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCorrections(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := doJSON(t, s, http.MethodPost, "/api/corrections",
		`{"description":"JOE'S DINER 1234","amount":"-18.50","account_code":"420","note":"meals"}`)
	require.Equal(t, http.StatusCreated, status, string(body))

	var corr model.Correction
	require.NoError(t, json.Unmarshal(body, &corr))
	assert.Equal(t, "420", corr.AccountCode)

	status, body = doJSON(t, s, http.MethodPost, "/api/classify", `{"description":"JOE'S DINER 5678","amount":"-22"}`)
	require.Equal(t, http.StatusOK, status)
	var result model.CategorizationResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "420", result.AccountCode)
	assert.Equal(t, model.SourceLearned, result.Source)

	status, _ = doJSON(t, s, http.MethodPost, "/api/corrections",
		`{"description":"JOE'S DINER","amount":"-1","account_code":"99999"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, s, http.MethodPost, "/api/corrections", `{"description":"JOE'S DINER","amount":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAccounts(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := doJSON(t, s, http.MethodGet, "/api/accounts/us", "")
	require.Equal(t, http.StatusOK, status)

	var got struct {
		Jurisdiction string          `json:"jurisdiction"`
		Currency     string          `json:"currency"`
		Accounts     []model.Account `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "US", got.Jurisdiction)
	assert.Equal(t, "USD", got.Currency)
	assert.NotEmpty(t, got.Accounts)

	status, _ = doJSON(t, s, http.MethodGet, "/api/accounts/ZZ", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRulesLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := doJSON(t, s, http.MethodPost, "/api/rules",
		`{"kind":"keyword","keywords":["zoomcall"],"account_code":"489","jurisdiction":"CA","note":"video"}`)
	require.Equal(t, http.StatusCreated, status, string(body))

	var rule model.Rule
	require.NoError(t, json.Unmarshal(body, &rule))
	assert.Equal(t, []string{"ZOOMCALL"}, rule.Keywords)
	assert.Equal(t, model.RuleOriginUser, rule.Origin)

	status, body = doJSON(t, s, http.MethodGet, "/api/rules?jurisdiction=CA&kind=keyword", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), rule.ID)

	status, _ = doJSON(t, s, http.MethodPost, "/api/rules",
		`{"kind":"keyword","keywords":["x"],"account_code":"00000","jurisdiction":"CA"}`)
	assert.Equal(t, http.StatusBadRequest, status, "unknown account code")

	status, _ = doJSON(t, s, http.MethodPost, "/api/rules", `{"kind":"regex","keywords":["x"],"account_code":"489"}`)
	assert.Equal(t, http.StatusBadRequest, status, "unknown kind")

	status, body = doJSON(t, s, http.MethodPatch, "/api/rules/"+rule.ID, `{"account_code":"485","confidence":90}`)
	require.Equal(t, http.StatusOK, status, string(body))
	require.NoError(t, json.Unmarshal(body, &rule))
	assert.Equal(t, "485", rule.AccountCode)
	assert.Equal(t, 90, rule.Confidence)

	status, _ = doJSON(t, s, http.MethodPatch, "/api/rules/"+rule.ID, `{"account_code":"00000"}`)
	assert.Equal(t, http.StatusBadRequest, status, "patched code must exist")

	status, _ = doJSON(t, s, http.MethodPatch, "/api/rules/missing", `{"disabled":true}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, s, http.MethodDelete, "/api/rules/"+rule.ID, "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = doJSON(t, s, http.MethodDelete, "/api/rules/"+rule.ID, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRulesExportImport(t *testing.T) {
	source := newTestServer(t, nil)
	status, _ := doJSON(t, source, http.MethodPost, "/api/rules",
		`{"kind":"exact","keywords":["acme widgets"],"account_code":"310","jurisdiction":"CA"}`)
	require.Equal(t, http.StatusCreated, status)

	status, exported := doJSON(t, source, http.MethodGet, "/api/rules/export", "")
	require.Equal(t, http.StatusOK, status)

	target := newTestServer(t, nil)
	status, body := doJSON(t, target, http.MethodPost, "/api/rules/import", string(exported))
	require.Equal(t, http.StatusOK, status, string(body))

	var report rules.ImportReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Zero(t, report.Rejected)
	assert.Positive(t, report.Added+report.Updated)

	status, body = doJSON(t, target, http.MethodPost, "/api/classify", `{"description":"ACME WIDGETS LTD","amount":"-40"}`)
	require.Equal(t, http.StatusOK, status)
	var result model.CategorizationResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "310", result.AccountCode)

	status, _ = doJSON(t, target, http.MethodPost, "/api/rules/import", `{"version":9,"rules":{}}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, target, http.MethodPost, "/api/rules/import", `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAsk(t *testing.T) {
	status, _ := doJSON(t, newTestServer(t, nil), http.MethodPost, "/api/ask", `{"question":"what is 404?"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	s := newTestServer(t, remote.NewMockProvider("Bank fees go to 404."))
	status, body := doJSON(t, s, http.MethodPost, "/api/ask", `{"question":"what is 404?"}`)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), "Bank fees go to 404.")

	status, _ = doJSON(t, s, http.MethodPost, "/api/ask", `{"question":""}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStats(t *testing.T) {
	s := newTestServer(t, nil)
	_, _ = doJSON(t, s, http.MethodPost, "/api/classify", `{"description":"SEND E-TFR FEE","amount":"-4.99"}`)
	_, _ = doJSON(t, s, http.MethodPost, "/api/classify", `{"description":"SEND E-TFR FEE","amount":"-4.99"}`)

	status, body := doJSON(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, status)

	var stats engine.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, uint64(1), stats.ResultCache.Hits)
}
