package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/gaeval/internal/config"
	"github.com/copyleftdev/gaeval/internal/experiment"
	"github.com/copyleftdev/gaeval/internal/logging"
)

const formula = `1 -2 3 0
-1 2 4 0
2 3 -4 0
`

// testConfig lays out a data directory with one 3-SAT instance and one
// experiment document.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	instances := filepath.Join(dir, "instances", "sat-3")
	require.NoError(t, os.MkdirAll(instances, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(instances, "uf4.cnf"), []byte(formula), 0o644))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	exp := experiment.Default()
	exp.Pop.Dim = 4
	require.NoError(t, experiment.Save(filepath.Join(dir, "config", "sat3.json"), exp))

	cfg := &config.Config{Environment: "test"}
	cfg.Evaluation.DataDir = dir
	cfg.Evaluation.Workers = 2
	cfg.Evaluation.MaxBatch = 4
	return cfg
}

func testLogger() *logging.Logger {
	return logging.New(logging.ErrorLevel, io.Discard)
}

func newRouter(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	srv := NewServer(testConfig(t), testLogger())
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, rd))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func loadSAT3(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/api/v1/problems", LoadRequest{Problem: "sat-3", Instance: "uf4.cnf", Config: "sat3.json"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	body := decode(t, rr)
	id, ok := body["id"].(string)
	require.True(t, ok)
	return id
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newRouter(t)

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"GET", "/api/v1/problems", true},
		{"POST", "/api/v1/problems", true},
		{"GET", "/api/v1/problems/123", true},
		{"DELETE", "/api/v1/problems/123", true},
		{"POST", "/api/v1/problems/123/evaluate", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}")))
			if tt.shouldExist {
				assert.NotEqual(t, http.StatusMethodNotAllowed, rr.Code)
				if rr.Code == http.StatusNotFound {
					assert.Contains(t, rr.Body.String(), "not found")
				}
			} else {
				assert.Equal(t, http.StatusNotFound, rr.Code)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, h := newRouter(t)
	id := loadSAT3(t, h)

	rr := do(t, h, http.MethodGet, "/api/v1/problems/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	info := decode(t, rr)
	assert.Equal(t, "SAT-3", info["problem"])
	assert.Equal(t, "uf4.cnf", info["instance"])
	cfg := info["config"].(map[string]interface{})
	assert.Equal(t, "Roulette", cfg["selection_method"])

	rr = do(t, h, http.MethodPost, "/api/v1/problems/"+id+"/evaluate", map[string]interface{}{
		"candidates": [][]float64{{1, 1, 1, 1}, {0, 1, 0, 1}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp evaluateResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Evaluations, 2)
	assert.Equal(t, 3.0, resp.Evaluations[0].Objective)
	assert.Equal(t, 3.0, resp.Evaluations[0].Fitness)
	assert.True(t, resp.Evaluations[0].Feasible)
	// x1=0 x2=1 x3=0 x4=1 leaves only the first clause unsatisfied.
	assert.Equal(t, 2.0, resp.Evaluations[1].Objective)

	rr = do(t, h, http.MethodGet, "/api/v1/problems", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode(t, rr)
	assert.Contains(t, list["problems"], "SAT-3")
	assert.Len(t, list["sessions"], 1)

	rr = do(t, h, http.MethodDelete, "/api/v1/problems/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/v1/problems/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, h, http.MethodDelete, "/api/v1/problems/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLoadErrors(t *testing.T) {
	_, h := newRouter(t)

	tests := []struct {
		name string
		req  LoadRequest
		code int
	}{
		{"unknown problem", LoadRequest{Problem: "not-a-problem", Instance: "uf4.cnf", Config: "sat3.json"}, http.StatusBadRequest},
		{"missing problem", LoadRequest{Instance: "uf4.cnf", Config: "sat3.json"}, http.StatusBadRequest},
		{"path traversal", LoadRequest{Problem: "SAT-3", Instance: "../sat-3/uf4.cnf", Config: "sat3.json"}, http.StatusBadRequest},
		{"dot dot", LoadRequest{Problem: "SAT-3", Instance: "uf4.cnf", Config: ".."}, http.StatusBadRequest},
		{"missing config", LoadRequest{Problem: "SAT-3", Instance: "uf4.cnf", Config: "absent.json"}, http.StatusNotFound},
		{"missing instance", LoadRequest{Problem: "SAT-3", Instance: "absent.cnf", Config: "sat3.json"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/v1/problems", tt.req)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decode(t, rr)["error"])
		})
	}

	rr := do(t, h, http.MethodPost, "/api/v1/problems", map[string]string{"problem": "SAT-3", "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEvaluateRejectsBadBatches(t *testing.T) {
	_, h := newRouter(t)
	id := loadSAT3(t, h)
	path := "/api/v1/problems/" + id + "/evaluate"

	tests := []struct {
		name       string
		candidates [][]float64
	}{
		{"empty", nil},
		{"too many", [][]float64{{0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}}},
		{"wrong length", [][]float64{{1, 1, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, path, map[string]interface{}{"candidates": tt.candidates})
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}

	rr := do(t, h, http.MethodPost, "/api/v1/problems/unknown/evaluate", map[string]interface{}{
		"candidates": [][]float64{{1, 1, 1, 1}},
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func rpc(t *testing.T, h http.Handler, body string) map[string]interface{} {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	return decode(t, rr)
}

func rpcErrorCode(t *testing.T, resp map[string]interface{}) float64 {
	t.Helper()
	e, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "response should contain error object: %v", resp)
	return e["code"].(float64)
}

func TestJSONRPC(t *testing.T) {
	_, h := newRouter(t)

	resp := rpc(t, h, `{"jsonrpc":"2.0","id":1,"method":"problem.load","params":{"problem":"SAT-3","instance":"uf4.cnf","config":"sat3.json"}}`)
	result := resp["result"].(map[string]interface{})
	id := result["id"].(string)
	assert.Equal(t, float64(1), resp["id"])

	resp = rpc(t, h, `{"jsonrpc":"2.0","id":"e","method":"problem.evaluate","params":[{"id":"`+id+`","candidates":[[1,1,1,1]]}]}`)
	result = resp["result"].(map[string]interface{})
	evals := result["evaluations"].([]interface{})
	require.Len(t, evals, 1)
	assert.Equal(t, 3.0, evals[0].(map[string]interface{})["objective"])
	assert.Equal(t, "e", resp["id"])

	resp = rpc(t, h, `{"jsonrpc":"2.0","id":2,"method":"problem.list"}`)
	assert.Contains(t, resp["result"].(map[string]interface{})["problems"], "NQUEENS")

	resp = rpc(t, h, `{"jsonrpc":"2.0","id":3,"method":"problem.release","params":{"id":"`+id+`"}}`)
	assert.Equal(t, true, resp["result"].(map[string]interface{})["released"])

	resp = rpc(t, h, `{"jsonrpc":"2.0","id":4,"method":"problem.release","params":{"id":"`+id+`"}}`)
	assert.Equal(t, float64(rpcServerError), rpcErrorCode(t, resp))
}

func TestJSONRPCErrors(t *testing.T) {
	_, h := newRouter(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, rpcParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"problem.list"}`, rpcInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"optimization.start"}`, rpcMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"problem.load"}`, rpcInvalidParams},
		{"empty params array", `{"jsonrpc":"2.0","id":1,"method":"problem.load","params":[]}`, rpcInvalidParams},
		{"unknown problem", `{"jsonrpc":"2.0","id":1,"method":"problem.load","params":{"problem":"x","instance":"a","config":"b"}}`, rpcServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, float64(tt.code), rpcErrorCode(t, rpc(t, h, tt.body)))
		})
	}
}

func TestMetrics(t *testing.T) {
	_, h := newRouter(t)
	id := loadSAT3(t, h)
	rr := do(t, h, http.MethodPost, "/api/v1/problems/"+id+"/evaluate", map[string]interface{}{
		"candidates": [][]float64{{1, 1, 1, 1}},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	assert.Contains(t, body, `gaeval_evaluations_total{problem="SAT-3"}`)
	assert.Contains(t, body, `gaeval_evaluation_batch_seconds_count{problem="SAT-3"}`)
	assert.Contains(t, body, "gaeval_sessions")
}

func TestClose(t *testing.T) {
	srv, h := newRouter(t)
	id := loadSAT3(t, h)

	assert.NoError(t, srv.Close())
	_, err := srv.session(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger())

	rr := httptest.NewRecorder()
	srv.respondWithError(rr, rpcInvalidParams, "invalid input", "123")
	assert.Equal(t, http.StatusOK, rr.Code)

	response := decode(t, rr)
	errObj := response["error"].(map[string]interface{})
	assert.Equal(t, float64(rpcInvalidParams), errObj["code"])
	assert.Equal(t, "invalid input", errObj["message"])
	assert.Equal(t, "123", response["id"])
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.RateLimit = 0.001
	cfg.HTTP.RateBurst = 2
	srv := NewServer(cfg, testLogger())
	r := chi.NewRouter()
	srv.RegisterRoutes(r)

	for i := 0; i < 2; i++ {
		rr := do(t, r, http.MethodGet, "/api/v1/problems", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	rr := do(t, r, http.MethodGet, "/api/v1/problems", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, ErrRateLimited.Error(), decode(t, rr)["error"])
}

func TestEvaluateOverflowingCandidate(t *testing.T) {
	cfg := testConfig(t)
	instances := filepath.Join(cfg.Evaluation.DataDir, "instances", "algebraic-function")
	require.NoError(t, os.MkdirAll(instances, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(instances, "line.txt"), []byte("0 1\n1 3\n2 5\n"), 0o644))

	exp := experiment.Default()
	exp.Pop.Dim = 2
	exp.Pop.Type = experiment.Real
	exp.Pop.Bounds = &experiment.Bounds{Lower: -10, Upper: 10}
	require.NoError(t, experiment.Save(filepath.Join(cfg.Evaluation.DataDir, "config", "line.json"), exp))

	srv := NewServer(cfg, testLogger())
	r := chi.NewRouter()
	srv.RegisterRoutes(r)

	rr := do(t, r, http.MethodPost, "/api/v1/problems", LoadRequest{Problem: "algebraic-function", Instance: "line.txt", Config: "line.json"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := decode(t, rr)["id"].(string)

	rr = do(t, r, http.MethodPost, "/api/v1/problems/"+id+"/evaluate", map[string]interface{}{
		"candidates": [][]float64{{1e200, 1e200}},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp evaluateResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Evaluations, 1)
	assert.Equal(t, -math.MaxFloat64, resp.Evaluations[0].Objective)
	assert.False(t, resp.Evaluations[0].Feasible)
}

func TestRespondEncodingFailure(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger())

	rr := httptest.NewRecorder()
	srv.respond(rr, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusOK, map[string]float64{"objective": math.Inf(-1)})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, decode(t, rr)["error"], "encode response")
}

func TestBodyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.MaxBodyBytes = 96
	srv := NewServer(cfg, testLogger())
	r := chi.NewRouter()
	srv.RegisterRoutes(r)

	big := `{"problem":"sat-3","instance":"` + strings.Repeat("a", 128) + `","config":"sat3.json"}`

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/problems", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code, rr.Body.String())

	resp := rpc(t, r, `{"jsonrpc":"2.0","id":1,"method":"problem.load","params":`+big+`}`)
	assert.Equal(t, float64(rpcInvalidRequest), rpcErrorCode(t, resp))

	rr = do(t, r, http.MethodPost, "/api/v1/problems", LoadRequest{Problem: "sat-3", Instance: "uf4.cnf", Config: "sat3.json"})
	assert.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
}
