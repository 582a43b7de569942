package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"CopenhagenIncome/src/config"
	"CopenhagenIncome/src/processor"
	"CopenhagenIncome/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func newTestServer(t *testing.T, logger *storage.Logger) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join("..", "processor", "testdata")
	cfg.GeoFile = "districts.json"
	cfg.IncomeFile = "income.csv"
	cfg.Server.Addr = "127.0.0.1:0"
	dcfg := config.DefaultDataConfig()

	ds, err := processor.Load(cfg, dcfg)
	require.NoError(t, err)

	if logger == nil {
		logger = storage.NewNop()
	}
	return New(cfg, dcfg, ds, logger)
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndex(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Contains(t, rec.Body.String(), `<div id="map-copenhagen"></div>`)
}

func TestRequestIDIsKept(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestLayoutEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/layout", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var layout struct {
		Title  string `json:"title"`
		Slider struct {
			Min   int `json:"min"`
			Max   int `json:"max"`
			Value int `json:"value"`
			Marks []struct {
				Value int `json:"value"`
			} `json:"marks"`
		} `json:"slider"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &layout))
	assert.Equal(t, 2010, layout.Slider.Min)
	assert.Equal(t, 2019, layout.Slider.Max)
	assert.Equal(t, 2019, layout.Slider.Value)
	assert.Len(t, layout.Slider.Marks, 10)
}

type figureBody struct {
	Data []struct {
		Type      string            `json:"type"`
		Locations []json.RawMessage `json:"locations"`
		Z         []float64         `json:"z"`
		Text      []string          `json:"text"`
	} `json:"data"`
	Layout struct {
		ColorAxis struct {
			CMin float64 `json:"cmin"`
			CMax float64 `json:"cmax"`
		} `json:"coloraxis"`
	} `json:"layout"`
}

func TestFigureEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/figure/2019", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fig figureBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fig))
	require.Len(t, fig.Data, 1)
	assert.Equal(t, "choroplethmapbox", fig.Data[0].Type)
	assert.Len(t, fig.Data[0].Z, 10)
	assert.Equal(t, json.RawMessage("1"), fig.Data[0].Locations[0])
	assert.Equal(t, "<b>Indre By</b><br>Year: 2019<br>Avg. income: 367.000 dkr.", fig.Data[0].Text[0])
	assert.Equal(t, 220000.0, fig.Layout.ColorAxis.CMin)
	assert.Equal(t, 380000.0, fig.Layout.ColorAxis.CMax)

	again := do(t, s, "GET", "/api/figure/2019", nil)
	assert.Equal(t, rec.Body.String(), again.Body.String())
	assert.Equal(t, 1, s.figures.ItemCount())
}

func TestFigureUnknownYear(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/figure/1999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Error string `json:"error"`
		Years []int  `json:"years"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "1999")
	assert.Len(t, body.Years, 10)
	assert.Zero(t, s.figures.ItemCount())

	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/figure/soon", nil).Code)
}

func TestEventEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, "POST", "/api/events", []byte(`{"component":"year-slider","property":"value","value":2015}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var fig figureBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fig))
	assert.Contains(t, fig.Data[0].Text[0], "Year: 2015")

	// same bytes as the direct figure route
	direct := do(t, s, "GET", "/api/figure/2015", nil)
	assert.JSONEq(t, direct.Body.String(), rec.Body.String())

	cases := []struct {
		name string
		body string
		code int
	}{
		{"unknown year", `{"component":"year-slider","property":"value","value":2030}`, http.StatusNotFound},
		{"unknown component", `{"component":"dropdown","property":"value","value":2015}`, http.StatusBadRequest},
		{"bad value", `{"component":"year-slider","property":"value","value":"x"}`, http.StatusBadRequest},
		{"bad body", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, do(t, s, "POST", "/api/events", []byte(tc.body)).Code)
		})
	}

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, "GET", "/api/events", nil).Code)
}

func TestDistrictsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/districts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []struct {
		Name     string     `json:"name"`
		ID       string     `json:"id"`
		Centroid [2]float64 `json:"centroid"`
		Latest   *float64   `json:"latest_income"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 10)
	assert.Equal(t, "Indre By", out[0].Name)
	assert.Equal(t, "1", out[0].ID)
	require.NotNil(t, out[0].Latest)
	assert.Equal(t, 367000.0, *out[0].Latest)
	assert.Equal(t, "Vesterbro-Kongens Enghave", out[3].Name)
}

func TestTrendEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, "GET", "/api/districts/1/trend.png", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/districts/99/trend.png", nil).Code)
}

func TestRenderTrendTooFewPoints(t *testing.T) {
	var buf bytes.Buffer
	err := renderTrend(&buf, "Valby", "income", []processor.Record{{District: "Valby", Year: 2019, Income: 1}})
	assert.ErrorIs(t, err, errTooFewPoints)
}

func TestExportEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/api/export.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("income")
	require.NoError(t, err)
	assert.Len(t, rows, 101)
	assert.Equal(t, []string{"district", "year", "avg_income", "id"}, rows[0])
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, "GET", "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"status":"ok","districts":10,"rows":100,"years":[2010,2011,2012,2013,2014,2015,2016,2017,2018,2019]}`,
		rec.Body.String())
}

func TestLogsStream(t *testing.T) {
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "app.log"), "info", false)
	require.NoError(t, err)
	defer logger.Close()
	s := newTestServer(t, logger)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/logs", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Handler().ServeHTTP(rec, req)
		close(done)
	}()

	// the handler subscribes asynchronously, keep logging until it has
	// been running for a while
	for i := 0; i < 20; i++ {
		logger.Info("district map ready")
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("log stream did not stop")
	}
	assert.Contains(t, rec.Body.String(), "district map ready")
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(storage.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error": "Internal server error", "code": 500}`, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest("OPTIONS", "/api/events", nil)
	req.Header.Set("Origin", "http://localhost:8050")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "http://localhost:8050", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetCacheKey(t *testing.T) {
	assert.Equal(t, "figure:2019", GetCacheKey("figure", 2019))
	assert.Equal(t, "figure", GetCacheKey("figure"))
	assert.Equal(t, "a:1:b", GetCacheKey("a", 1, "b"))
}

func TestListenAndShutdown(t *testing.T) {
	s := newTestServer(t, nil)

	errc := make(chan error, 1)
	go func() { errc <- s.ListenAndServe() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, strings.HasPrefix(s.Addr(), "127.0.0.1"))
}

func TestWrongMethodIsNotAllowed(t *testing.T) {
	s := newTestServer(t, nil)

	for _, tc := range []struct{ method, target string }{
		{"GET", "/api/events"},
		{"POST", "/api/layout"},
		{"POST", "/api/figure/2019"},
		{"DELETE", "/api/districts"},
		{"POST", "/api/export.xlsx"},
	} {
		assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, tc.method, tc.target, nil).Code, tc.method+" "+tc.target)
	}
	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/unknown", nil).Code)
}

func TestLogsStreamOutlivesWriteTimeout(t *testing.T) {
	logger, err := storage.NewLogger(filepath.Join(t.TempDir(), "app.log"), "info", false)
	require.NoError(t, err)
	defer logger.Close()
	s := newTestServer(t, logger)

	const writeTimeout = 300 * time.Millisecond
	ts := httptest.NewUnstartedServer(s.Handler())
	ts.Config.WriteTimeout = writeTimeout
	ts.Start()
	defer ts.Close()

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				logger.Info("tick")
			}
		}
	}()
	defer func() {
		close(stop)
		<-stopped
	}()

	transport := &http.Transport{}
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/logs", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	start := time.Now()
	lines := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines++
		if time.Since(start) > 4*writeTimeout {
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.Greater(t, time.Since(start), 4*writeTimeout)
	assert.Greater(t, lines, 4)
}
