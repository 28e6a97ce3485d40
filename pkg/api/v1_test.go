package routing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/golang-jwt/jwt/v5"
	"github.com/iziplay/xeno-corpus/pkg/annotation"
	"github.com/iziplay/xeno-corpus/pkg/config"
	"github.com/iziplay/xeno-corpus/pkg/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (humatest.TestAPI, config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.AnnotationPath = filepath.Join(t.TempDir(), "annotation.csv")
	_, api := humatest.New(t)
	Setup(api, cfg)
	return api, cfg
}

func TestHealthCheck(t *testing.T) {
	api, _ := newTestAPI(t)

	resp := api.Get("/healthz")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "OK", resp.Body.String())
}

func TestStatisticsWithoutDatabase(t *testing.T) {
	api, _ := newTestAPI(t)

	assert.Equal(t, http.StatusServiceUnavailable, api.Get("/v1/statistics").Code)
	assert.Equal(t, http.StatusServiceUnavailable, api.Get("/v1/recordings?species=wren").Code)
}

func TestSyncStatistics(t *testing.T) {
	api, _ := newTestAPI(t)

	require.True(t, sync.GetStatsInstance().StartSync("run-1", "grp:1"))
	t.Cleanup(sync.GetStatsInstance().EndSync)

	resp := api.Get("/v1/statistics/sync")
	require.Equal(t, http.StatusOK, resp.Code)

	var p sync.Progress
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &p))
	assert.True(t, p.IsRunning)
	assert.Equal(t, "run-1", p.ID)
}

func TestAnnotationStatistics(t *testing.T) {
	api, cfg := newTestAPI(t)

	resp := api.Get("/v1/statistics/annotation")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"path":"`+cfg.AnnotationPath+`","total":0,"classes":[]}`, resp.Body.String())

	index, err := annotation.Open(cfg.AnnotationPath)
	require.NoError(t, err)
	require.NoError(t, index.Append(annotation.Record{FileName: "x-1-0-0.mp3", ClassID: 0, Class: "wren", SourceID: "1"}))
	require.NoError(t, index.Append(annotation.Record{FileName: "x-2-1-0.mp3", ClassID: 1, Class: "robin", SourceID: "2"}))
	require.NoError(t, index.Append(annotation.Record{FileName: "x-3-0-0.mp3", ClassID: 0, Class: "wren", SourceID: "3"}))

	resp = api.Get("/v1/statistics/annotation")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Total   int                     `json:"total"`
		Classes []annotation.ClassCount `json:"classes"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, []annotation.ClassCount{
		{ClassID: 0, Class: "wren", Count: 2},
		{ClassID: 1, Class: "robin", Count: 1},
	}, body.Classes)
}

func TestTriggerSyncConflict(t *testing.T) {
	api, _ := newTestAPI(t)
	t.Setenv("XC_JWT_SECRET", "")

	require.True(t, sync.GetStatsInstance().StartSync("run-1", "grp:1"))
	t.Cleanup(sync.GetStatsInstance().EndSync)

	assert.Equal(t, http.StatusConflict, api.Post("/v1/sync").Code)
}

func TestTriggerSyncRequiresToken(t *testing.T) {
	api, _ := newTestAPI(t)
	t.Setenv("XC_JWT_SECRET", "s3cr3t")

	require.True(t, sync.GetStatsInstance().StartSync("run-1", "grp:1"))
	t.Cleanup(sync.GetStatsInstance().EndSync)

	assert.Equal(t, http.StatusUnauthorized, api.Post("/v1/sync").Code)
	assert.Equal(t, http.StatusUnauthorized, api.Post("/v1/sync", "Authorization: Bearer garbage").Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("s3cr3t"))
	require.NoError(t, err)

	// authorized, then rejected because a run is active
	assert.Equal(t, http.StatusConflict, api.Post("/v1/sync", "Authorization: Bearer "+token).Code)
	assert.Equal(t, http.StatusConflict, api.Post("/v1/sync?jwt="+token).Code)
}

func TestTriggerSyncClaimsSlotBeforeResponding(t *testing.T) {
	t.Setenv("XC_JWT_SECRET", "")

	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.APIURL = upstream.URL
	cfg.AnnotationPath = filepath.Join(t.TempDir(), "annotation.csv")
	_, api := humatest.New(t)
	Setup(api, cfg)

	first := api.Post("/v1/sync")
	require.Equal(t, http.StatusAccepted, first.Code)
	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &body))
	assert.NotEmpty(t, body.ID)

	// the slot is held as soon as the first response is written
	assert.True(t, sync.GetStats().IsRunning)
	assert.Equal(t, http.StatusConflict, api.Post("/v1/sync").Code)

	close(release)
	assert.Eventually(t, func() bool { return !sync.GetStats().IsRunning }, 5*time.Second, 10*time.Millisecond)
}
