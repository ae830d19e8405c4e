package trickplaymodule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, m *Manager) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	module := &Module{manager: m}
	router := gin.New()
	module.RegisterRoutes(router)
	return router
}

func TestIndexRouteServesBif(t *testing.T) {
	runner := &thumbRunner{frames: 3, width: 200}
	m, store := newTestManager(t, runner)
	partID, _ := seedPart(t, store, 0)
	require.NoError(t, m.Generate(context.Background(), partID))
	router := newTestRouter(t, m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/playback/part/"+partID+"/trickplay.bif", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	body := w.Body.Bytes()
	require.Greater(t, len(body), 4)
	assert.Equal(t, []byte{0x89, 0x42, 0x49, 0x46}, body[:4])
}

func TestIndexRouteWithoutIndex(t *testing.T) {
	m, store := newTestManager(t, &thumbRunner{})
	partID, _ := seedPart(t, store, 0)
	router := newTestRouter(t, m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/playback/part/"+partID+"/trickplay.bif", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFrameRouteServesJpeg(t *testing.T) {
	runner := &thumbRunner{frames: 3, width: 200}
	m, store := newTestManager(t, runner)
	partID, _ := seedPart(t, store, 0)
	require.NoError(t, m.Generate(context.Background(), partID))
	router := newTestRouter(t, m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/playback/part/"+partID+"/trickplay/1.jpg", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "2000", w.Header().Get("X-Timestamp-Ms"))
	assert.Equal(t, []byte{0xFF, 0xD8}, w.Body.Bytes()[:2], "jpeg SOI marker")
}

func TestFrameRouteRejectsBadNames(t *testing.T) {
	m, store := newTestManager(t, &thumbRunner{})
	partID, _ := seedPart(t, store, 0)
	router := newTestRouter(t, m)

	for _, frame := range []string{"x.jpg", "3", "-1.jpg", "3.png"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/playback/part/"+partID+"/trickplay/"+frame, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, "frame %q", frame)
	}
}

func TestFrameRouteUnknownPart(t *testing.T) {
	m, _ := newTestManager(t, &thumbRunner{})
	router := newTestRouter(t, m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/playback/part/nope/trickplay/0.jpg", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFrameRoutePastTable(t *testing.T) {
	runner := &thumbRunner{frames: 2, width: 100}
	m, store := newTestManager(t, runner)
	partID, _ := seedPart(t, store, 0)
	require.NoError(t, m.Generate(context.Background(), partID))
	router := newTestRouter(t, m)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/playback/part/"+partID+"/trickplay/9.jpg", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
