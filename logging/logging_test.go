package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMiddlewarePassesThroughStatusAndBody(t *testing.T) {
	logger := New(0, nil)
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestLevelForMapsStatusRanges(t *testing.T) {
	assert.Equal(t, int(levelFor(200)), 0)
	assert.NotEqual(t, levelFor(404), levelFor(200))
	assert.NotEqual(t, levelFor(500), levelFor(404))
}
