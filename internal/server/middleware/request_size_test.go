// file: internal/server/middleware/request_size_test.go
// version: 2.0.0
// guid: 8f5ed221-2f04-49aa-86f7-f63fa1732b2d

package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMethodHasBody(t *testing.T) {
	t.Parallel()

	assert.True(t, methodHasBody(http.MethodPost))
	assert.True(t, methodHasBody(http.MethodPut))
	assert.True(t, methodHasBody(http.MethodPatch))
	assert.False(t, methodHasBody(http.MethodGet))
	assert.False(t, methodHasBody(http.MethodDelete))
}

func TestMaxRequestBodySize_Middleware(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MaxRequestBodySize(8))
	router.POST("/api/v1/fingerprint/generate", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	router.DELETE("/api/v1/tracks/1/file", func(c *gin.Context) { c.Status(http.StatusOK) })

	big := httptest.NewRequest(http.MethodPost, "/api/v1/fingerprint/generate", bytes.NewReader(bytes.Repeat([]byte("a"), 9)))
	bigResp := httptest.NewRecorder()
	router.ServeHTTP(bigResp, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, bigResp.Code)
	assert.Contains(t, bigResp.Body.String(), "BODY_TOO_LARGE")

	small := httptest.NewRequest(http.MethodPost, "/api/v1/fingerprint/generate", bytes.NewReader([]byte("{}")))
	smallResp := httptest.NewRecorder()
	router.ServeHTTP(smallResp, small)
	assert.Equal(t, http.StatusAccepted, smallResp.Code)

	del := httptest.NewRequest(http.MethodDelete, "/api/v1/tracks/1/file", nil)
	delResp := httptest.NewRecorder()
	router.ServeHTTP(delResp, del)
	assert.Equal(t, http.StatusOK, delResp.Code)
}

func TestMaxRequestBodySize_DefaultLimit(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MaxRequestBodySize(0))
	router.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewReader(bytes.Repeat([]byte("a"), defaultBodyLimit+1)))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}
