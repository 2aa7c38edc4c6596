package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cleanops/pkg/access"
	"cleanops/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Error(), Actor())
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, MustActor(c))
	})
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(errutil.NotFound("job not found", nil))
	})
	return r
}

func TestActorHeaders(t *testing.T) {
	r := newRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderUserRole, "manager")
	req.Header.Set(HeaderBusinessID, "b1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"role":"manager"`)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderUserRole, "owner")
	req.Header.Set(HeaderBusinessID, "b1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestErrorRendersBaseError(t *testing.T) {
	r := newRouter()

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(HeaderUserID, "u1")
	req.Header.Set(HeaderUserRole, string(access.RoleCleaner))
	req.Header.Set(HeaderBusinessID, "b1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), `"NOT_FOUND"`)
}
