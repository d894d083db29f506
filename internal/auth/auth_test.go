package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"english-eval-go/internal/evalerr"
)

func testAuthenticator() *Authenticator {
	return NewAuthenticator(
		StaticTokens{"tok-asha": "Asha@Example.com", "tok-gone": "gone@example.com"},
		NewMemoryDirectory(
			Employee{ID: 7, Email: "asha@example.com", Active: true},
			Employee{ID: 8, Email: "gone@example.com", Active: false},
		),
	)
}

func TestAuthenticate(t *testing.T) {
	a := testAuthenticator()

	p, err := a.Authenticate(t.Context(), "Bearer tok-asha")
	require.NoError(t, err)
	require.Equal(t, int64(7), p.Employee.ID)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", "missing"},
		{"wrong scheme", "Basic tok-asha", "missing"},
		{"empty token", "Bearer   ", "missing"},
		{"unknown token", "Bearer nope", "invalid token"},
		{"inactive employee", "Bearer tok-gone", "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(t.Context(), tt.header)
			require.Error(t, err)
			require.Equal(t, evalerr.KindAuth, evalerr.KindOf(err))
			require.Equal(t, http.StatusUnauthorized, evalerr.HTTPStatus(err))
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMemoryDirectory_ActiveByID(t *testing.T) {
	d := NewMemoryDirectory(Employee{ID: 7, Email: "a@example.com", Active: true}, Employee{ID: 8, Email: "b@example.com"})
	emp, err := d.ActiveByID(t.Context(), 7)
	require.NoError(t, err)
	require.Equal(t, "a@example.com", emp.Email)

	_, err = d.ActiveByID(t.Context(), 8)
	require.ErrorIs(t, err, ErrEmployeeNotFound)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(testAuthenticator()), func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"employee_id": p.Employee.ID})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer tok-asha")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"employee_id":7}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	require.Contains(t, w.Body.String(), `"error_kind":"auth"`)
}
