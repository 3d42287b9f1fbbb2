package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// closeNotifyRecorder satisfies http.CloseNotifier, which gin's writer asserts on
// its underlying writer when httputil.ReverseProxy asks for CloseNotify.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func newRecorder() *closeNotifyRecorder {
	return &closeNotifyRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool {
	return make(chan bool)
}

func newRouter(p *Proxy) *gin.Engine {
	r := gin.New()
	r.Any("/svc/*proxyPath", p.Handle)
	return r
}

func TestProxy_ForwardsAndBalances(t *testing.T) {
	hits := map[string]int{}
	backend := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[name]++
			assert.Equal(t, "/svc/orders", r.URL.Path)
			w.Header().Set("X-Upstream", name)
			w.WriteHeader(http.StatusCreated)
		}))
	}
	a, b := backend("a"), backend("b")
	defer a.Close()
	defer b.Close()

	p, err := NewWithConfig(Config{Name: "/svc", Targets: []string{a.URL, b.URL}})
	require.NoError(t, err)
	r := newRouter(p)

	for i := 0; i < 4; i++ {
		w := newRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/svc/orders", nil))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NotEmpty(t, w.Header().Get(HeaderBackendServer))
	}
	assert.Equal(t, 2, hits["a"])
	assert.Equal(t, 2, hits["b"])
}

func TestProxy_CircuitOpensOnServerErrors(t *testing.T) {
	calls := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	p, err := NewWithConfig(Config{
		Name:           "/svc",
		Targets:        []string{backend.URL},
		CircuitBreaker: circuitbreaker.Config{MaxFailures: 2, Timeout: time.Minute},
	})
	require.NoError(t, err)
	r := newRouter(p)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := newRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/svc/x", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{500, 500, 503}, codes)
	assert.Equal(t, 2, calls)
	assert.Equal(t, circuitbreaker.StateOpen, p.CircuitBreaker().State())

	p.CircuitBreaker().Reset()
	assert.Equal(t, circuitbreaker.StateClosed, p.CircuitBreaker().State())
}

func TestProxy_UnreachableTargetIsBadGateway(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	p, err := New("/svc", url)
	require.NoError(t, err)

	w := newRecorder()
	newRouter(p).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/svc/x", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestNewWithConfig_Validation(t *testing.T) {
	_, err := NewWithConfig(Config{Name: "/svc"})
	assert.Error(t, err)

	_, err = NewWithConfig(Config{Name: "/svc", Targets: []string{"localhost:3000"}})
	assert.Error(t, err)

	_, err = NewWithConfig(Config{Name: "/svc", Targets: []string{"http://localhost:3000"}, LoadBalancerStrategy: "weighted"})
	assert.Error(t, err)
}
