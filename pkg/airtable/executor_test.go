package airtable

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/getmentor/airtable-connector/pkg/errors"
	"github.com/getmentor/airtable-connector/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// statusSequenceServer answers with statuses[i] on the i-th request and 200 afterwards
func statusSequenceServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		w.Header().Set("Content-Type", "application/json")
		if n < len(statuses) && statuses[n] != http.StatusOK {
			w.WriteHeader(statuses[n])
			_, _ = w.Write([]byte(`{"error":{"type":"TEST_ERROR","message":"status from sequence"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newTestExecutor(sleeper *sleepRecorder) *Executor {
	return NewExecutor(httpclient.NewStandardClient(0), WithSleep(sleeper.sleep))
}

func patCredentials() Credentials {
	return Credentials{AuthenticationType: AuthPAT, AccessToken: "patTEST.secret"}
}

func getSpec(url string) RequestSpec {
	return RequestSpec{Operation: "test", Method: http.MethodGet, URL: url, Timeout: 2 * time.Second}
}

func TestExecute_RateLimitExhaustion(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("maxRetries=%d", maxRetries), func(t *testing.T) {
			statuses := make([]int, maxRetries+1)
			for i := range statuses {
				statuses[i] = http.StatusTooManyRequests
			}
			server, calls := statusSequenceServer(t, statuses...)
			sleeper := &sleepRecorder{}

			_, err := newTestExecutor(sleeper).Execute(context.Background(), getSpec(server.URL),
				patCredentials(), RetryPolicy{MaxRetries: maxRetries, BaseDelay: 10 * time.Millisecond})

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrRateLimited)
			assert.Equal(t, int32(maxRetries+1), atomic.LoadInt32(calls))
			assert.Len(t, sleeper.recorded(), maxRetries)
		})
	}
}

func TestExecute_SuccessAfterRateLimitStopsAttempts(t *testing.T) {
	server, calls := statusSequenceServer(t, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK)
	sleeper := &sleepRecorder{}

	body, err := newTestExecutor(sleeper).Execute(context.Background(), getSpec(server.URL),
		patCredentials(), RetryPolicy{MaxRetries: 5, BaseDelay: 10 * time.Millisecond})

	require.NoError(t, err)
	assert.JSONEq(t, `{"records":[]}`, string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	assert.Len(t, sleeper.recorded(), 2)
}

func TestExecute_BackoffDelaysDoubleFromBase(t *testing.T) {
	server, _ := statusSequenceServer(t,
		http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests)
	sleeper := &sleepRecorder{}

	_, err := newTestExecutor(sleeper).Execute(context.Background(), getSpec(server.URL),
		patCredentials(), RetryPolicy{MaxRetries: 3, BaseDelay: 250 * time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
	}, sleeper.recorded())
}

func TestExecute_NonRetryableStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   error
	}{
		{"unauthorized", http.StatusUnauthorized, apperrors.ErrInvalidCredentials},
		{"forbidden", http.StatusForbidden, apperrors.ErrForbidden},
		{"not found", http.StatusNotFound, apperrors.ErrNotFound},
		{"unprocessable", http.StatusUnprocessableEntity, apperrors.ErrInvalidRequest},
		{"server error", http.StatusInternalServerError, apperrors.ErrAPI},
		{"service unavailable", http.StatusServiceUnavailable, apperrors.ErrAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, calls := statusSequenceServer(t, tt.status, tt.status)
			sleeper := &sleepRecorder{}

			_, err := newTestExecutor(sleeper).Execute(context.Background(), getSpec(server.URL),
				patCredentials(), RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls))
			assert.Empty(t, sleeper.recorded())

			var apiErr *apperrors.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "status from sequence", apiErr.Message)
		})
	}
}

func TestExecute_OnlyLastErrorSurfaces(t *testing.T) {
	server, calls := statusSequenceServer(t, http.StatusTooManyRequests, http.StatusNotFound)
	sleeper := &sleepRecorder{}

	_, err := newTestExecutor(sleeper).Execute(context.Background(), getSpec(server.URL),
		patCredentials(), RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NotErrorIs(t, err, apperrors.ErrRateLimited)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestExecute_AuthorizationHeader(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		expected string
	}{
		{
			name:     "personal access token uses bearer scheme",
			creds:    Credentials{AuthenticationType: AuthPAT, AccessToken: "patABC"},
			expected: "Bearer patABC",
		},
		{
			name:     "legacy api key is sent unprefixed",
			creds:    Credentials{AuthenticationType: AuthAPIKey, APIKey: "keyXYZ"},
			expected: "keyXYZ",
		},
		{
			name:     "access token preferred when both are set",
			creds:    Credentials{AuthenticationType: AuthAPIKey, AccessToken: "patABC", APIKey: "keyXYZ"},
			expected: "patABC",
		},
		{
			name:     "pat scheme falls back to api key",
			creds:    Credentials{AuthenticationType: AuthPAT, APIKey: "keyXYZ"},
			expected: "Bearer keyXYZ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Authorization")
				_, _ = w.Write([]byte(`{}`))
			}))
			defer server.Close()

			_, err := newTestExecutor(&sleepRecorder{}).Execute(context.Background(), getSpec(server.URL),
				tt.creds, DefaultRetryPolicy())

			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestExecute_SendsJSONBody(t *testing.T) {
	var received map[string]any
	var contentType, method string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&received)
		_, _ = w.Write([]byte(`{"records":[{"id":"rec1","fields":{"Name":"A"}}]}`))
	}))
	defer server.Close()

	spec := RequestSpec{
		Method:  http.MethodPatch,
		URL:     server.URL,
		Body:    map[string]any{"records": []RecordUpdate{{ID: "rec1", Fields: map[string]any{"Name": "A"}}}},
		Timeout: time.Second,
	}
	_, err := newTestExecutor(&sleepRecorder{}).Execute(context.Background(), spec, patCredentials(), DefaultRetryPolicy())

	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "rec1", received["records"].([]any)[0].(map[string]any)["id"])
}

func TestExecute_ConnectionRefusedIsTerminal(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	sleeper := &sleepRecorder{}
	_, err = newTestExecutor(sleeper).Execute(context.Background(), getSpec("http://"+addr+"/v0/app/tbl"),
		patCredentials(), RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.Contains(t, err.Error(), "cannot reach Airtable")
	assert.Empty(t, sleeper.recorded())
}

func TestExecute_TimeoutIsTerminal(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	spec := getSpec(server.URL)
	spec.Timeout = 50 * time.Millisecond

	_, err := newTestExecutor(&sleepRecorder{}).Execute(context.Background(), spec,
		patCredentials(), RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestExecute_CallerDeadlineIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestExecutor(&sleepRecorder{}).Execute(ctx, getSpec(server.URL),
		patCredentials(), DefaultRetryPolicy())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, http.StatusBadGateway, apperrors.HTTPStatus(err))
}

func TestExecute_CallerCancellationIsNotClassified(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := newTestExecutor(&sleepRecorder{}).Execute(ctx, getSpec(server.URL),
		patCredentials(), DefaultRetryPolicy())

	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperrors.ErrNetwork)
}

func TestExecute_InvalidJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	_, err := newTestExecutor(&sleepRecorder{}).Execute(context.Background(), getSpec(server.URL),
		patCredentials(), DefaultRetryPolicy())

	assert.ErrorIs(t, err, apperrors.ErrAPI)
}

func TestExecute_RejectsInvalidInputsBeforeCalling(t *testing.T) {
	server, calls := statusSequenceServer(t)
	executor := newTestExecutor(&sleepRecorder{})

	tests := []struct {
		name   string
		spec   RequestSpec
		creds  Credentials
		policy RetryPolicy
	}{
		{"zero timeout", RequestSpec{Method: http.MethodGet, URL: server.URL}, patCredentials(), DefaultRetryPolicy()},
		{"negative retries", getSpec(server.URL), patCredentials(), RetryPolicy{MaxRetries: -1, BaseDelay: time.Second}},
		{"zero base delay", getSpec(server.URL), patCredentials(), RetryPolicy{MaxRetries: 1}},
		{"missing token", getSpec(server.URL), Credentials{AuthenticationType: AuthPAT}, DefaultRetryPolicy()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executor.Execute(context.Background(), tt.spec, tt.creds, tt.policy)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestExecute_BreakerIgnoresClassifiedClientErrors(t *testing.T) {
	server, calls := statusSequenceServer(t,
		http.StatusNotFound, http.StatusNotFound, http.StatusNotFound, http.StatusNotFound, http.StatusNotFound)
	executor := NewExecutor(httpclient.NewStandardClient(0),
		WithSleep((&sleepRecorder{}).sleep),
		WithCircuitBreakers(NewBreakerSet("airtable-test")))

	for i := 0; i < 5; i++ {
		_, err := executor.Execute(context.Background(), getSpec(server.URL), patCredentials(), DefaultRetryPolicy())
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(calls))
}

func TestExecute_BreakerOpensOnServerErrors(t *testing.T) {
	server, calls := statusSequenceServer(t,
		http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway)
	executor := NewExecutor(httpclient.NewStandardClient(0),
		WithSleep((&sleepRecorder{}).sleep),
		WithCircuitBreakers(NewBreakerSet("airtable-test")))

	for i := 0; i < 3; i++ {
		_, err := executor.Execute(context.Background(), getSpec(server.URL), patCredentials(), DefaultRetryPolicy())
		assert.ErrorIs(t, err, apperrors.ErrAPI)
	}

	_, err := executor.Execute(context.Background(), getSpec(server.URL), patCredentials(), DefaultRetryPolicy())
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.Contains(t, err.Error(), "circuit breaker")
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestExecute_BreakerIsScopedToCredentials(t *testing.T) {
	failing, failingCalls := statusSequenceServer(t,
		http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway)
	healthy, healthyCalls := statusSequenceServer(t, http.StatusOK)
	breakers := NewBreakerSet("airtable-test")
	executor := NewExecutor(httpclient.NewStandardClient(0),
		WithSleep((&sleepRecorder{}).sleep),
		WithCircuitBreakers(breakers))

	tenantA := patCredentials()
	tenantB := Credentials{AuthenticationType: AuthPAT, AccessToken: "patOTHER.secret"}

	for i := 0; i < 4; i++ {
		_, _ = executor.Execute(context.Background(), getSpec(failing.URL), tenantA, DefaultRetryPolicy())
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(failingCalls))

	_, err := executor.Execute(context.Background(), getSpec(healthy.URL), tenantB, DefaultRetryPolicy())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(healthyCalls))
	assert.NotSame(t, breakers.For(tenantA.Fingerprint()), breakers.For(tenantB.Fingerprint()))
	assert.Same(t, breakers.For(tenantA.Fingerprint()), breakers.For(patCredentials().Fingerprint()))
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "success", StatusLabel(nil))
	assert.Equal(t, "not_found", StatusLabel(apperrors.FromResponse(404, nil)))
	assert.Equal(t, "rate_limited", StatusLabel(apperrors.RateLimitExhaustedError(2, apperrors.FromResponse(429, nil))))
	assert.Equal(t, "cancelled", StatusLabel(context.Canceled))
}
