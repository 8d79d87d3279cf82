package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashmap-kz/pgmreport/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPush(t *testing.T) {
	var (
		gotBody   string
		gotAuth   string
		gotHost   string
		gotCT     string
		gotMethod string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		gotAuth = r.Header.Get("Authorization")
		gotHost = r.URL.Query().Get("host")
		gotCT = r.Header.Get("Content-Type")
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	doc, err := report.Decode([]byte(`{"wal_receiver_status": {"pid": 99, "status": "streaming"}, "extra": 1}`))
	require.NoError(t, err)

	s := New(&Opts{URL: srv.URL + "/ingest", Token: "t0k", Timeout: 5 * time.Second})
	require.NoError(t, s.Push(context.Background(), "db1", doc))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "Bearer t0k", gotAuth)
	assert.Equal(t, "db1", gotHost)
	assert.Equal(t, "application/json", gotCT)
	assert.JSONEq(t, `{"wal_receiver_status": {"pid": 99, "status": "streaming"}, "extra": 1}`, gotBody)
}

func TestPush_NoTokenNoAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := New(&Opts{URL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, s.Push(context.Background(), "db1", &report.Document{}))
	assert.Empty(t, gotAuth)
}

func TestPush_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := New(&Opts{URL: srv.URL, Timeout: 5 * time.Second})
	err := s.Push(context.Background(), "db1", &report.Document{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 401")
	assert.Contains(t, err.Error(), "bad token")
}

func TestPush_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := New(&Opts{URL: url, Timeout: time.Second})
	assert.Error(t, s.Push(context.Background(), "db1", &report.Document{}))
}
