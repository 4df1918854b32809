package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPythonPrint(t *testing.T) {
	var got pistonRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"language":"python","version":"3.10.0","run":{"stdout":"1\n","stderr":"","output":"1\n","code":0}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	res, err := c.Run(context.Background(), Request{Code: "print(1)", Language: Python})
	require.NoError(t, err)
	assert.Equal(t, "1", res.Output)
	assert.Equal(t, 0, res.ExitCode)

	assert.Equal(t, "python", got.Language)
	assert.Equal(t, "3.10.0", got.Version)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "print(1)", got.Files[0].Content)
}

func TestRunReportsCompileErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"run":{"output":""},"compile":{"output":"main.c:1: error\n","code":1}}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, time.Second).Run(context.Background(), Request{Code: "int main(", Language: C})
	require.NoError(t, err)
	assert.Equal(t, "main.c:1: error", res.Output)
	assert.Equal(t, 1, res.ExitCode)
}

func TestRunTimesOutWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 100*time.Millisecond)
	start := time.Now()
	res, err := c.Run(context.Background(), Request{Code: "while True: pass", Language: Python})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, TimeoutOutput, res.Output)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRunUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	c := NewClient(srv.URL, time.Second)
	_, err := c.Run(context.Background(), Request{Code: "x", Language: Go})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), hits.Load())

	srv.Close()
	_, err = c.Run(context.Background(), Request{Code: "x", Language: Go})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRunRejectsBadInput(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)

	_, err := c.Run(context.Background(), Request{Code: "x", Language: "cobol"})
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	_, err = c.Run(context.Background(), Request{Code: " ", Language: Python})
	assert.ErrorIs(t, err, ErrMissingCode)
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    Language
		wantErr bool
	}{
		{in: "python", want: Python},
		{in: " CPP ", want: Cpp},
		{in: "go", want: Go},
		{in: "ruby", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLanguage(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedLanguage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "c++", Cpp.Runtime().Name)
	assert.Len(t, Languages(), 6)
}
