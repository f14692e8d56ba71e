package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, "bh-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "https://example.test", r.Header.Get("Referer"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "bob", r.PostForm.Get("username"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"bob","n":3}`))
	}))
	defer srv.Close()

	c := NewClient(WithTimeout(2*time.Second), WithUserAgent("bh-test"))
	var out struct {
		Name string `json:"name"`
		N    int    `json:"n"`
	}
	err := c.PostForm(context.Background(), srv.URL, url.Values{"username": {"bob"}},
		http.Header{"Referer": {"https://example.test"}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "bob", out.Name)
	assert.Equal(t, 3, out.N)
}

func TestClientDoQueryAndJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("a"))
		assert.Equal(t, "2", r.URL.Query().Get("b"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient().Do(context.Background(), Request{
		Method: http.MethodPut,
		URL:    srv.URL + "?a=1",
		Query:  url.Values{"b": {"2"}},
		JSON:   map[string]int{"x": 1},
	}, nil)
	require.NoError(t, err)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewClient().Do(context.Background(), Request{URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "nope", se.Body)
}
