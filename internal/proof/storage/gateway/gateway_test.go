package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutReturnsLocator(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/proofs/abc", r.URL.Path)
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := New(server.URL + "/")

	locator, err := client.Put(context.Background(), "/proofs/abc", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/proofs/abc", locator)
	assert.Equal(t, []byte("payload"), gotBody)
	assert.Equal(t, "application/octet-stream", gotContentType)
}

func TestPutRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL).Put(context.Background(), "proofs/abc", []byte("payload"))
	require.ErrorContains(t, err, "unexpected status 503")
}

func TestHeadExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		if r.URL.Path == "/proofs/present" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL)

	ok, err := client.HeadExists(context.Background(), server.URL+"/proofs/present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.HeadExists(context.Background(), server.URL+"/proofs/missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHeadExistsSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := New(server.URL).HeadExists(context.Background(), server.URL+"/proofs/abc")
	require.ErrorContains(t, err, "unexpected status 500")
}
