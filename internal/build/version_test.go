package build

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v1.2.3"}`))
	}))
	defer srv.Close()

	prev := ReleasesURL
	ReleasesURL = srv.URL
	t.Cleanup(func() { ReleasesURL = prev })

	v, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)
}

func TestLatestVersionBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	prev := ReleasesURL
	ReleasesURL = srv.URL
	t.Cleanup(func() { ReleasesURL = prev })

	_, err := LatestVersion()
	assert.Error(t, err)
}
