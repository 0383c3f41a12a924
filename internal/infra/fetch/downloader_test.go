package fetch

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InahHwang/d-care-console-sub007/internal/resilience"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.wav":
			_, _ = w.Write([]byte("RIFFDATA"))
		case "/empty.wav":
		case "/busy.wav":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewDownloader(5*time.Second, 0)

	data, err := d.Fetch(t.Context(), srv.URL+"/ok.wav")
	require.NoError(t, err)
	assert.Equal(t, "RIFFDATA", string(data))

	_, err = d.Fetch(t.Context(), srv.URL+"/missing.wav")
	assert.True(t, resilience.IsPermanent(err))

	_, err = d.Fetch(t.Context(), srv.URL+"/busy.wav")
	require.Error(t, err)
	assert.True(t, resilience.Retryable(err))

	_, err = d.Fetch(t.Context(), srv.URL+"/empty.wav")
	assert.ErrorIs(t, err, errEmptyRecording)

	_, err = NewDownloader(0, 4).Fetch(t.Context(), srv.URL+"/ok.wav")
	assert.True(t, resilience.IsPermanent(err))
}
