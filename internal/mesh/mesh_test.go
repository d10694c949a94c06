package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/grillzstudio/internal/apperr"
)

// fakeAPI serves POST /task and answers GET /task/{id} with statuses in order,
// repeating the last one.
func fakeAPI(t *testing.T, statuses []string, result map[string]any) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 401, "message": "bad key"})
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/task":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["type"] != "text_to_model" || !strings.Contains(body["prompt"], "User design request: gold fangs") {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"task_id": "t-1"}})
		case r.Method == http.MethodGet && r.URL.Path == "/task/t-1":
			n := int(atomic.AddInt32(&polls, 1))
			status := statuses[len(statuses)-1]
			if n <= len(statuses) {
				status = statuses[n-1]
			}
			data := map[string]any{"task_id": "t-1", "status": status}
			if status == StatusSuccess {
				data["result"] = result
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": data})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newTestClient(url string) *Client {
	c := NewClient(url, "key", nil)
	c.PollInterval = time.Millisecond
	c.MaxAttempts = 50
	c.Deadline = 5 * time.Second
	return c
}

func TestGenerate_PrefersPBRModel(t *testing.T) {
	srv, polls := fakeAPI(t, []string{StatusQueued, StatusRunning, StatusSuccess}, map[string]any{
		"model":     map[string]string{"url": "https://cdn/plain.glb"},
		"pbr_model": map[string]string{"url": "https://cdn/pbr.glb"},
	})

	url, err := newTestClient(srv.URL).Generate(context.Background(), "  gold fangs ")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/pbr.glb", url)
	assert.Equal(t, int32(3), atomic.LoadInt32(polls))
}

func TestGenerate_NonPositivePollIntervalUsesDefault(t *testing.T) {
	srv, polls := fakeAPI(t, []string{StatusSuccess}, map[string]any{
		"model": map[string]string{"url": "https://cdn/plain.glb"},
	})
	c := newTestClient(srv.URL)
	c.PollInterval = 0

	url, err := c.Generate(context.Background(), "gold fangs")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/plain.glb", url)
	assert.Equal(t, int32(1), atomic.LoadInt32(polls))
}

func TestGenerate_FallsBackToPlainModel(t *testing.T) {
	srv, _ := fakeAPI(t, []string{StatusSuccess}, map[string]any{
		"model": map[string]string{"url": "https://cdn/plain.glb"},
	})

	url, err := newTestClient(srv.URL).Generate(context.Background(), "gold fangs")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/plain.glb", url)
}

func TestGenerate_Failed(t *testing.T) {
	for _, status := range []string{StatusFailed, StatusCancelled} {
		srv, _ := fakeAPI(t, []string{StatusRunning, status}, nil)

		_, err := newTestClient(srv.URL).Generate(context.Background(), "gold fangs")
		var ge *apperr.GenerationError
		require.True(t, errors.As(err, &ge), "status %s: got %v", status, err)
		assert.Equal(t, status, ge.Status)
		assert.Equal(t, "t-1", ge.TaskID)
		assert.False(t, errors.Is(err, apperr.ErrMeshTimeout))
	}
}

func TestGenerate_SuccessWithoutURL(t *testing.T) {
	srv, _ := fakeAPI(t, []string{StatusSuccess}, map[string]any{})

	_, err := newTestClient(srv.URL).Generate(context.Background(), "gold fangs")
	var ge *apperr.GenerationError
	assert.True(t, errors.As(err, &ge))
}

func TestGenerate_MaxAttempts(t *testing.T) {
	srv, polls := fakeAPI(t, []string{StatusRunning}, nil)
	c := newTestClient(srv.URL)
	c.MaxAttempts = 3

	_, err := c.Generate(context.Background(), "gold fangs")
	assert.ErrorIs(t, err, apperr.ErrMeshTimeout)
	assert.Equal(t, int32(3), atomic.LoadInt32(polls))
}

func TestGenerate_Deadline(t *testing.T) {
	srv, _ := fakeAPI(t, []string{StatusQueued}, nil)
	c := newTestClient(srv.URL)
	c.MaxAttempts = 1_000_000
	c.PollInterval = 5 * time.Millisecond
	c.Deadline = 40 * time.Millisecond

	_, err := c.Generate(context.Background(), "gold fangs")
	assert.ErrorIs(t, err, apperr.ErrMeshTimeout)
}

func TestGenerate_Cancelled(t *testing.T) {
	srv, _ := fakeAPI(t, []string{StatusRunning}, nil)
	c := newTestClient(srv.URL)
	c.MaxAttempts = 1_000_000
	c.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := c.Generate(ctx, "gold fangs")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, apperr.ErrMeshTimeout))
}

func TestGenerate_NotConfigured(t *testing.T) {
	_, err := NewClient("http://unused", "", nil).Generate(context.Background(), "x")
	assert.ErrorIs(t, err, apperr.ErrNotConfigured)
}

func TestSubmit_APIError(t *testing.T) {
	srv, _ := fakeAPI(t, []string{StatusRunning}, nil)
	c := NewClient(srv.URL, "wrong", nil)

	_, err := c.Submit(context.Background(), Prompt("gold fangs"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestSubmit_NonZeroCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 2010, "message": "insufficient credit"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "key", nil).Submit(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient credit")
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ok.glb" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("glTF"))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "key", nil)

	data, contentType, err := c.Download(context.Background(), srv.URL+"/ok.glb")
	require.NoError(t, err)
	assert.Equal(t, "glTF", string(data))
	assert.Equal(t, "model/gltf-binary", contentType)

	_, _, err = c.Download(context.Background(), srv.URL+"/expired.glb")
	var se *apperr.StorageError
	assert.True(t, errors.As(err, &se))
}

func TestPrompt(t *testing.T) {
	p := Prompt(" iced out  ")
	assert.True(t, strings.HasPrefix(p, "generate a highly detailed set of upper and lower grillz"))
	assert.True(t, strings.HasSuffix(p, "User design request: iced out"))
}
