package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"StoryboardVideo-server/logger"
	"StoryboardVideo-server/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProvider struct {
	scenes   []string
	image    string
	err      error
	prompt   string
	scene    string
	aspect   models.AspectRatio
	requests int
}

func (p *fakeProvider) Storyboard(_ context.Context, prompt string) ([]string, error) {
	p.requests++
	p.prompt = prompt
	return p.scenes, p.err
}

func (p *fakeProvider) SceneImage(_ context.Context, scene string, aspect models.AspectRatio) (string, error) {
	p.requests++
	p.scene = scene
	p.aspect = aspect
	return p.image, p.err
}

func relayEngine(h *RelayHandler) *gin.Engine {
	r := gin.New()
	r.Any("/functions/relay", h.Handle)
	return r
}

func doRelay(t *testing.T, r http.Handler, method, body string) (int, models.ErrorResponse, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, "/functions/relay", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var e models.ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &e)
	return w.Code, e, w.Body.Bytes()
}

func TestRelayStoryboard(t *testing.T) {
	p := &fakeProvider{scenes: []string{"a", "b", "c", "d"}}
	r := relayEngine(NewRelayHandler(p, logger.Discard()))

	code, _, body := doRelay(t, r, http.MethodPost, `{"type":"storyboard","prompt":"a cat in space"}`)
	require.Equal(t, http.StatusOK, code)
	var out models.StoryboardResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, []string{"a", "b", "c", "d"}, out.Scenes)
	assert.Equal(t, "a cat in space", p.prompt)
}

func TestRelayImage(t *testing.T) {
	p := &fakeProvider{image: "aGk="}
	r := relayEngine(NewRelayHandler(p, logger.Discard()))

	code, _, body := doRelay(t, r, http.MethodPost, `{"type":"image","sceneDescription":"a red door","aspectRatio":"9:16"}`)
	require.Equal(t, http.StatusOK, code)
	var out models.ImageResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "aGk=", out.Image)
	assert.Equal(t, "a red door", p.scene)
	assert.Equal(t, models.AspectRatio9x16, p.aspect)
}

func TestRelayRejections(t *testing.T) {
	cases := []struct {
		name   string
		method string
		body   string
		status int
		error  string
	}{
		{"method", http.MethodGet, "", http.StatusMethodNotAllowed, "Method Not Allowed"},
		{"empty body", http.MethodPost, "  ", http.StatusBadRequest, "Empty request body"},
		{"bad json", http.MethodPost, `{"type":`, http.StatusBadRequest, "Invalid JSON"},
		{"bad type", http.MethodPost, `{"type":"video"}`, http.StatusBadRequest, "Invalid type"},
		{"missing prompt", http.MethodPost, `{"type":"storyboard"}`, http.StatusBadRequest, "Missing prompt"},
		{"missing scene", http.MethodPost, `{"type":"image","aspectRatio":"1:1"}`, http.StatusBadRequest, "Missing sceneDescription"},
		{"bad aspect", http.MethodPost, `{"type":"image","sceneDescription":"x","aspectRatio":"4:3"}`, http.StatusBadRequest, "Invalid aspectRatio"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakeProvider{}
			r := relayEngine(NewRelayHandler(p, logger.Discard()))
			code, e, _ := doRelay(t, r, tc.method, tc.body)
			assert.Equal(t, tc.status, code)
			assert.Equal(t, tc.error, e.Error)
			assert.Zero(t, p.requests)
		})
	}
}

func TestRelayMissingCredential(t *testing.T) {
	r := relayEngine(NewRelayHandler(nil, logger.Discard()))

	code, e, _ := doRelay(t, r, http.MethodPost, `{"type":"storyboard","prompt":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "API_KEY is not set in environment.", e.Error)

	// method is checked first
	code, e, _ = doRelay(t, r, http.MethodPut, `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Equal(t, "Method Not Allowed", e.Error)
}

func TestRelayProviderFailure(t *testing.T) {
	r := relayEngine(NewRelayHandler(&fakeProvider{err: errors.New("quota exceeded")}, logger.Discard()))

	code, e, _ := doRelay(t, r, http.MethodPost, `{"type":"storyboard","prompt":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "quota exceeded", e.Error)
	assert.Equal(t, "storyboard", e.Details)

	r = relayEngine(NewRelayHandler(&fakeProvider{err: errors.New("")}, nil))
	code, e, _ = doRelay(t, r, http.MethodPost, `{"type":"image","sceneDescription":"x","aspectRatio":"1:1"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Unknown error", e.Error)
}
