// Copyright (C) 2025 IM Chat
// Tests for the chat and memory handlers.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexyujiuqiao/IM/datatypes"
	"github.com/alexyujiuqiao/IM/llm"
	"github.com/alexyujiuqiao/IM/rag"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Mocks
// =============================================================================

type mockLLM struct {
	reply string
	err   error
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return m.reply, m.err
}

func (m *mockLLM) Chat(ctx context.Context, messages []datatypes.Message, params llm.GenerationParams) (string, error) {
	return m.reply, m.err
}

type mockPipeline struct {
	mu     sync.Mutex
	result *rag.PipelineResult
	err    error
	calls  []rag.PipelineRequest
}

func (m *mockPipeline) Run(ctx context.Context, req rag.PipelineRequest) (*rag.PipelineResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &rag.PipelineResult{Reply: "pipeline reply"}, nil
}

func (m *mockPipeline) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockSynth struct {
	audio []byte
	err   error
}

func (m *mockSynth) Synthesize(ctx context.Context, text, voiceProfile string) ([]byte, error) {
	return m.audio, m.err
}

type mockMemoryService struct {
	profiles map[string]map[string]string
	summary  string
	cleared  []string
}

func (m *mockMemoryService) Profile(userID string) map[string]string {
	return m.profiles[userID]
}

func (m *mockMemoryService) UpdateProfile(userID string, updates map[string]string) {
	if m.profiles == nil {
		m.profiles = map[string]map[string]string{}
	}
	if m.profiles[userID] == nil {
		m.profiles[userID] = map[string]string{}
	}
	for k, v := range updates {
		if v == "" {
			delete(m.profiles[userID], k)
			continue
		}
		m.profiles[userID][k] = v
	}
}

func (m *mockMemoryService) Summary(ctx context.Context, userID string) (string, error) {
	return m.summary, nil
}

func (m *mockMemoryService) Clear(userID string) {
	m.cleared = append(m.cleared, userID)
}

type mockFactAdmin struct {
	deleted      int
	voiceProfile string
	err          error
	users        []string
}

func (m *mockFactAdmin) GetVoiceProfile(ctx context.Context, userID string) (string, error) {
	return m.voiceProfile, m.err
}

func (m *mockFactAdmin) ClearUser(ctx context.Context, userID string) (int, error) {
	m.users = append(m.users, userID)
	return m.deleted, m.err
}

// =============================================================================
// Helpers
// =============================================================================

func textRequestBody(t *testing.T, text string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": text}},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func audioRequestBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"messages": []map[string]interface{}{{
			"role": "user",
			"content": []map[string]interface{}{{
				"type":      "audio_url",
				"audio_url": map[string]string{"url": "data:audio/wav;base64,AAAA"},
			}},
		}},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func imageRequestBody(t *testing.T, text string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"messages": []map[string]interface{}{{
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "text", "text": text},
				{"type": "image_url", "image_url": map[string]string{"url": "data:image/png;base64,aW1n"}},
			},
		}},
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func performRequest(router *gin.Engine, method, path string, body *bytes.Buffer) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	if body == nil {
		body = bytes.NewBuffer(nil)
	}
	req, _ := http.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Text Endpoint Tests
// =============================================================================

func TestHandleText_DirectReplyAndBackgroundPipeline(t *testing.T) {
	pipe := &mockPipeline{}
	h := NewChatHandler(&mockLLM{reply: "hello there"}, pipe, nil)

	router := gin.New()
	router.POST("/v1/chat/text", h.HandleText)

	w := performRequest(router, "POST", "/v1/chat/text", textRequestBody(t, "hi"))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello there", resp.Choices[0].Message.Content)

	// The pipeline runs detached from the request.
	assert.Eventually(t, func() bool { return pipe.callCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestHandleText_DirectFailureFallsBackToPipeline(t *testing.T) {
	pipe := &mockPipeline{result: &rag.PipelineResult{Reply: "grounded reply"}}
	h := NewChatHandler(&mockLLM{err: errors.New("upstream down")}, pipe, nil)

	router := gin.New()
	router.POST("/v1/chat/text", h.HandleText)

	w := performRequest(router, "POST", "/v1/chat/text", textRequestBody(t, "hi"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "grounded reply")
	assert.Equal(t, 1, pipe.callCount())
}

func TestHandleText_BothPathsFailingReturns500(t *testing.T) {
	pipe := &mockPipeline{err: errors.New("pipeline broken")}
	h := NewChatHandler(&mockLLM{err: errors.New("upstream down")}, pipe, nil)

	router := gin.New()
	router.POST("/v1/chat/text", h.HandleText)

	w := performRequest(router, "POST", "/v1/chat/text", textRequestBody(t, "hi"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleText_RejectsEmptyBody(t *testing.T) {
	h := NewChatHandler(&mockLLM{reply: "x"}, &mockPipeline{}, nil)

	router := gin.New()
	router.POST("/v1/chat/text", h.HandleText)

	w := performRequest(router, "POST", "/v1/chat/text", bytes.NewBufferString(`{"messages":[]}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Audio Endpoint Tests
// =============================================================================

func TestHandleAudio_ReturnsSynthesizedSpeech(t *testing.T) {
	pipe := &mockPipeline{result: &rag.PipelineResult{
		Reply:         "spoken reply",
		VoiceProfile:  "gentle_girlfriend",
		Transcription: "how was your day",
	}}
	h := NewChatHandler(&mockLLM{}, pipe, &mockSynth{audio: []byte("mp3bytes")})

	router := gin.New()
	router.POST("/v1/chat/audio", h.HandleAudio)

	w := performRequest(router, "POST", "/v1/chat/audio", audioRequestBody(t))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "how was your day", w.Header().Get("X-Transcription"))
	assert.Equal(t, "mp3bytes", w.Body.String())
}

func TestHandleAudio_SynthFailureDegradesToText(t *testing.T) {
	pipe := &mockPipeline{result: &rag.PipelineResult{Reply: "spoken reply"}}
	h := NewChatHandler(&mockLLM{}, pipe, &mockSynth{err: errors.New("tts down")})

	router := gin.New()
	router.POST("/v1/chat/audio", h.HandleAudio)

	w := performRequest(router, "POST", "/v1/chat/audio", audioRequestBody(t))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, w.Body.String(), "spoken reply")
}

func TestHandleAudio_PipelineFailureFallsBackToDirect(t *testing.T) {
	pipe := &mockPipeline{err: errors.New("pipeline broken")}
	h := NewChatHandler(&mockLLM{reply: "plain reply"}, pipe, &mockSynth{audio: []byte("x")})

	router := gin.New()
	router.POST("/v1/chat/audio", h.HandleAudio)

	w := performRequest(router, "POST", "/v1/chat/audio", audioRequestBody(t))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "plain reply")
}

func TestHeaderSafe_TruncatesAndStripsNewlines(t *testing.T) {
	long := strings.Repeat("a", 250) + "\nend\r"
	got := headerSafe(long)
	assert.Len(t, got, 200)
	assert.NotContains(t, got, "\n")
	assert.NotContains(t, got, "\r")
}

// =============================================================================
// Mobile Endpoint Tests
// =============================================================================

func TestHandleMobile_TextRunsPipelineSynchronously(t *testing.T) {
	pipe := &mockPipeline{result: &rag.PipelineResult{Reply: "grounded reply"}}
	h := NewChatHandler(&mockLLM{}, pipe, nil)

	router := gin.New()
	router.POST("/v1/chat/mobile", h.HandleMobile)

	w := performRequest(router, "POST", "/v1/chat/mobile", textRequestBody(t, "hi"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "grounded reply")
	require.Equal(t, 1, pipe.callCount())
	assert.Equal(t, datatypes.InputTypeText, pipe.calls[0].InputType)
}

func TestHandleMobile_ImageReachesPipelineWithPayload(t *testing.T) {
	pipe := &mockPipeline{result: &rag.PipelineResult{Reply: "a sunny beach"}}
	h := NewChatHandler(&mockLLM{}, pipe, nil)

	router := gin.New()
	router.POST("/v1/chat/mobile", h.HandleMobile)

	w := performRequest(router, "POST", "/v1/chat/mobile", imageRequestBody(t, "what is this?"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a sunny beach")

	require.Equal(t, 1, pipe.callCount())
	call := pipe.calls[0]
	assert.Equal(t, datatypes.InputTypeImage, call.InputType)
	require.NotNil(t, call.Image)
	assert.Equal(t, "base64", call.Image.Kind)
	assert.Equal(t, "aW1n", call.Image.Data)
	assert.Equal(t, "what is this?", call.UserMessage)
}

func TestHandleMobile_AudioReplyCarriesDataURL(t *testing.T) {
	pipe := &mockPipeline{result: &rag.PipelineResult{
		Reply:        "spoken reply",
		VoiceProfile: "tsundere_ceo",
	}}
	h := NewChatHandler(&mockLLM{}, pipe, &mockSynth{audio: []byte("mp3bytes")})

	router := gin.New()
	router.POST("/v1/chat/mobile", h.HandleMobile)

	w := performRequest(router, "POST", "/v1/chat/mobile", audioRequestBody(t))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Choices []struct {
			Message struct {
				Content []datatypes.ContentPart `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	parts := resp.Choices[0].Message.Content
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "spoken reply", parts[0].Text)
	assert.Equal(t, "audio_url", parts[1].Type)
	require.NotNil(t, parts[1].AudioURL)
	assert.True(t, strings.HasPrefix(parts[1].AudioURL.URL, "data:audio/mpeg;base64,"))
}

// =============================================================================
// Memory Endpoint Tests
// =============================================================================

func newMemoryRouter(mem *mockMemoryService, store *mockFactAdmin) *gin.Engine {
	h := NewMemoryHandler(mem, store)
	router := gin.New()
	router.GET("/v1/memory/profile/:user_id", h.HandleGetProfile)
	router.POST("/v1/memory/profile/:user_id", h.HandleUpdateProfile)
	router.GET("/v1/memory/summary/:user_id", h.HandleGetSummary)
	router.DELETE("/v1/memory/:user_id", h.HandleClear)
	return router
}

func TestMemoryProfile_GetAndUpdate(t *testing.T) {
	mem := &mockMemoryService{}
	router := newMemoryRouter(mem, &mockFactAdmin{})

	w := performRequest(router, "GET", "/v1/memory/profile/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"profile":{}`)

	body := bytes.NewBufferString(`{"voice_profile":"gentle_girlfriend"}`)
	w = performRequest(router, "POST", "/v1/memory/profile/alice", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gentle_girlfriend")
	assert.Equal(t, "gentle_girlfriend", mem.profiles["alice"]["voice_profile"])
}

func TestMemoryProfile_MergesPersistedVoiceProfile(t *testing.T) {
	router := newMemoryRouter(&mockMemoryService{}, &mockFactAdmin{voiceProfile: "tsundere_ceo"})

	w := performRequest(router, "GET", "/v1/memory/profile/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"voice_profile":"tsundere_ceo"`)
}

func TestMemoryProfile_RejectsEmptyUpdate(t *testing.T) {
	router := newMemoryRouter(&mockMemoryService{}, &mockFactAdmin{})

	w := performRequest(router, "POST", "/v1/memory/profile/alice", bytes.NewBufferString(`{}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemorySummary_ReturnsSummary(t *testing.T) {
	mem := &mockMemoryService{summary: "They talked about dinner plans."}
	router := newMemoryRouter(mem, &mockFactAdmin{})

	w := performRequest(router, "GET", "/v1/memory/summary/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dinner plans")
}

func TestMemoryClear_RemovesBothStores(t *testing.T) {
	mem := &mockMemoryService{}
	store := &mockFactAdmin{deleted: 7}
	router := newMemoryRouter(mem, store)

	w := performRequest(router, "DELETE", "/v1/memory/alice", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted_facts":7`)
	assert.Equal(t, []string{"alice"}, mem.cleared)
	assert.Equal(t, []string{"alice"}, store.users)
}
