package mockhttp

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func doSend(t *testing.T, s *Server, payload sendPayload) sendResponse {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.App.Test(req, int((2 * time.Second).Milliseconds()))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out sendResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHandleSend_MissingToNumberFailsWithoutSimulation(t *testing.T) {
	s := NewServer(testLogger(), 1.0)

	out := doSend(t, s, sendPayload{From: "+15550000000", Body: "hi"})

	assert.False(t, out.Success)
	assert.Equal(t, "21211", out.ErrorCode)
}

func TestHandleSend_ZeroFailureRateAlwaysSucceeds(t *testing.T) {
	s := NewServer(testLogger(), 0.0)

	out := doSend(t, s, sendPayload{From: "+15550000000", To: "+15551234567", Body: "hello there"})

	assert.True(t, out.Success)
	assert.NotEmpty(t, out.ProviderMessageID)
	assert.Equal(t, 1, out.SegmentCount)
}

func TestHandleSend_FullFailureRateAlwaysSimulatesFailure(t *testing.T) {
	s := NewServer(testLogger(), 1.0)

	out := doSend(t, s, sendPayload{From: "+15550000000", To: "+15551234567", Body: "hello"})

	assert.False(t, out.Success)
	assert.Equal(t, "30003", out.ErrorCode)
}

func TestHandleSend_LongBodyIncrementsSegmentCount(t *testing.T) {
	s := NewServer(testLogger(), 0.0)

	long := make([]byte, 161)
	for i := range long {
		long[i] = 'x'
	}
	out := doSend(t, s, sendPayload{From: "+15550000000", To: "+15551234567", Body: string(long)})

	assert.True(t, out.Success)
	assert.Equal(t, 2, out.SegmentCount)
}

func TestHandleSend_MediaURLSetsMediaCount(t *testing.T) {
	s := NewServer(testLogger(), 0.0)

	out := doSend(t, s, sendPayload{From: "+15550000000", To: "+15551234567", Body: "pic", MediaURL: "https://example.com/a.jpg"})

	assert.True(t, out.Success)
	assert.Equal(t, 1, out.MediaCount)
}

func TestHandleSend_InvokesStatusCallbackAsynchronously(t *testing.T) {
	s := NewServer(testLogger(), 0.0)

	done := make(chan struct{}, 1)
	var gotID, gotStatus string
	s.OnStatusCallback(func(providerMessageID, status string) {
		gotID, gotStatus = providerMessageID, status
		done <- struct{}{}
	})

	out := doSend(t, s, sendPayload{From: "+15550000000", To: "+15551234567", Body: "hi"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("status callback was not invoked")
	}

	assert.Equal(t, out.ProviderMessageID, gotID)
	assert.Equal(t, "delivered", gotStatus)
}
