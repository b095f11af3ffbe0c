package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHTTPClient records the last request and returns a canned response.
type mockHTTPClient struct {
	lastReq  *http.Request
	response *http.Response
	err      error
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func mockResponse(status int, contentType, body string, headers map[string]string) *http.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(mock *mockHTTPClient) *Client {
	return New(Config{BaseURL: "http://chat.test", HTTPClient: mock})
}

func TestSendUsesGenericEndpointWithoutIdentity(t *testing.T) {
	mock := &mockHTTPClient{response: mockResponse(200, "text/plain", "ok", nil)}
	client := newTestClient(mock)

	_, err := client.Send(context.Background(), SendRequest{Message: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "http://chat.test/api/chat", mock.lastReq.URL.String())

	var payload map[string]any
	body, _ := io.ReadAll(mock.lastReq.Body)
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "hi", payload["message"])
	assert.Nil(t, payload["userId"], "userId must be null before identity is assigned")
}

func TestSendUsesSessionScopedEndpointWithIdentity(t *testing.T) {
	mock := &mockHTTPClient{response: mockResponse(200, "text/plain", "ok", nil)}
	client := newTestClient(mock)

	_, err := client.Send(context.Background(), SendRequest{Message: "hi", UserID: "u123"})
	require.NoError(t, err)

	assert.Equal(t, "http://chat.test/api/chat/u123", mock.lastReq.URL.String())

	var payload map[string]any
	body, _ := io.ReadAll(mock.lastReq.Body)
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "u123", payload["userId"])
}

func TestSendNegotiatesAllThreeResponseModes(t *testing.T) {
	mock := &mockHTTPClient{response: mockResponse(200, "text/plain", "ok", nil)}
	client := newTestClient(mock)

	_, err := client.Send(context.Background(), SendRequest{Message: "hi"})
	require.NoError(t, err)

	accept := mock.lastReq.Header.Get("Accept")
	assert.Contains(t, accept, "text/event-stream")
	assert.Contains(t, accept, "text/plain")
	assert.Contains(t, accept, "application/json")
}

func TestSendAttachesBearerTokenWhenPresent(t *testing.T) {
	mock := &mockHTTPClient{response: mockResponse(200, "text/plain", "ok", nil)}
	client := newTestClient(mock)

	_, err := client.Send(context.Background(), SendRequest{Message: "hi", Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", mock.lastReq.Header.Get("Authorization"))
}

func TestSendSucceedsWithoutToken(t *testing.T) {
	mock := &mockHTTPClient{response: mockResponse(200, "text/plain", "ok", nil)}
	client := newTestClient(mock)

	_, err := client.Send(context.Background(), SendRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Empty(t, mock.lastReq.Header.Get("Authorization"))
}

func TestSendSurfacesNewUserIDHeader(t *testing.T) {
	mock := &mockHTTPClient{response: mockResponse(200, "text/plain", "hello",
		map[string]string{"x-user-id": "u123"})}
	client := newTestClient(mock)

	result, err := client.Send(context.Background(), SendRequest{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "u123", result.NewUserID)
}

func TestSendAtomicJSONResult(t *testing.T) {
	mock := &mockHTTPClient{response: mockResponse(200, "application/json", `{"reply":"42"}`, nil)}
	client := newTestClient(mock)

	result, err := client.Send(context.Background(), SendRequest{Message: "hi"})
	require.NoError(t, err)

	assert.True(t, result.Atomic())
	assert.Equal(t, "42", result.JSONText)
	assert.Nil(t, result.Stream, "exactly one of JSONText or Stream must be populated")
}

func TestSendStreamingResult(t *testing.T) {
	mock := &mockHTTPClient{response: mockResponse(200, "text/event-stream", "Hello!", nil)}
	client := newTestClient(mock)

	result, err := client.Send(context.Background(), SendRequest{Message: "hi"})
	require.NoError(t, err)

	assert.False(t, result.Atomic())
	require.NotNil(t, result.Stream)
	assert.Empty(t, result.JSONText)

	var chunks []string
	require.NoError(t, result.Stream.Each(context.Background(), func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	}))
	assert.Equal(t, "Hello!", strings.Join(chunks, ""))
}

func TestSendNonSuccessStatusRaisesAPIError(t *testing.T) {
	mock := &mockHTTPClient{response: mockResponse(500, "text/plain", "backend down", nil)}
	client := newTestClient(mock)

	result, err := client.Send(context.Background(), SendRequest{Message: "hi"})
	assert.Nil(t, result)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Status)
	assert.Equal(t, "backend down", apiErr.Body)
	assert.False(t, IsAbort(err))
}

func TestSendNetworkFailureWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	mock := &mockHTTPClient{err: cause}
	client := newTestClient(mock)

	_, err := client.Send(context.Background(), SendRequest{Message: "hi"})
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsAbort(err))
}

func TestSendCancellationIsDistinctFromServerError(t *testing.T) {
	mock := &mockHTTPClient{err: context.Canceled}
	client := newTestClient(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Send(ctx, SendRequest{Message: "hi"})
	require.Error(t, err)
	assert.True(t, IsAbort(err))

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&APIError{Status: http.StatusNotFound}))
	assert.False(t, IsNotFound(&APIError{Status: http.StatusInternalServerError}))
	assert.False(t, IsNotFound(errors.New("plain")))
}
