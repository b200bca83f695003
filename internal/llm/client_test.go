package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gmsas95/medminder/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, status int, content string, seen *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		if status != http.StatusOK {
			http.Error(w, "slow down", status)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(url string) *Client {
	return NewClient(config.AssistantConfig{
		APIKey:      "test-key",
		BaseURL:     url + "/",
		Model:       "grok-2-1212",
		VisionModel: "grok-2-vision-1212",
		MaxTokens:   512,
	})
}

func TestSimpleChat(t *testing.T) {
	var seen map[string]interface{}
	srv := chatServer(t, http.StatusOK, "Take it with water!", &seen)

	text, err := testClient(srv.URL).SimpleChat(context.Background(), "hello", 100)
	require.NoError(t, err)
	assert.Equal(t, "Take it with water!", text)
	assert.Equal(t, "grok-2-1212", seen["model"])
	assert.Equal(t, float64(100), seen["max_tokens"])
	assert.Nil(t, seen["response_format"])
}

func TestJSONChat(t *testing.T) {
	var seen map[string]interface{}
	srv := chatServer(t, http.StatusOK, "```json\n{\"name\": \"Aspirin\"}\n```", &seen)
	c := testClient(srv.URL)

	var out struct {
		Name string `json:"name"`
	}
	msg := UserImage("what is this?", "image/png", []byte{1, 2, 3})
	require.NoError(t, c.JSONChat(context.Background(), c.VisionModel(), []Message{msg}, &out))
	assert.Equal(t, "Aspirin", out.Name)

	assert.Equal(t, "grok-2-vision-1212", seen["model"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, seen["response_format"])

	messages := seen["messages"].([]interface{})
	parts := messages[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 2)
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.Equal(t, "data:image/png;base64,AQID", image["url"])
}

func TestAPIError(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "", nil)

	_, err := testClient(srv.URL).SimpleChat(context.Background(), "hi", 0)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, apiErr.Retryable())
}

func TestInvalidJSON(t *testing.T) {
	srv := chatServer(t, http.StatusOK, "not json", nil)

	var out map[string]string
	err := testClient(srv.URL).JSONChat(context.Background(), "", []Message{UserText("x")}, &out)
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences(` {"a":1} `))
}
