// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Factory Tests
// =============================================================================

func TestNew_Providers(t *testing.T) {
	client, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, client)

	client, err = New(Config{Provider: "NONE"})
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = New(Config{Provider: "bard"})
	assert.ErrorContains(t, err, "unknown llm provider")

	_, err = New(Config{Provider: ProviderOllama})
	assert.ErrorContains(t, err, "base_url")

	_, err = New(Config{Provider: ProviderOpenAI})
	assert.ErrorContains(t, err, "no api key")
}

func TestResolveAPIKey_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(path, []byte("  sk-file\n"), 0o600))

	key, err := resolveAPIKey(Config{APIKeyFile: path})
	require.NoError(t, err)
	assert.Equal(t, "sk-file", key)

	key, err = resolveAPIKey(Config{APIKey: "sk-inline", APIKeyFile: path})
	require.NoError(t, err)
	assert.Equal(t, "sk-inline", key)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = resolveAPIKey(Config{APIKeyFile: empty})
	assert.ErrorContains(t, err, "empty")
}

// =============================================================================
// OpenAI Tests
// =============================================================================

func TestOpenAIClient_Generate(t *testing.T) {
	// Arrange
	var got struct {
		Model          string `json:"model"`
		Messages       []Message
		ResponseFormat *struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Clause text."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()
	client, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-test"})
	require.NoError(t, err)

	// Act
	out, err := client.Generate(context.Background(), "Draft a confidentiality clause", GenerationParams{JSON: true})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Clause text.", out)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, DefaultSystemPrompt, got.Messages[0].Content)
	assert.Equal(t, "Draft a confidentiality clause", got.Messages[1].Content)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[]}`))
	}))
	defer srv.Close()
	client, err := NewOpenAIClient(Config{APIKey: "sk", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "x", GenerationParams{})

	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()
	client, err := NewOpenAIClient(Config{APIKey: "sk", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "x", GenerationParams{})

	assert.ErrorContains(t, err, "OpenAI API call failed")
}

// =============================================================================
// Ollama Tests
// =============================================================================

func TestOllamaClient_Chat(t *testing.T) {
	// Arrange
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: Message{Role: "assistant", Content: `{"content":"ok"}`},
			Done:    true,
		})
	}))
	defer srv.Close()
	client, err := NewOllamaClient(Config{BaseURL: srv.URL + "/", Model: "llama3", SystemPrompt: "be brief"})
	require.NoError(t, err)
	temp := float32(0.7)

	// Act
	out, err := client.Generate(context.Background(), "draft", GenerationParams{Temperature: &temp, JSON: true})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, `{"content":"ok"}`, out)
	assert.Equal(t, "llama3", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.InDelta(t, 0.7, got.Options["temperature"], 0.0001)
	assert.EqualValues(t, 20, got.Options["top_k"])
}

func TestOllamaClient_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'llama3' not found"}`))
	}))
	defer srv.Close()
	client, err := NewOllamaClient(Config{BaseURL: srv.URL, Model: "llama3"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "draft", GenerationParams{})

	assert.ErrorContains(t, err, "ollama pull llama3")
}

func TestOllamaClient_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true}`))
	}))
	defer srv.Close()
	client, err := NewOllamaClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{{Role: "user", Content: "x"}}, GenerationParams{})

	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOllamaOptions_Defaults(t *testing.T) {
	max := 128
	opts := ollamaOptions(GenerationParams{MaxTokens: &max, Stop: []string{"END"}})

	assert.Equal(t, float32(0.2), opts["temperature"])
	assert.Equal(t, 128, opts["num_predict"])
	assert.Equal(t, []string{"END"}, opts["stop"])
}
