package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatResponseWith(t *testing.T, content string) []byte {
	t.Helper()
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}, "finish_reason": "stop"},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

const validOCRJSON = `{
	"text": "It was a dark and stormy night.",
	"confidence": 0.97,
	"uncertainties": [{"snippet": "stormy", "reason": "slight blur"}],
	"normalization_notes": ["joined hyphenated line break"]
}`

func testClient(serverURL string) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:    "test-key",
		BaseURL:   serverURL,
		RateLimit: 1000,
	})
}

func TestTranscribeParsesStructuredOutput(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Write(chatResponseWith(t, validOCRJSON))
	}))
	defer server.Close()

	client := testClient(server.URL)
	result, err := client.Transcribe(context.Background(), "gpt-5", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "It was a dark and stormy night." {
		t.Errorf("text = %q", result.Text)
	}
	if result.Confidence != 0.97 {
		t.Errorf("confidence = %v", result.Confidence)
	}
	if len(result.Uncertainties) != 1 || result.Uncertainties[0].Snippet != "stormy" {
		t.Errorf("uncertainties = %+v", result.Uncertainties)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.Model != "gpt-5" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_schema" {
		t.Errorf("response format = %+v", gotReq.ResponseFormat)
	}
}

func TestReviewIncludesDraft(t *testing.T) {
	var rawBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawBody, _ = io.ReadAll(r.Body)
		w.Write(chatResponseWith(t, validOCRJSON))
	}))
	defer server.Close()

	client := testClient(server.URL)
	if _, err := client.Review(context.Background(), "gpt-5", []byte("png"), "draft text here"); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !strings.Contains(string(rawBody), "draft text here") {
		t.Error("request body does not contain the draft text")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"bad gateway", http.StatusBadGateway, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"cloudflare origin timeout", 522, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := testClient(server.URL)
			_, err := client.Transcribe(context.Background(), "gpt-5", []byte("png"))
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v (err: %v)", IsTransient(err), tt.transient, err)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1 (client performs a single attempt)", calls)
			}
		})
	}
}

func TestMalformedOutputIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponseWith(t, "plain prose, not the schema"))
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.Transcribe(context.Background(), "gpt-5", []byte("png"))
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Errorf("schema-invalid output classified transient: %v", err)
	}
}

func TestParseOCRResult(t *testing.T) {
	t.Run("code fence stripped", func(t *testing.T) {
		result, err := parseOCRResult("```json\n" + validOCRJSON + "\n```")
		if err != nil {
			t.Fatalf("parseOCRResult: %v", err)
		}
		if result.Text == "" {
			t.Error("empty text")
		}
	})

	t.Run("missing required field", func(t *testing.T) {
		if _, err := parseOCRResult(`{"text": "hi"}`); err == nil {
			t.Fatal("expected schema validation error")
		}
	})

	t.Run("not json", func(t *testing.T) {
		if _, err := parseOCRResult("plain prose answer"); err == nil {
			t.Fatal("expected parse error")
		}
	})
}
