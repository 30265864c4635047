package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/config"
	"github.com/dubaigit/task-mail-sub001/internal/domain"
)

func chatCompletionBody(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func testAnalyzerConfig(baseURL string) *config.AnalyzerConfig {
	return &config.AnalyzerConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		ClassifyModel:  "classify-model",
		DraftModel:     "draft-model",
		SentimentModel: "sentiment-model",
		TasksModel:     "tasks-model",
		TimeoutSeconds: 5,
	}
}

func TestAnalyzer_AnalyzeClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "classify-model" {
			t.Errorf("expected classify-model, got %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system+user messages, got %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody(`{"classification":"action_required","urgency":"high","confidence":0.92}`))
	}))
	defer srv.Close()

	a := NewAnalyzer(testAnalyzerConfig(srv.URL))
	result, err := a.Analyze(context.Background(), domain.OperationClassify, "please review the contract")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if result.Classification != "action_required" || result.Urgency != "high" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.ModelUsed != "classify-model" {
		t.Errorf("expected model recorded on result, got %q", result.ModelUsed)
	}
}

func TestAnalyzer_AnalyzeValidation(t *testing.T) {
	a := NewAnalyzer(testAnalyzerConfig("http://127.0.0.1:1"))

	if _, err := a.Analyze(context.Background(), domain.OperationClassify, ""); !domain.IsPermanent(err) {
		t.Errorf("empty content: expected permanent error, got %v", err)
	}
	if _, err := a.Analyze(context.Background(), domain.OperationType("RESIZE"), "x"); !domain.IsPermanent(err) {
		t.Errorf("unknown operation: expected permanent error, got %v", err)
	}
}

func TestAnalyzer_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewAnalyzer(testAnalyzerConfig(srv.URL))
	if _, err := a.Analyze(context.Background(), domain.OperationDraft, "hello"); !domain.IsTransient(err) {
		t.Errorf("429: expected transient error, got %v", err)
	}
}

func TestAnalyzer_RejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	a := NewAnalyzer(testAnalyzerConfig(srv.URL))
	if _, err := a.Analyze(context.Background(), domain.OperationDraft, "hello"); !domain.IsPermanent(err) {
		t.Errorf("400: expected permanent error, got %v", err)
	}
}

func TestAnalyzer_ConnectionFailureIsTransient(t *testing.T) {
	a := NewAnalyzer(testAnalyzerConfig("http://127.0.0.1:1"))
	if _, err := a.Analyze(context.Background(), domain.OperationSentiment, "hello"); !domain.IsTransient(err) {
		t.Errorf("connection refused: expected transient error, got %v", err)
	}
}

func TestAnalyzer_MalformedResponseIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatCompletionBody("not json at all"))
	}))
	defer srv.Close()

	a := NewAnalyzer(testAnalyzerConfig(srv.URL))
	if _, err := a.Analyze(context.Background(), domain.OperationClassify, "hello"); !domain.IsTransient(err) {
		t.Errorf("malformed payload: expected transient error, got %v", err)
	}
}

func TestClassifyHTTPError(t *testing.T) {
	permanent := []int{400, 401, 403, 404, 422}
	for _, code := range permanent {
		if err := classifyHTTPError(code, "msg"); !domain.IsPermanent(err) {
			t.Errorf("code %d: expected permanent, got %v", code, err)
		}
	}
	transient := []int{429, 500, 502, 503, 504}
	for _, code := range transient {
		if err := classifyHTTPError(code, "msg"); !domain.IsTransient(err) {
			t.Errorf("code %d: expected transient, got %v", code, err)
		}
	}
}

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name      string
		op        domain.OperationType
		raw       string
		wantErr   bool
		transient bool
	}{
		{
			name: "valid classify",
			op:   domain.OperationClassify,
			raw:  `{"classification":"fyi","urgency":"low","confidence":0.8}`,
		},
		{
			name:      "classify missing classification",
			op:        domain.OperationClassify,
			raw:       `{"urgency":"low"}`,
			wantErr:   true,
			transient: true,
		},
		{
			name: "valid draft",
			op:   domain.OperationDraft,
			raw:  `{"draft":"Dear customer, ..."}`,
		},
		{
			name:      "draft missing body",
			op:        domain.OperationDraft,
			raw:       `{}`,
			wantErr:   true,
			transient: true,
		},
		{
			name: "sentiment without extras",
			op:   domain.OperationSentiment,
			raw:  `{"sentiment_score":-0.4}`,
		},
		{
			name:      "not json",
			op:        domain.OperationClassify,
			raw:       "I cannot classify this email.",
			wantErr:   true,
			transient: true,
		},
		{
			name: "fenced json",
			op:   domain.OperationClassify,
			raw:  "```json\n{\"classification\":\"billing\"}\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := decodeResult(tt.op, tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", result)
				}
				if tt.transient && !domain.IsTransient(err) {
					t.Errorf("expected transient, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  \n{\"a\":1}\n  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassifyBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		user := req.Messages[1].Content
		for _, marker := range []string{"Item 1:", "Item 2:"} {
			if !strings.Contains(user, marker) {
				t.Errorf("expected %q in batch prompt, got %q", marker, user)
			}
		}
		// Out of order on purpose; results must still land by item number.
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody(`[
			{"item":2,"classification":"billing","urgency":"low","confidence":0.7},
			{"item":1,"classification":"action_required","urgency":"high","confidence":0.9}
		]`))
	}))
	defer srv.Close()

	a := NewAnalyzer(testAnalyzerConfig(srv.URL))
	results, err := a.analyzeBatch(context.Background(), domain.OperationClassify, []string{"first email", "second email"})
	if err != nil {
		t.Fatalf("batch classify failed: %v", err)
	}
	if results[0].Classification != "action_required" || results[1].Classification != "billing" {
		t.Errorf("results not mapped by item number: %+v %+v", results[0], results[1])
	}
}

func TestClassifyBatch_MissingItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chatCompletionBody(`[{"item":1,"classification":"fyi"}]`))
	}))
	defer srv.Close()

	a := NewAnalyzer(testAnalyzerConfig(srv.URL))
	_, err := a.analyzeBatch(context.Background(), domain.OperationClassify, []string{"first", "second"})
	if !domain.IsTransient(err) {
		t.Errorf("expected transient error for incomplete batch, got %v", err)
	}
}

func TestSentimentBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "sentiment-model" {
			t.Errorf("expected sentiment-model, got %q", req.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody(`[
			{"item":1,"sentiment_score":-0.6,"confidence":0.9},
			{"item":2,"sentiment_score":0.4,"confidence":0.8}
		]`))
	}))
	defer srv.Close()

	a := NewAnalyzer(testAnalyzerConfig(srv.URL))
	results, err := a.analyzeBatch(context.Background(), domain.OperationSentiment, []string{"angry email", "friendly email"})
	if err != nil {
		t.Fatalf("batch sentiment failed: %v", err)
	}
	if results[0].SentimentScore != -0.6 || results[1].SentimentScore != 0.4 {
		t.Errorf("scores not mapped by item number: %+v %+v", results[0], results[1])
	}
	if results[0].ModelUsed != "sentiment-model" {
		t.Errorf("expected model recorded on result, got %q", results[0].ModelUsed)
	}
}

func TestCoalescer_BatchesConcurrentCalls(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody(`[
			{"item":1,"classification":"fyi","urgency":"low","confidence":0.8},
			{"item":2,"classification":"billing","urgency":"low","confidence":0.8}
		]`))
	}))
	defer srv.Close()

	cfg := testAnalyzerConfig(srv.URL)
	cfg.Coalesce = config.CoalesceConfig{Enabled: true, MaxBatch: 2, MaxWaitMs: 200}
	a := NewAnalyzer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	var wg sync.WaitGroup
	results := make([]*domain.ProcessingResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.Analyze(ctx, domain.OperationClassify, fmt.Sprintf("email %d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d failed: %v", i, errs[i])
		}
		if results[i] == nil || results[i].Classification == "" {
			t.Errorf("call %d: expected a classification, got %+v", i, results[i])
		}
	}
	if n := atomic.LoadInt64(&requests); n != 1 {
		t.Errorf("expected both calls to share one upstream request, got %d", n)
	}
}

func TestCoalescer_BatchesSentimentCalls(t *testing.T) {
	var requests int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody(`[
			{"item":1,"sentiment_score":-0.3,"confidence":0.9},
			{"item":2,"sentiment_score":0.7,"confidence":0.9}
		]`))
	}))
	defer srv.Close()

	cfg := testAnalyzerConfig(srv.URL)
	cfg.Coalesce = config.CoalesceConfig{Enabled: true, MaxBatch: 2, MaxWaitMs: 200}
	a := NewAnalyzer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	var wg sync.WaitGroup
	results := make([]*domain.ProcessingResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.Analyze(ctx, domain.OperationSentiment, fmt.Sprintf("email %d", i))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d failed: %v", i, errs[i])
		}
	}
	if results[0].SentimentScore == results[1].SentimentScore {
		t.Errorf("expected distinct per-item scores, got %f and %f",
			results[0].SentimentScore, results[1].SentimentScore)
	}
	if n := atomic.LoadInt64(&requests); n != 1 {
		t.Errorf("expected both calls to share one upstream request, got %d", n)
	}
}

func TestCoalescer_FlushesOnTimer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionBody(`[{"item":1,"classification":"fyi","urgency":"low","confidence":0.8}]`))
	}))
	defer srv.Close()

	cfg := testAnalyzerConfig(srv.URL)
	cfg.Coalesce = config.CoalesceConfig{Enabled: true, MaxBatch: 8, MaxWaitMs: 20}
	a := NewAnalyzer(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	start := time.Now()
	result, err := a.Analyze(ctx, domain.OperationClassify, "lonely email")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if result.Classification != "fyi" {
		t.Errorf("unexpected result: %+v", result)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("partial batch took too long to flush: %s", elapsed)
	}
}
