package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/dubaigit/task-mail-sub001/internal/prompts"
)

// coalescer combines several pending inputs of one operation type into a
// single upstream request. A caller waits at most maxWait for the batch to
// fill before the batch is flushed; each batch is bounded by maxBatch.
// CLASSIFY and SENTIMENT coalesce well: their per-item outputs are small and
// the numbered-items prompt keeps responses attributable.
type coalescer struct {
	analyzer *Analyzer
	op       domain.OperationType
	maxBatch int
	maxWait  time.Duration
	reqCh    chan coalesceReq
}

type coalesceReq struct {
	content string
	respCh  chan coalesceResp
}

type coalesceResp struct {
	result *domain.ProcessingResult
	err    error
}

func newCoalescer(a *Analyzer, op domain.OperationType, maxBatch int, maxWait time.Duration) *coalescer {
	if maxBatch < 2 {
		maxBatch = 2
	}
	if maxWait <= 0 {
		maxWait = 150 * time.Millisecond
	}
	return &coalescer{
		analyzer: a,
		op:       op,
		maxBatch: maxBatch,
		maxWait:  maxWait,
		reqCh:    make(chan coalesceReq, maxBatch*2),
	}
}

// run collects requests into batches and flushes them. Blocks until ctx is
// cancelled. Flushing happens off the collection loop so a slow upstream
// call never stalls batch formation.
func (c *coalescer) run(ctx context.Context) {
	for {
		var first coalesceReq
		select {
		case <-ctx.Done():
			return
		case first = <-c.reqCh:
		}

		batch := []coalesceReq{first}
		timer := time.NewTimer(c.maxWait)

	fill:
		for len(batch) < c.maxBatch {
			select {
			case <-ctx.Done():
				timer.Stop()
				c.failAll(batch, domain.Transientf("coalescer shutting down"))
				return
			case req := <-c.reqCh:
				batch = append(batch, req)
			case <-timer.C:
				break fill
			}
		}
		timer.Stop()

		go c.flush(ctx, batch)
	}
}

func (c *coalescer) failAll(batch []coalesceReq, err error) {
	for _, req := range batch {
		req.respCh <- coalesceResp{err: err}
	}
}

// flush issues one upstream call for the whole batch and fans results back
// out to the waiting callers.
func (c *coalescer) flush(ctx context.Context, batch []coalesceReq) {
	contents := make([]string, len(batch))
	for i, req := range batch {
		contents[i] = req.content
	}

	results, err := c.analyzer.analyzeBatch(ctx, c.op, contents)
	if err != nil {
		c.failAll(batch, err)
		return
	}
	for i, req := range batch {
		req.respCh <- coalesceResp{result: results[i]}
	}
}

// submit hands one input to the coalescer and waits for its slot in a
// batched upstream call.
func (c *coalescer) submit(ctx context.Context, content string) (*domain.ProcessingResult, error) {
	req := coalesceReq{content: content, respCh: make(chan coalesceResp, 1)}

	select {
	case <-ctx.Done():
		return nil, domain.Transient(ctx.Err())
	case c.reqCh <- req:
	}

	select {
	case <-ctx.Done():
		return nil, domain.Transient(ctx.Err())
	case resp := <-req.respCh:
		return resp.result, resp.err
	}
}

type batchItemResult struct {
	Item           int     `json:"item"`
	Classification string  `json:"classification"`
	Urgency        string  `json:"urgency"`
	Confidence     float64 `json:"confidence"`
	SentimentScore float64 `json:"sentiment_score"`
}

func batchSystemPromptFor(op domain.OperationType) string {
	switch op {
	case domain.OperationClassify:
		return prompts.ClassifyBatchSystemPrompt
	case domain.OperationSentiment:
		return prompts.SentimentBatchSystemPrompt
	}
	return ""
}

// analyzeBatch runs one operation over several inputs with a single
// numbered-items upstream request, returning one result per input in order.
func (a *Analyzer) analyzeBatch(ctx context.Context, op domain.OperationType, contents []string) ([]*domain.ProcessingResult, error) {
	model := a.models[op]
	start := time.Now()

	var sb strings.Builder
	for i, content := range contents {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&sb, "Item %d:\n%s", i+1, content)
	}

	raw, err := a.complete(ctx, model, batchSystemPromptFor(op), sb.String())
	if err != nil {
		return nil, err
	}

	var items []batchItemResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &items); err != nil {
		return nil, domain.Transientf("malformed batch %s response: %w", op, err)
	}

	elapsed := time.Since(start).Milliseconds()
	results := make([]*domain.ProcessingResult, len(contents))
	for _, item := range items {
		idx := item.Item - 1
		if idx < 0 || idx >= len(contents) {
			continue
		}
		result := &domain.ProcessingResult{
			Confidence:       item.Confidence,
			ModelUsed:        model,
			ProcessingTimeMs: elapsed,
		}
		switch op {
		case domain.OperationClassify:
			result.Classification = item.Classification
			result.Urgency = item.Urgency
		case domain.OperationSentiment:
			result.SentimentScore = item.SentimentScore
		}
		results[idx] = result
	}
	for i, r := range results {
		if r == nil {
			return nil, domain.Transientf("batch %s response missing item %d", op, i+1)
		}
		if op == domain.OperationClassify && r.Classification == "" {
			return nil, domain.Transientf("classification missing for item %d in batch response", i+1)
		}
	}
	return results, nil
}
