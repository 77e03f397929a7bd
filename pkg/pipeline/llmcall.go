package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ojobatch/ojo/pkg/concurrency"
	"github.com/ojobatch/ojo/pkg/llm"
)

// callLLM runs one streaming completion under the global LLM slot,
// forwarding every chunk to the task's log batcher. Reasoning chunks go
// to a distinct "[thinking]" channel; chain-of-thought never reaches the
// user logs as anything else.
func (r *Runner) callLLM(ctx context.Context, rc *runContext, promptText string, temperature float32) (*llm.Result, error) {
	client, err := r.llm.ClientFor(ctx, rc.task.UserID, rc.taskCfg.LLMProvider)
	if err != nil {
		return nil, NewStageError(KindInvalidInput, "resolving LLM client", err)
	}

	release, err := r.pool.Acquire(ctx, concurrency.SlotLLM)
	if err != nil {
		return nil, fmt.Errorf("acquiring LLM slot: %w", err)
	}
	defer release()

	if err := rc.checkCancelled(); err != nil {
		return nil, err
	}

	result, err := client.ChatCompletion(ctx, llm.Request{
		Prompt:      promptText,
		Temperature: temperature,
		Stream:      true,
	}, func(reasoning, content string) {
		for _, line := range chunkLines(reasoning) {
			rc.batcher.Log("[thinking] " + line)
		}
		for _, line := range chunkLines(content) {
			rc.batcher.Log(line)
		}
	})
	if err != nil {
		if Classify(err) == KindCancelled {
			return nil, ErrCancelled
		}
		return nil, err
	}
	return result, nil
}

// chunkLines splits a streaming delta into loggable lines, dropping
// whitespace-only fragments.
func chunkLines(chunk string) []string {
	if strings.TrimSpace(chunk) == "" {
		return nil
	}
	raw := strings.Split(strings.ReplaceAll(chunk, "\r\n", "\n"), "\n")
	lines := raw[:0]
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// searchReferences invokes the optional solution searcher hook. Failures
// degrade to "no references": the hook affects prompt quality only.
func (r *Runner) searchReferences(ctx context.Context, rc *runContext) string {
	if r.searcher == nil {
		return ""
	}
	p, err := r.ws.Load(rc.dir)
	if err != nil {
		return ""
	}
	refs, err := r.searcher.SearchSolutions(ctx, p)
	if err != nil {
		rc.batcher.Logf("参考题解检索失败: %v", err)
		return ""
	}
	if refs != "" {
		rc.batcher.Log("✓ 已找到参考题解")
	}
	return refs
}
