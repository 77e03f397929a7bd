package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ojobatch/ojo/pkg/concurrency"
	"github.com/ojobatch/ojo/pkg/models"
	"github.com/ojobatch/ojo/pkg/prompt"
	"github.com/ojobatch/ojo/pkg/workspace"
)

// runGen asks the LLM for a test-data generator, executes it, packages
// the tests, and self-validates an available reference solution against
// them. Temperature anneals across attempts.
func (r *Runner) runGen(ctx context.Context, rc *runContext) error {
	p, err := r.ws.Load(rc.dir)
	if err != nil {
		return NewStageError(KindInvalidInput, "skipped (no artifact): gen requires problem data", err)
	}

	temperature := r.cfg.TemperatureStart
	retry := &retryContext{}
	var lastErr error

	for attempt := 1; attempt <= r.cfg.GenAttempts; attempt++ {
		if err := rc.checkCancelled(); err != nil {
			return err
		}
		rc.batcher.Logf("[gen] 第 %d/%d 次尝试 (temperature=%.2f)", attempt, r.cfg.GenAttempts, temperature)

		// A re-entered gen starts from a clean slate; statement and
		// solution survive.
		if err := r.ws.ClearGenArtifacts(rc.dir, rc.canonicalID); err != nil {
			return fmt.Errorf("clearing stale gen artifacts: %w", err)
		}

		err := r.genAttempt(ctx, rc, p, retry, attempt, temperature)
		if err == nil {
			rc.batcher.Log("[gen] ✓ 测试数据生成完成")
			return r.ws.SetProcessingStatus(rc.dir, models.StatusPatch{
				LastStage:   models.StringPtr("gen"),
				OkGen:       models.BoolPtr(true),
				GeneratedAt: models.TimePtr(time.Now()),
			})
		}
		if Classify(err) == KindCancelled {
			return err
		}
		lastErr = err

		wait := func() error { return r.retryWait(rc) }
		switch {
		case Classify(err) == KindValidationFailed:
			temperature = anneal(temperature, tempStepValidation)
			wait = func() error { return r.validationWait(rc) }
		case strings.Contains(strings.ToLower(err.Error()), "compile error"):
			temperature = anneal(temperature, tempStepCE)
		}

		rc.batcher.Logf("[gen] ✗ 尝试 %d 失败: %v", attempt, err)
		if attempt < r.cfg.GenAttempts {
			if err := wait(); err != nil {
				return err
			}
		}
	}

	_ = r.ws.SetProcessingStatus(rc.dir, models.StatusPatch{
		LastStage: models.StringPtr("gen"),
		OkGen:     models.BoolPtr(false),
	})
	rc.batcher.Log("[gen] retry exceeded")
	return fmt.Errorf("gen retry exceeded: %w", lastErr)
}

// genAttempt runs one complete generation attempt.
func (r *Runner) genAttempt(ctx context.Context, rc *runContext, p *models.ProblemData, retry *retryContext, attempt int, temperature float32) error {
	refs := r.searchReferences(ctx, rc)
	promptText := r.prompts.Generator(p, retry.entries, refs)

	result, err := r.callLLM(ctx, rc, promptText, temperature)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return err
		}
		retry.add(attempt, err.Error(), "", temperature)
		return fmt.Errorf("generator LLM call: %w", err)
	}

	code := prompt.ExtractCode(result.Content, "python", "py")
	if code == "" {
		code = prompt.ExtractLastCode(result.Reasoning, "python", "py")
	}
	if code == "" {
		retry.add(attempt, "empty generator response", "", temperature)
		return NewStageError(KindLLMEmptyResponse, "no generator code in LLM response", nil)
	}

	code, err = r.prepareGenerator(ctx, rc, code, result.Content)
	if err != nil {
		retry.add(attempt, err.Error(), code, temperature)
		return err
	}

	rc.batcher.Log("[gen] 正在执行生成器...")
	if err := r.validator.RunGenerator(ctx, rc.dir, r.cfg.GeneratorTimeout); err != nil {
		retry.add(attempt, err.Error(), code, temperature)
		return err
	}

	if err := r.ws.NormalizeTestFiles(rc.dir); err != nil {
		return fmt.Errorf("normalizing test files: %w", err)
	}
	if err := r.ws.ValidateTestsComplete(rc.dir); err != nil {
		retry.add(attempt, err.Error(), code, temperature)
		return fmt.Errorf("incomplete test set: %w", err)
	}
	if _, err := r.ws.PackTestcases(rc.dir, rc.canonicalID); err != nil {
		return fmt.Errorf("packaging testcases: %w", err)
	}
	rc.batcher.Log("[gen] ✓ 测试数据已打包")

	return r.localValidation(ctx, rc, retry, attempt, temperature)
}

// prepareGenerator sanitizes and syntax-checks generator code, with one
// recovery extraction from the raw stream on syntax failure.
func (r *Runner) prepareGenerator(ctx context.Context, rc *runContext, code, rawContent string) (string, error) {
	clean, err := prompt.SanitizeGeneratorCode(code)
	if err != nil {
		return code, err
	}
	if err := r.ws.WriteGenerator(rc.dir, clean); err != nil {
		return clean, fmt.Errorf("writing generator: %w", err)
	}

	if err := r.validator.CheckGeneratorSyntax(ctx, rc.dir); err == nil {
		return clean, nil
	}

	// One recovery: the last fenced block sometimes holds the real code
	// when the model emitted multiple drafts.
	recovered := prompt.ExtractLastCode(rawContent, "python", "py")
	if recovered == "" || recovered == code {
		return clean, fmt.Errorf("generator compile error: syntax check failed")
	}
	clean, err = prompt.SanitizeGeneratorCode(recovered)
	if err != nil {
		return recovered, err
	}
	if err := r.ws.WriteGenerator(rc.dir, clean); err != nil {
		return clean, fmt.Errorf("writing recovered generator: %w", err)
	}
	if err := r.validator.CheckGeneratorSyntax(ctx, rc.dir); err != nil {
		return clean, fmt.Errorf("generator compile error: %w", err)
	}
	rc.batcher.Log("[gen] ⚠ 已从原始输出中恢复生成器代码")
	return clean, nil
}

// localValidation gates gen success on the stored solution reproducing
// every generated output. Without a solution the gate is vacuous and
// validation runs later, before upload, once a solution exists.
func (r *Runner) localValidation(ctx context.Context, rc *runContext, retry *retryContext, attempt int, temperature float32) error {
	solution := r.ws.ReadSolution(rc.dir)
	if strings.TrimSpace(solution) == "" {
		rc.batcher.Log("[gen] 无参考解，跳过本地验证")
		return nil
	}

	release, err := r.pool.AcquireTimeout(ctx, concurrency.SlotCompile, r.cfg.CompileAcquireTimeout)
	if err != nil {
		if errors.Is(err, concurrency.ErrAcquireTimeout) {
			retry.add(attempt, "compile slot timeout", "", temperature)
			return fmt.Errorf("local validation: %w", err)
		}
		return err
	}
	defer release()

	rc.batcher.Log("[gen] 正在本地验证参考解...")
	binPath, err := r.validator.CompileSolution(ctx, rc.dir)
	if err != nil {
		retry.add(attempt, err.Error(), truncate(solution, 500), temperature)
		_ = r.ws.SetValidationResult(rc.dir, false)
		return NewStageError(KindValidationFailed, err.Error(), nil)
	}

	failures, err := r.validator.ValidateSolution(ctx, rc.dir, binPath)
	if err != nil {
		return fmt.Errorf("running local validation: %w", err)
	}
	if len(failures) > 0 {
		summary := summarizeFailures(failures)
		retry.add(attempt, summary, truncate(solution, 500), temperature)
		_ = r.ws.SetValidationResult(rc.dir, false)
		return NewStageError(KindValidationFailed,
			fmt.Sprintf("local validation failed (%d/%d cases): %s",
				len(failures), workspace.TestCaseCount, truncate(summary, 300)), nil)
	}

	rc.batcher.Log("[gen] ✓ 本地验证通过")
	return r.ws.SetValidationResult(rc.dir, true)
}
