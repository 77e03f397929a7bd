package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ojobatch/ojo/pkg/adapter"
	"github.com/ojobatch/ojo/pkg/concurrency"
	"github.com/ojobatch/ojo/pkg/models"
	"github.com/ojobatch/ojo/pkg/prompt"
	"github.com/ojobatch/ojo/pkg/session"
)

// Solve stage error waits. Poll pacing lives in Config.
const (
	rateLimitedWaitLo = 60 * time.Second
	rateLimitedWaitHi = 90 * time.Second
	notExistWaitLo    = 15 * time.Second
	notExistWaitHi    = 25 * time.Second
	authExpiredWaitLo = 2 * time.Second
	authExpiredWaitHi = 3 * time.Second
)

// cePollGrace is how many leading compile-error-with-empty-text polls are
// treated as "still judging"; some judges report CE transiently while the
// submission is ingesting.
const cePollGrace = 2

// runSolve obtains a solution (reused or LLM-generated), submits it to
// the destination judge, and polls the verdict, annealing temperature on
// compile errors.
func (r *Runner) runSolve(ctx context.Context, rc *runContext) error {
	dest, err := r.destAdapter(rc)
	if err != nil {
		return err
	}
	submitter, ok := dest.(adapter.Submitter)
	if !ok {
		return NewStageError(KindInvalidInput,
			fmt.Sprintf("adapter %s cannot submit solutions", dest.Name()), nil)
	}

	realID, ok := r.ws.GetUploadRealID(rc.dir, dest.Name())
	if !ok {
		return NewStageError(KindInvalidInput, "skipped (no artifact): solve requires an uploaded problem id", nil)
	}

	p, err := r.ws.Load(rc.dir)
	if err != nil {
		return NewStageError(KindInvalidInput, "skipped (no artifact): solve requires problem data", err)
	}

	temperature := r.cfg.TemperatureStart
	retry := &retryContext{}
	forceRegenerate := false
	var lastErr error

	for attempt := 1; attempt <= r.cfg.SolveAttempts; attempt++ {
		if err := rc.checkCancelled(); err != nil {
			return err
		}
		rc.batcher.Logf("[solve] 第 %d/%d 次尝试 (temperature=%.2f)", attempt, r.cfg.SolveAttempts, temperature)

		verdict, err := r.solveAttempt(ctx, rc, dest, submitter, p, realID, retry, attempt, temperature, forceRegenerate)
		if err == nil && verdict != nil && verdict.IsAccepted {
			rc.batcher.Logf("[solve] ✓ Accepted (score=%d)", verdict.Score)
			return r.ws.SetProcessingStatus(rc.dir, models.StatusPatch{
				LastStage: models.StringPtr("solve"),
				OkSolve:   models.BoolPtr(true),
				SolvedAt:  models.TimePtr(time.Now()),
			})
		}

		switch {
		case err != nil:
			kind := Classify(err)
			if kind == KindCancelled {
				return err
			}
			lastErr = err
			rc.batcher.Logf("[solve] ✗ 尝试 %d 失败: %v", attempt, err)
			if attempt == r.cfg.SolveAttempts {
				break
			}
			if werr := r.solveErrorWait(rc, dest, kind); werr != nil {
				return werr
			}
		case verdict != nil:
			lastErr = fmt.Errorf("verdict: %s", verdict.Status)
			rc.batcher.Logf("[solve] ✗ 判题结果: %s", verdict.Status)
			if isCompileError(verdict.Status) {
				retry.add(attempt, "Compile Error: "+truncate(verdict.ErrorText, 300),
					truncate(r.ws.ReadSolution(rc.dir), 500), temperature)
				temperature = anneal(temperature, tempStepCE)
			} else {
				retry.add(attempt, verdict.Status, truncate(r.ws.ReadSolution(rc.dir), 500), temperature)
			}
			forceRegenerate = true
			if attempt < r.cfg.SolveAttempts {
				if werr := r.retryWait(rc); werr != nil {
					return werr
				}
			}
		}
	}

	_ = r.ws.SetProcessingStatus(rc.dir, models.StatusPatch{
		LastStage: models.StringPtr("solve"),
		OkSolve:   models.BoolPtr(false),
	})
	rc.batcher.Log("[solve] retry exceeded")
	return fmt.Errorf("solve retry exceeded: %w", lastErr)
}

// solveErrorWait applies the per-kind back-off between solve attempts.
func (r *Runner) solveErrorWait(rc *runContext, dest adapter.Adapter, kind Kind) error {
	switch kind {
	case KindRateLimited:
		r.rateGate.SetCooldown(rateLimitedWaitHi)
		return r.waitRange(rc, rateLimitedWaitLo, rateLimitedWaitHi)
	case KindNotFound:
		// The remote may still be indexing a just-uploaded problem.
		return r.waitRange(rc, notExistWaitLo, notExistWaitHi)
	case KindAuthExpired:
		rc.user.ClearAuth(dest.Name())
		rc.batcher.Log("[solve] ⚠ 登录状态已失效，准备重新登录")
		return r.waitRange(rc, authExpiredWaitLo, authExpiredWaitHi)
	default:
		return r.retryWait(rc)
	}
}

// solveAttempt performs one authenticate → code → submit → poll round.
func (r *Runner) solveAttempt(ctx context.Context, rc *runContext, dest adapter.Adapter, submitter adapter.Submitter,
	p *models.ProblemData, realID string, retry *retryContext, attempt int, temperature float32, forceRegenerate bool,
) (*adapter.SubmissionStatus, error) {
	auth, err := r.ensureAuth(ctx, rc, dest, submitter)
	if err != nil {
		return nil, err
	}

	code, err := r.solutionCode(ctx, rc, p, retry, attempt, temperature, forceRegenerate)
	if err != nil {
		return nil, err
	}

	if !r.rateGate.Wait(rc.cancelled) {
		return nil, ErrCancelled
	}

	// The submit gate spans the submit RPC and the first-poll delay so
	// two tasks can never hit the judge inside the same minimum interval.
	if err := r.submitGate.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquiring submit gate: %w", err)
	}
	submitResult, err := r.submitUnderGate(ctx, rc, submitter, realID, code, auth)
	r.submitGate.Release()
	if err != nil {
		return nil, err
	}

	rc.batcher.Logf("[solve] 已提交 (submission_id=%s)，等待判题...", submitResult.SubmissionID)
	return r.pollVerdict(ctx, rc, submitter, submitResult.SubmissionID, auth)
}

// ensureAuth returns the cached auth for the destination, authenticating
// and caching on a miss. Repeated login failures lock the (user, adapter)
// pair out for a cooling-off period.
func (r *Runner) ensureAuth(ctx context.Context, rc *runContext, dest adapter.Adapter, submitter adapter.Submitter) (*session.Auth, error) {
	if auth, ok := rc.user.GetAuth(dest.Name()); ok {
		return auth, nil
	}

	if blocked, remaining := r.logins.Blocked(rc.user.UserID, dest.Name()); blocked {
		return nil, NewStageError(KindRateLimited,
			fmt.Sprintf("%s login locked out for %s after repeated failures", dest.Name(), remaining.Round(time.Second)), nil)
	}

	rc.batcher.Logf("[solve] 正在登录 %s...", dest.Name())
	release, err := r.pool.Acquire(ctx, concurrency.SlotRemoteRead)
	if err != nil {
		return nil, fmt.Errorf("acquiring remote read slot: %w", err)
	}
	auth, err := submitter.Authenticate(ctx, rc.cc)
	release()
	if err != nil {
		if r.logins.RecordFailure(rc.user.UserID, dest.Name()) {
			rc.batcher.Logf("[solve] %s 登录失败次数过多，暂停登录", dest.Name())
		}
		return nil, fmt.Errorf("authenticating against %s: %w", dest.Name(), err)
	}
	r.logins.RecordSuccess(rc.user.UserID, dest.Name())
	rc.user.SetAuth(dest.Name(), auth.Token, auth.Client)
	cached, _ := rc.user.GetAuth(dest.Name())
	return cached, nil
}

// solutionCode returns the code to submit: the stored solution when
// reusable, otherwise a fresh LLM generation.
func (r *Runner) solutionCode(ctx context.Context, rc *runContext, p *models.ProblemData,
	retry *retryContext, attempt int, temperature float32, forceRegenerate bool,
) (string, error) {
	if !forceRegenerate && r.cfg.ReuseExistingSolution {
		if existing := r.ws.ReadSolution(rc.dir); !prompt.IsTrivialSolution(existing) {
			rc.batcher.Log("[solve] 复用已有 solution.cpp")
			return existing, nil
		}
	}

	refs := r.searchReferences(ctx, rc)
	promptText := r.prompts.Solution(p, retry.entries, refs)
	result, err := r.callLLM(ctx, rc, promptText, temperature)
	if err != nil {
		return "", fmt.Errorf("solution LLM call: %w", err)
	}

	code := prompt.ExtractCode(result.Content, "cpp", "c++")
	if code == "" {
		code = prompt.ExtractLastCode(result.Reasoning, "cpp", "c++")
	}
	if code == "" {
		retry.add(attempt, "empty solution response", "", temperature)
		return "", NewStageError(KindLLMEmptyResponse, "no solution code in LLM response", nil)
	}
	code, err = prompt.SanitizeSolutionCode(code)
	if err != nil {
		retry.add(attempt, err.Error(), "", temperature)
		return "", err
	}
	if err := r.ws.WriteSolution(rc.dir, code); err != nil {
		return "", fmt.Errorf("writing solution: %w", err)
	}
	return code, nil
}

// submitUnderGate submits the code and waits the first-poll delay while
// still holding the submit gate.
func (r *Runner) submitUnderGate(ctx context.Context, rc *runContext, submitter adapter.Submitter,
	realID, code string, auth *session.Auth,
) (*adapter.SubmitResult, error) {
	release, err := r.pool.Acquire(ctx, concurrency.SlotRemoteWrite)
	if err != nil {
		return nil, fmt.Errorf("acquiring remote write slot: %w", err)
	}
	language := submitter.DefaultLanguage("C++")
	result, err := submitter.SubmitSolution(ctx, rc.cc, realID, code, language, auth)
	release()
	if err != nil {
		return nil, fmt.Errorf("submitting solution: %w", err)
	}

	if !concurrency.InterruptibleSleep(r.cfg.FirstPollDelay, rc.cancelled) {
		return nil, ErrCancelled
	}
	return result, nil
}

// pollVerdict polls until a final verdict or the deadline. Leading
// compile-error polls with empty text count as "still judging".
func (r *Runner) pollVerdict(ctx context.Context, rc *runContext, submitter adapter.Submitter,
	submissionID string, auth *session.Auth,
) (*adapter.SubmissionStatus, error) {
	deadline := time.Now().Add(r.cfg.SolvePollDeadline)
	polls := 0

	for {
		if err := rc.checkCancelled(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("verdict polling timed out after %v", r.cfg.SolvePollDeadline)
		}

		release, err := r.pool.Acquire(ctx, concurrency.SlotRemoteRead)
		if err != nil {
			return nil, fmt.Errorf("acquiring remote read slot: %w", err)
		}
		status, err := submitter.GetSubmissionStatus(ctx, rc.cc, submissionID, auth)
		release()
		if err != nil {
			return nil, fmt.Errorf("polling submission %s: %w", submissionID, err)
		}
		polls++

		if status.IsFinal {
			if isCompileError(status.Status) && status.ErrorText == "" && polls <= cePollGrace {
				rc.batcher.Log("[solve] 判题中 (早期 CE 视为仍在评测)...")
			} else {
				return status, nil
			}
		} else if status.Status != "" {
			rc.batcher.Logf("[solve] 判题中: %s", status.Status)
		}

		if !concurrency.InterruptibleSleep(r.cfg.SolvePollInterval, rc.cancelled) {
			return nil, ErrCancelled
		}
	}
}

func isCompileError(status string) bool {
	s := strings.ToLower(status)
	return strings.Contains(s, "compile error") || s == "ce"
}
