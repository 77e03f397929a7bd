package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ojobatch/ojo/pkg/adapter"
	"github.com/ojobatch/ojo/pkg/concurrency"
	"github.com/ojobatch/ojo/pkg/models"
	"github.com/ojobatch/ojo/pkg/workspace"
)

// uploadBackoffStep is the linear per-attempt delay: 5s, 10s, 15s.
const uploadBackoffStep = 5 * time.Second

// runUpload pushes the statement and testcase archive to the destination
// judge, creating or updating the remote problem, and records the remote
// id plus the public URL.
func (r *Runner) runUpload(ctx context.Context, rc *runContext) error {
	dest, err := r.destAdapter(rc)
	if err != nil {
		return err
	}
	uploader, ok := dest.(adapter.Uploader)
	if !ok {
		return NewStageError(KindInvalidInput,
			fmt.Sprintf("adapter %s cannot upload testdata", dest.Name()), nil)
	}

	st, err := r.ws.GetProcessingStatus(rc.dir)
	if err != nil {
		return fmt.Errorf("reading processing status: %w", err)
	}
	if !st.OkGen && !(st.Completed() && r.ws.HasArchive(rc.dir, rc.canonicalID)) {
		return NewStageError(KindInvalidInput, "skipped (no artifact): upload requires generated testdata", nil)
	}
	if !st.ValidationPassed {
		// Last-chance validation. Without a solution the check stays
		// vacuous and the upload proceeds on the normalized archive.
		if err := r.lastChanceValidation(ctx, rc); err != nil {
			return err
		}
	}

	archivePath := workspace.ArchivePath(rc.dir, rc.canonicalID)
	auth, _ := rc.user.GetAuth(dest.Name())

	var result *adapter.UploadResult
	var lastErr error
	for attempt := 1; attempt <= r.cfg.UploadAttempts; attempt++ {
		if err := rc.checkCancelled(); err != nil {
			return err
		}
		rc.batcher.Logf("[upload] 第 %d/%d 次上传 (adapter=%s)", attempt, r.cfg.UploadAttempts, dest.Name())

		release, err := r.pool.Acquire(ctx, concurrency.SlotRemoteWrite)
		if err != nil {
			return fmt.Errorf("acquiring remote write slot: %w", err)
		}
		result, err = uploader.UploadTestcase(ctx, rc.cc, rc.canonicalID, archivePath, auth, false)
		release()
		if err == nil {
			break
		}
		lastErr = err

		kind := Classify(err)
		if kind == KindInvalidInput || kind == KindNotFound {
			// Integrity refusals and bad inputs are terminal.
			return fmt.Errorf("upload rejected: %w", err)
		}
		rc.batcher.Logf("[upload] ✗ 尝试 %d 失败: %v", attempt, err)
		if attempt < r.cfg.UploadAttempts {
			if err := r.waitJitter(rc, time.Duration(attempt)*uploadBackoffStep, 0); err != nil {
				return err
			}
		}
	}
	if result == nil {
		return fmt.Errorf("upload retry exceeded: %w", lastErr)
	}

	realID := extractRealID(result)
	if realID == "" {
		return fmt.Errorf("upload succeeded but no real_id in adapter response")
	}
	if err := r.ws.SetUploadRealID(rc.dir, dest.Name(), realID); err != nil {
		return fmt.Errorf("persisting real_id: %w", err)
	}
	if err := r.ws.SetProcessingStatus(rc.dir, models.StatusPatch{
		LastStage:  models.StringPtr("upload"),
		OkUpload:   models.BoolPtr(true),
		UploadedAt: models.TimePtr(time.Now()),
	}); err != nil {
		return fmt.Errorf("persisting upload status: %w", err)
	}

	url := publicProblemURL(dest, realID)
	if rc.hooks.OnUploadedURL != nil {
		rc.hooks.OnUploadedURL(url)
	}
	verb := "更新"
	if result.Created {
		verb = "创建"
	}
	rc.batcher.Logf("[upload] ✓ 已%s远端题目 (real_id=%s) %s", verb, realID, url)
	return nil
}

// lastChanceValidation re-runs local validation before upload when gen
// recorded no pass. Missing solution code degrades to a warning.
func (r *Runner) lastChanceValidation(ctx context.Context, rc *runContext) error {
	if strings.TrimSpace(r.ws.ReadSolution(rc.dir)) == "" {
		rc.batcher.Log("[upload] ⚠ 无参考解可验证，直接上传")
		return nil
	}

	release, err := r.pool.AcquireTimeout(ctx, concurrency.SlotCompile, r.cfg.CompileAcquireTimeout)
	if err != nil {
		if errors.Is(err, concurrency.ErrAcquireTimeout) {
			return fmt.Errorf("pre-upload validation: %w", err)
		}
		return err
	}
	defer release()

	rc.batcher.Log("[upload] 上传前重新验证参考解...")
	binPath, err := r.validator.CompileSolution(ctx, rc.dir)
	if err != nil {
		_ = r.ws.SetValidationResult(rc.dir, false)
		return NewStageError(KindValidationFailed, err.Error(), nil)
	}
	failures, err := r.validator.ValidateSolution(ctx, rc.dir, binPath)
	if err != nil {
		return fmt.Errorf("running pre-upload validation: %w", err)
	}
	if len(failures) > 0 {
		_ = r.ws.SetValidationResult(rc.dir, false)
		return NewStageError(KindValidationFailed,
			fmt.Sprintf("pre-upload validation failed: %s", truncate(summarizeFailures(failures), 300)), nil)
	}
	return r.ws.SetValidationResult(rc.dir, true)
}

// extractRealID pulls the remote problem id from an upload result:
// top-level real_id first, then the nested response, then a URL parse.
func extractRealID(result *adapter.UploadResult) string {
	if result.RealID != "" {
		return result.RealID
	}
	if v, ok := result.Response["real_id"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
		if f, ok := v.(float64); ok {
			return strings.TrimSuffix(fmt.Sprintf("%v", f), ".0")
		}
	}
	if v, ok := result.Response["url"]; ok {
		if s, ok := v.(string); ok {
			if idx := strings.LastIndexByte(strings.TrimRight(s, "/"), '/'); idx >= 0 {
				return strings.TrimRight(s, "/")[idx+1:]
			}
		}
	}
	return ""
}
