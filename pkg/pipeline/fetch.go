package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ojobatch/ojo/pkg/adapter"
	"github.com/ojobatch/ojo/pkg/concurrency"
	"github.com/ojobatch/ojo/pkg/models"
)

// runFetch obtains the problem statement. An existing problem_data.json
// is always reused, AC-confirmed or not, to avoid re-crawling the same
// statement; only a bare workspace hits the network.
func (r *Runner) runFetch(ctx context.Context, rc *runContext) error {
	if r.ws.HasProblemData(rc.dir) {
		if r.ws.IsCompleted(rc.dir) {
			rc.batcher.Log("[fetch] ✓ 复用已确认的题目数据")
		} else {
			rc.batcher.Log("[fetch] ✓ 复用已有题目数据")
		}
		return r.markFetchDone(rc)
	}

	a, originID, err := r.fetchAdapterFor(rc)
	if err != nil {
		return err
	}
	f, ok := a.(adapter.Fetcher)
	if !ok {
		return NewStageError(KindInvalidInput,
			fmt.Sprintf("adapter %s cannot fetch problems", a.Name()), nil)
	}

	rc.batcher.Logf("[fetch] 正在获取题目 %s (adapter=%s)", originID, a.Name())

	release, err := r.pool.Acquire(ctx, concurrency.SlotRemoteRead)
	if err != nil {
		return fmt.Errorf("acquiring remote read slot: %w", err)
	}
	p, err := f.FetchProblem(ctx, rc.cc, originID)
	release()
	if err != nil {
		if Classify(err) == KindNotFound {
			return NewStageError(KindNotFound, "failed(not_exist)", err)
		}
		return fmt.Errorf("fetching problem %s: %w", originID, err)
	}

	if err := r.ws.Save(rc.dir, p); err != nil {
		return fmt.Errorf("saving problem data: %w", err)
	}
	rc.batcher.Logf("[fetch] ✓ 已保存题目: %s", p.Title)
	return r.markFetchDone(rc)
}

func (r *Runner) markFetchDone(rc *runContext) error {
	return r.ws.SetProcessingStatus(rc.dir, models.StatusPatch{
		LastStage: models.StringPtr("fetch"),
		OkFetch:   models.BoolPtr(true),
		FetchedAt: models.TimePtr(time.Now()),
	})
}

// fetchAdapterFor resolves the fetch adapter: task-level per-problem
// override, then the global source adapter, then URL auto-detection.
func (r *Runner) fetchAdapterFor(rc *runContext) (adapter.Adapter, string, error) {
	if name := rc.taskCfg.FetchAdapterFor(rc.task.ProblemID); name != "" {
		a, ok := r.registry.Get(name)
		if !ok {
			return nil, "", NewStageError(KindInvalidInput,
				fmt.Sprintf("unknown fetch adapter %q", name), nil)
		}
		if f, isFetcher := a.(adapter.Fetcher); isFetcher {
			if id := f.ParseProblemID(rc.task.ProblemID); id != "" {
				return a, id, nil
			}
		}
		// The override adapter cannot parse the input; fall through to
		// auto-detection rather than failing the stage outright.
	}

	a, originID := r.resolver.Parse(rc.task.ProblemID)
	if a == nil || originID == "" {
		return nil, "", NewStageError(KindInvalidInput,
			fmt.Sprintf("no adapter recognizes problem input %q", rc.task.ProblemID), nil)
	}
	return a, originID, nil
}

// tryShortCircuit asks TitleSearcher destinations whether the problem
// already exists remotely. On a hit it records the remote id, marks every
// stage done, and stores the public URL.
func (r *Runner) tryShortCircuit(ctx context.Context, rc *runContext) (bool, error) {
	dest, err := r.destAdapter(rc)
	if err != nil {
		return false, nil // no destination configured, nothing to search
	}
	searcher, ok := dest.(adapter.TitleSearcher)
	if !ok {
		return false, nil
	}

	p, err := r.ws.Load(rc.dir)
	if err != nil || p.Title == "" {
		return false, nil
	}

	release, err := r.pool.Acquire(ctx, concurrency.SlotRemoteRead)
	if err != nil {
		return false, fmt.Errorf("acquiring remote read slot: %w", err)
	}
	remoteID, err := searcher.SearchExactTitle(ctx, rc.cc, p.Title)
	release()
	if err != nil {
		return false, fmt.Errorf("searching remote titles: %w", err)
	}
	if remoteID == "" {
		return false, nil
	}

	rc.batcher.Logf("[upload] ✓ 远端已有题目 (real_id=%s)，跳过后续阶段", remoteID)
	if err := r.ws.SetUploadRealID(rc.dir, dest.Name(), remoteID); err != nil {
		return false, fmt.Errorf("persisting remote id: %w", err)
	}
	if err := r.ws.SetProcessingStatus(rc.dir, models.StatusPatch{
		LastStage: models.StringPtr("upload"),
		OkGen:     models.BoolPtr(true),
		OkUpload:  models.BoolPtr(true),
		OkSolve:   models.BoolPtr(true),
		UploadedAt: models.TimePtr(time.Now()),
	}); err != nil {
		return false, fmt.Errorf("persisting short-circuit status: %w", err)
	}
	if rc.hooks.OnUploadedURL != nil {
		rc.hooks.OnUploadedURL(publicProblemURL(dest, remoteID))
	}
	return true, nil
}

// publicProblemURL builds the destination's public URL for a remote id,
// preferring the adapter's own URL builder.
func publicProblemURL(dest adapter.Adapter, realID string) string {
	if f, ok := dest.(adapter.Fetcher); ok {
		if url := f.ProblemURL(realID); url != "" {
			return url
		}
	}
	return dest.BaseURL() + "/problem/" + realID
}
