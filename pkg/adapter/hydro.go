package adapter

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ojobatch/ojo/pkg/models"
	"github.com/ojobatch/ojo/pkg/session"
	"github.com/ojobatch/ojo/pkg/workspace"
)

// hydroDefaultBase is used when the user configured no base_url.
const hydroDefaultBase = "https://hydro.ac"

// hydroDeleteBatch caps how many remote testdata files one delete request
// may name. Larger requests are rejected by the judge.
const hydroDeleteBatch = 20

// hydroAuthExpired carries the marker the pipeline classifies as an
// expired session.
const hydroAuthExpired = "登录状态已失效，请重新配置 Cookie"

const hydroUserAgent = "Mozilla/5.0 (X11; Linux x86_64) ojo/1.0"

var (
	hydroProblemRow   = regexp.MustCompile(`(?s)<tr[^>]*data-pid="([^"]+)"[^>]*>(.*?)</tr>`)
	hydroProblemLink  = regexp.MustCompile(`(?s)<a[^>]*href="[^"]*/p/[^"]*"[^>]*>(.*?)</a>`)
	hydroTagPattern   = regexp.MustCompile(`<[^>]+>`)
	hydroCsrfInput    = regexp.MustCompile(`name="csrfToken"[^>]*value="([^"]+)"`)
	hydroCsrfJSON     = regexp.MustCompile(`"csrfToken"\s*:\s*"([^"]+)"`)
	hydroRecordPath   = regexp.MustCompile(`/record/([0-9a-f]{24})`)
	hydroStatusText   = regexp.MustCompile(`(?s)record-status--text[^>]*>\s*(?:<[^>]*>\s*)*([^<]+?)\s*<`)
	hydroScoreSpan    = regexp.MustCompile(`class="[^"]*score[^"]*"[^>]*>\s*(\d+)`)
	hydroCompilerText = regexp.MustCompile(`(?s)<pre[^>]*>(.*?)</pre>`)
	hydroFileName     = regexp.MustCompile(`data-filename="([^"]+)"`)
	hydroTestEntry    = regexp.MustCompile(`^(\d+)\.(in|out)$`)
)

// Verdicts the judge reports while a record is still in flight.
var hydroPendingVerdicts = map[string]bool{
	"":          true,
	"Waiting":   true,
	"Pending":   true,
	"Judging":   true,
	"Compiling": true,
	"Fetched":   true,
	"Running":   true,
}

// HydroAdapter is the destination-side adapter for HydroOJ instances. It
// creates or updates remote problems from packaged testdata and submits
// generated solutions, authenticating with the user's stored session
// cookie. The instance is process-global; base URL, domain, and cookie
// are read per call from the calling user's config.
type HydroAdapter struct {
	timeout time.Duration
}

// NewHydroAdapter creates the HydroOJ adapter.
func NewHydroAdapter() *HydroAdapter {
	return &HydroAdapter{timeout: 30 * time.Second}
}

func (h *HydroAdapter) Name() string { return "hydro" }
func (h *HydroAdapter) Capabilities() []Capability {
	return []Capability{CapUploadData, CapSubmitSolution}
}
func (h *HydroAdapter) Priority() int    { return DefaultPriority }
func (h *HydroAdapter) BaseURL() string  { return hydroDefaultBase }
func (h *HydroAdapter) Initialize(cc *Context) error {
	return nil
}
func (h *HydroAdapter) HealthCheck(ctx context.Context) Health {
	return Health{Healthy: true, Status: HealthReady}
}
func (h *HydroAdapter) Shutdown() error { return nil }

// hydroConfig is one user's resolved connection settings.
type hydroConfig struct {
	base   string
	domain string
	cookie string
	prefix string
}

func (c hydroConfig) domainURL(path string) string {
	return c.base + "/d/" + c.domain + path
}

func (c hydroConfig) problemURL(pid string) string {
	return c.domainURL("/p/" + pid)
}

// userConfig reads and normalizes the calling user's settings. A base_url
// pasted with its /d/<domain> suffix still works: the suffix is stripped
// and, absent an explicit domain setting, reused as the domain.
func (h *HydroAdapter) userConfig(ctx context.Context, cc *Context) (hydroConfig, error) {
	values, err := cc.UserConfig(ctx, h.Name())
	if err != nil {
		return hydroConfig{}, fmt.Errorf("reading hydro config: %w", err)
	}

	cfg := hydroConfig{
		base:   strings.TrimRight(values["base_url"], "/"),
		domain: values["domain"],
		prefix: values["preferred_prefix"],
	}
	if cfg.base == "" {
		cfg.base = hydroDefaultBase
	}
	if idx := strings.Index(cfg.base, "/d/"); idx > 0 {
		if cfg.domain == "" {
			cfg.domain = strings.Trim(cfg.base[idx+len("/d/"):], "/")
		}
		cfg.base = cfg.base[:idx]
	}
	if cfg.domain == "" {
		cfg.domain = "system"
	}
	if cfg.prefix == "" {
		cfg.prefix = "P"
	}

	cfg.cookie = values["cookie"]
	if cfg.cookie == "" {
		if sid := values["sid"]; sid != "" {
			cfg.cookie = "sid=" + sid
			if sig := values["sid.sig"]; sig != "" {
				cfg.cookie += "; sid.sig=" + sig
			}
		}
	}
	if cfg.cookie == "" {
		return hydroConfig{}, fmt.Errorf("hydro 未配置登录 Cookie (sid)")
	}
	return cfg, nil
}

// newClient builds the adapter's HTTP client. Redirects are never
// followed: the import and submit endpoints answer with a Location the
// caller must inspect, and a redirect to /login means the cookie died.
func (h *HydroAdapter) newClient() *http.Client {
	return &http.Client{
		Timeout: h.timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (h *HydroAdapter) do(ctx context.Context, client *http.Client, cookie, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", hydroUserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return client.Do(req)
}

func isLoginRedirect(resp *http.Response) bool {
	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusSeeOther {
		return false
	}
	return strings.Contains(resp.Header.Get("Location"), "/login")
}

// Authenticate verifies the stored cookie against the problem list and
// returns an auth entry whose token is the cookie itself. HydroOJ has no
// separate login call here: the user pastes a browser session.
func (h *HydroAdapter) Authenticate(ctx context.Context, cc *Context) (*session.Auth, error) {
	cfg, err := h.userConfig(ctx, cc)
	if err != nil {
		return nil, err
	}
	client := h.newClient()

	resp, err := h.do(ctx, client, cfg.cookie, http.MethodGet, cfg.domainURL("/p"), nil, "")
	if err != nil {
		return nil, fmt.Errorf("probing hydro session: %w", err)
	}
	defer resp.Body.Close()
	if isLoginRedirect(resp) {
		return nil, fmt.Errorf("%s", hydroAuthExpired)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("hydro session probe failed: HTTP %d", resp.StatusCode)
	}

	return &session.Auth{Token: cfg.cookie, Client: client, CreatedAt: time.Now()}, nil
}

// ensureAuth reuses a live auth or builds a fresh one.
func (h *HydroAdapter) ensureAuth(ctx context.Context, cc *Context, auth *session.Auth) (*session.Auth, error) {
	if auth != nil && !auth.Expired() && auth.Client != nil {
		return auth, nil
	}
	return h.Authenticate(ctx, cc)
}

// SearchExactTitle looks the title up in the domain's problem list and
// returns the pid of the row whose title matches after whitespace
// normalization, or "" when no row does.
func (h *HydroAdapter) SearchExactTitle(ctx context.Context, cc *Context, title string) (string, error) {
	cfg, err := h.userConfig(ctx, cc)
	if err != nil {
		return "", err
	}
	wanted := normalizeTitle(title)
	if wanted == "" {
		return "", nil
	}

	searchURL := cfg.domainURL("/p?q=" + url.QueryEscape(strings.TrimSpace(title)))
	resp, err := h.do(ctx, h.newClient(), cfg.cookie, http.MethodGet, searchURL, nil, "")
	if err != nil {
		return "", fmt.Errorf("searching hydro problems: %w", err)
	}
	defer resp.Body.Close()
	if isLoginRedirect(resp) {
		return "", fmt.Errorf("%s", hydroAuthExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("hydro search failed: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("reading search response: %w", err)
	}

	for _, row := range hydroProblemRow.FindAllStringSubmatch(string(body), -1) {
		pid, cell := row[1], row[2]
		link := hydroProblemLink.FindStringSubmatch(cell)
		if link == nil {
			continue
		}
		if normalizeTitle(link[1]) == wanted {
			return pid, nil
		}
	}
	return "", nil
}

// normalizeTitle strips markup and collapses all whitespace runs so
// "A + B" and "A  +  B\n" compare equal.
func normalizeTitle(s string) string {
	s = hydroTagPattern.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// UploadTestcase creates or updates the remote problem. With skipUpdate
// false an exact-title match reroutes to a testdata update of the
// existing problem; otherwise the statement and renumbered tests are
// packed into a hydro import zip and a new problem is created.
func (h *HydroAdapter) UploadTestcase(ctx context.Context, cc *Context, problemID, archivePath string, auth *session.Auth, skipUpdate bool) (*UploadResult, error) {
	cfg, err := h.userConfig(ctx, cc)
	if err != nil {
		return nil, err
	}
	auth, err = h.ensureAuth(ctx, cc, auth)
	if err != nil {
		return nil, err
	}

	problem, err := loadWorkspaceProblem(archivePath)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(problem.Title)
	if title == "" {
		title = problemID
	}

	if !skipUpdate {
		existing, err := h.SearchExactTitle(ctx, cc, title)
		if err != nil {
			return nil, err
		}
		if existing != "" {
			if err := h.updateTestdata(ctx, cfg, auth, existing, archivePath); err != nil {
				return nil, err
			}
			return &UploadResult{
				RealID:   existing,
				Created:  false,
				Message:  "已更新既有题目的测试数据",
				Response: map[string]any{"url": cfg.problemURL(existing)},
			}, nil
		}
	}

	zipPath, cleanup, err := packHydroImportZip(problem, archivePath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	realID, raw, err := h.importProblem(ctx, cfg, auth, zipPath, cc, title)
	if err != nil {
		return nil, err
	}
	raw["url"] = cfg.problemURL(realID)
	return &UploadResult{
		RealID:   realID,
		Created:  true,
		Message:  "已创建远端题目",
		Response: raw,
	}, nil
}

// SupportsFormat accepts the workspace's zip archives.
func (h *HydroAdapter) SupportsFormat(kind string) bool {
	switch strings.ToLower(kind) {
	case "zip", "hydro":
		return true
	}
	return false
}

// loadWorkspaceProblem reads problem_data.json from the archive's
// workspace directory.
func loadWorkspaceProblem(archivePath string) (*models.ProblemData, error) {
	path := filepath.Join(filepath.Dir(archivePath), workspace.ProblemDataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading problem data: %w", err)
	}
	var p models.ProblemData
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing problem data: %w", err)
	}
	return &p, nil
}

// packHydroImportZip rewraps the workspace testcase archive into the
// layout /problem/import/hydro expects: problem_zh.md, problem.yaml, and
// testdata/ with pairs renumbered from 1. Returns the temp zip path and
// a cleanup func.
func packHydroImportZip(p *models.ProblemData, archivePath string) (string, func(), error) {
	src, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("opening testcase archive: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "hydro-import-*.zip")
	if err != nil {
		return "", nil, fmt.Errorf("creating import zip: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	zw := zip.NewWriter(tmp)
	fail := func(err error) (string, func(), error) {
		zw.Close()
		tmp.Close()
		cleanup()
		return "", nil, err
	}

	writeEntry := func(name string, data []byte) error {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("adding %s: %w", name, err)
		}
		_, err = w.Write(data)
		return err
	}

	if err := writeEntry("problem_zh.md", []byte(workspace.RenderStatement(p))); err != nil {
		return fail(err)
	}

	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	meta, err := yaml.Marshal(map[string]any{"title": p.Title, "tag": tags})
	if err != nil {
		return fail(fmt.Errorf("encoding problem.yaml: %w", err))
	}
	if err := writeEntry("problem.yaml", meta); err != nil {
		return fail(err)
	}

	timeMS, memMB := p.TimeLimitMS, p.MemoryLimitMB
	if timeMS <= 0 {
		timeMS = 1000
	}
	if memMB <= 0 {
		memMB = 256
	}
	judgeCfg := fmt.Sprintf("time: %dms\nmemory: %dm\n", timeMS, memMB)
	if err := writeEntry("testdata/config.yaml", []byte(judgeCfg)); err != nil {
		return fail(err)
	}

	for _, f := range src.File {
		name, ok := renumberTestFile(f.Name)
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fail(fmt.Errorf("opening %s: %w", f.Name, err))
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fail(fmt.Errorf("reading %s: %w", f.Name, err))
		}
		if err := writeEntry("testdata/"+name, data); err != nil {
			return fail(err)
		}
	}

	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("finalizing import zip: %w", err))
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("closing import zip: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

// renumberTestFile maps the workspace's 0-based pair names onto the
// judge's 1-based convention ("0.in" becomes "1.in").
func renumberTestFile(name string) (string, bool) {
	m := hydroTestEntry.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%d.%s", n+1, m[2]), true
}

// importProblem posts the zip to the hydro import endpoint and pins down
// the new problem's pid: JSON body first, then the redirect Location,
// then a title-search fallback for deployments that answer with neither.
func (h *HydroAdapter) importProblem(ctx context.Context, cfg hydroConfig, auth *session.Auth, zipPath string, cc *Context, title string) (string, map[string]any, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "problem.zip")
	if err != nil {
		return "", nil, err
	}
	f, err := os.Open(zipPath)
	if err != nil {
		return "", nil, fmt.Errorf("opening import zip: %w", err)
	}
	_, err = io.Copy(part, f)
	f.Close()
	if err != nil {
		return "", nil, fmt.Errorf("buffering import zip: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", nil, err
	}

	resp, err := h.do(ctx, auth.Client, auth.Token, http.MethodPost,
		cfg.domainURL("/problem/import/hydro"), &buf, mw.FormDataContentType())
	if err != nil {
		return "", nil, fmt.Errorf("importing problem: %w", err)
	}
	defer resp.Body.Close()

	if isLoginRedirect(resp) {
		return "", nil, fmt.Errorf("%s", hydroAuthExpired)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", nil, fmt.Errorf("hydro 导入接口限流: HTTP 429")
	}

	raw := map[string]any{}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusOK:
		var payload map[string]any
		if json.Unmarshal(body, &payload) == nil {
			raw = payload
			for _, key := range []string{"pid", "problemId", "id"} {
				if pid := stringifyID(payload[key]); pid != "" {
					return pid, raw, nil
				}
			}
		}
	case resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther:
		loc := resp.Header.Get("Location")
		raw["location"] = loc
		if idx := strings.LastIndex(loc, "/p/"); idx >= 0 {
			pid := strings.Trim(loc[idx+len("/p/"):], "/")
			if pid != "" {
				return pid, raw, nil
			}
		}
	default:
		return "", nil, fmt.Errorf("hydro import failed: HTTP %d", resp.StatusCode)
	}

	// The import went through but named no pid. Newly imported problems
	// index within a few seconds, so retry the title search briefly.
	for attempt := 1; attempt <= 3; attempt++ {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 1500 * time.Millisecond):
		}
		pid, err := h.SearchExactTitle(ctx, cc, title)
		if err != nil {
			return "", nil, err
		}
		if pid != "" {
			return pid, raw, nil
		}
	}
	return "", nil, fmt.Errorf("hydro 导入成功但未能确定题目编号 (title=%q)", title)
}

func stringifyID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	}
	return ""
}

// updateTestdata replaces an existing problem's testdata: list the remote
// files, delete them in batches the judge accepts, then upload the new
// pairs one file at a time.
func (h *HydroAdapter) updateTestdata(ctx context.Context, cfg hydroConfig, auth *session.Auth, pid, archivePath string) error {
	filesURL := cfg.problemURL(pid) + "/files?d=testdata&pjax=1"

	resp, err := h.do(ctx, auth.Client, auth.Token, http.MethodGet, filesURL, nil, "")
	if err != nil {
		return fmt.Errorf("listing remote testdata: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	resp.Body.Close()
	if isLoginRedirect(resp) {
		return fmt.Errorf("%s", hydroAuthExpired)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing remote testdata: HTTP %d", resp.StatusCode)
	}

	var remote []string
	for _, m := range hydroFileName.FindAllStringSubmatch(string(body), -1) {
		remote = append(remote, m[1])
	}

	for start := 0; start < len(remote); start += hydroDeleteBatch {
		end := start + hydroDeleteBatch
		if end > len(remote) {
			end = len(remote)
		}
		payload, err := json.Marshal(map[string]any{
			"operation": "delete_files",
			"files":     remote[start:end],
			"type":      "testdata",
		})
		if err != nil {
			return err
		}
		resp, err := h.do(ctx, auth.Client, auth.Token, http.MethodPost,
			filesURL, bytes.NewReader(payload), "application/json")
		if err != nil {
			return fmt.Errorf("deleting remote testdata: %w", err)
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		if isLoginRedirect(resp) {
			return fmt.Errorf("%s", hydroAuthExpired)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("deleting remote testdata: HTTP %d", resp.StatusCode)
		}
	}

	src, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening testcase archive: %w", err)
	}
	defer src.Close()

	for _, f := range src.File {
		name, ok := renumberTestFile(f.Name)
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", f.Name, err)
		}
		if err := h.uploadOneFile(ctx, auth, filesURL, name, data); err != nil {
			return err
		}
	}
	return nil
}

// uploadOneFile pushes a single testdata file. The endpoint takes one
// file per request.
func (h *HydroAdapter) uploadOneFile(ctx context.Context, auth *session.Auth, filesURL, name string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("filename", name); err != nil {
		return err
	}
	if err := mw.WriteField("type", "testdata"); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := h.do(ctx, auth.Client, auth.Token, http.MethodPost,
		filesURL, &buf, mw.FormDataContentType())
	if err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if isLoginRedirect(resp) {
		return fmt.Errorf("%s", hydroAuthExpired)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("uploading %s: HTTP %d", name, resp.StatusCode)
	}
	return nil
}

// SubmitSolution posts code to the problem's submit endpoint and returns
// the record id parsed from the redirect.
func (h *HydroAdapter) SubmitSolution(ctx context.Context, cc *Context, problemID, code, languageKey string, auth *session.Auth) (*SubmitResult, error) {
	cfg, err := h.userConfig(ctx, cc)
	if err != nil {
		return nil, err
	}
	auth, err = h.ensureAuth(ctx, cc, auth)
	if err != nil {
		return nil, err
	}
	if languageKey == "" {
		languageKey = h.DefaultLanguage("C++")
	}

	submitURL := cfg.problemURL(problemID) + "/submit"

	resp, err := h.do(ctx, auth.Client, auth.Token, http.MethodGet, submitURL, nil, "")
	if err != nil {
		return nil, fmt.Errorf("loading submit page: %w", err)
	}
	page, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	resp.Body.Close()
	if isLoginRedirect(resp) {
		return nil, fmt.Errorf("%s", hydroAuthExpired)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("题目不存在: %s", problemID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loading submit page: HTTP %d", resp.StatusCode)
	}
	csrf := extractCsrfToken(string(page))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{"lang": languageKey, "code": code}
	if csrf != "" {
		fields["csrfToken"] = csrf
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err = h.do(ctx, auth.Client, auth.Token, http.MethodPost, submitURL, &buf, mw.FormDataContentType())
	if err != nil {
		return nil, fmt.Errorf("submitting solution: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if isLoginRedirect(resp) {
		return nil, fmt.Errorf("%s", hydroAuthExpired)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("提交频率过高: HTTP 429")
	}

	rid := ""
	switch resp.StatusCode {
	case http.StatusFound, http.StatusSeeOther:
		if m := hydroRecordPath.FindStringSubmatch(resp.Header.Get("Location")); m != nil {
			rid = m[1]
		}
	case http.StatusOK:
		var payload struct {
			RID string `json:"rid"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.RID != "" {
			rid = payload.RID
		} else if m := hydroRecordPath.FindStringSubmatch(string(body)); m != nil {
			rid = m[1]
		}
	default:
		return nil, fmt.Errorf("submit failed: HTTP %d", resp.StatusCode)
	}
	if rid == "" {
		return nil, fmt.Errorf("submit accepted but no record id in response")
	}

	return &SubmitResult{
		SubmissionID: rid,
		Status:       "Waiting",
		RecordURL:    cfg.domainURL("/record/" + rid),
	}, nil
}

func extractCsrfToken(page string) string {
	if m := hydroCsrfInput.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	if m := hydroCsrfJSON.FindStringSubmatch(page); m != nil {
		return m[1]
	}
	return ""
}

// GetSubmissionStatus scrapes the record page for the verdict and score.
// A verdict outside the pending set is final; 100 points or an explicit
// Accepted both count as accepted.
func (h *HydroAdapter) GetSubmissionStatus(ctx context.Context, cc *Context, submissionID string, auth *session.Auth) (*SubmissionStatus, error) {
	cfg, err := h.userConfig(ctx, cc)
	if err != nil {
		return nil, err
	}
	auth, err = h.ensureAuth(ctx, cc, auth)
	if err != nil {
		return nil, err
	}

	resp, err := h.do(ctx, auth.Client, auth.Token, http.MethodGet,
		cfg.domainURL("/record/"+submissionID), nil, "")
	if err != nil {
		return nil, fmt.Errorf("loading record page: %w", err)
	}
	defer resp.Body.Close()
	if isLoginRedirect(resp) {
		return nil, fmt.Errorf("%s", hydroAuthExpired)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("record not found: %s", submissionID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("loading record page: HTTP %d", resp.StatusCode)
	}
	page, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading record page: %w", err)
	}
	body := string(page)

	verdict := ""
	if m := hydroStatusText.FindStringSubmatch(body); m != nil {
		verdict = strings.TrimSpace(html.UnescapeString(m[1]))
	}
	score := 0
	if m := hydroScoreSpan.FindStringSubmatch(body); m != nil {
		score, _ = strconv.Atoi(m[1])
	}

	status := &SubmissionStatus{
		Status:     verdict,
		Score:      score,
		IsAccepted: score == 100 || verdict == "Accepted",
		IsFinal:    !hydroPendingVerdicts[verdict],
		Raw:        map[string]any{"verdict": verdict, "score": score},
	}
	if strings.Contains(verdict, "Compile Error") {
		if m := hydroCompilerText.FindStringSubmatch(body); m != nil {
			status.ErrorText = strings.TrimSpace(html.UnescapeString(hydroTagPattern.ReplaceAllString(m[1], "")))
		}
	}
	return status, nil
}

// SupportedLanguages lists the language keys a stock deployment ships.
func (h *HydroAdapter) SupportedLanguages() []string {
	return []string{"cc.cc17o2", "cc.cc14o2", "cc.cc98", "py.py3", "java", "pas"}
}

// DefaultLanguage maps a loose hint like "C++" onto a judge key.
func (h *HydroAdapter) DefaultLanguage(hint string) string {
	switch lower := strings.ToLower(hint); {
	case strings.Contains(lower, "py"):
		return "py.py3"
	case strings.Contains(lower, "java"):
		return "java"
	default:
		return "cc.cc17o2"
	}
}
