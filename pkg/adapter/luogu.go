package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ojobatch/ojo/pkg/models"
)

const luoguBase = "https://www.luogu.com.cn"

var (
	// Problem ids look like P1001, B2001, U123456, T987.
	luoguIDPattern      = regexp.MustCompile(`^[PBUT]\d+$`)
	luoguURLPattern     = regexp.MustCompile(`/problem/([PBUT]?\d+)`)
	luoguFeInjection    = regexp.MustCompile(`window\._feInjection\s*=\s*JSON\.parse\(decodeURIComponent\("((?:[^"\\]|\\.)*)"\)\)`)
	luoguLentilleScript = regexp.MustCompile(`(?s)<script[^>]*id="lentille-context"[^>]*>(.*?)</script>`)
)

// Difficulty labels by luogu's numeric scale.
var luoguDifficulties = []string{
	"暂无评定", "入门", "普及−", "普及/提高−", "普及+/提高", "提高+/省选−", "省选/NOI−", "NOI/NOI+/CTSC",
}

// LuoguAdapter fetches statements from luogu.com.cn. The problem page
// embeds its full data model as JSON (URL-encoded in older page builds,
// a plain script tag in newer ones), so no credentials are needed for
// public problems.
type LuoguAdapter struct {
	timeout time.Duration
}

// NewLuoguAdapter creates the luogu fetcher.
func NewLuoguAdapter() *LuoguAdapter {
	return &LuoguAdapter{timeout: 30 * time.Second}
}

func (l *LuoguAdapter) Name() string               { return "luogu" }
func (l *LuoguAdapter) Capabilities() []Capability { return []Capability{CapFetchProblem} }
func (l *LuoguAdapter) Priority() int              { return 60 }
func (l *LuoguAdapter) BaseURL() string            { return luoguBase }
func (l *LuoguAdapter) Initialize(cc *Context) error {
	return nil
}
func (l *LuoguAdapter) HealthCheck(ctx context.Context) Health {
	return Health{Healthy: true, Status: HealthReady}
}
func (l *LuoguAdapter) Shutdown() error { return nil }

func (l *LuoguAdapter) SupportsURL(raw string) bool {
	return strings.Contains(raw, "luogu.com")
}

// ParseProblemID accepts a problem URL or a bare id like "P1001".
func (l *LuoguAdapter) ParseProblemID(input string) string {
	s := strings.TrimSpace(input)
	if luoguIDPattern.MatchString(s) {
		return s
	}
	if strings.Contains(s, "luogu.com") || strings.Contains(s, "/problem/") {
		if m := luoguURLPattern.FindStringSubmatch(s); m != nil {
			id := m[1]
			// Bare numeric ids in URLs mean the main problem set.
			if id[0] >= '0' && id[0] <= '9' {
				id = "P" + id
			}
			return id
		}
	}
	return ""
}

func (l *LuoguAdapter) ProblemURL(id string) string {
	return luoguBase + "/problem/" + id
}

// luoguProblem mirrors the problem object inside the page's embedded
// JSON. Both page builds use the same field names.
type luoguProblem struct {
	Pid          string     `json:"pid"`
	Title        string     `json:"title"`
	Background   string     `json:"background"`
	Description  string     `json:"description"`
	InputFormat  string     `json:"inputFormat"`
	OutputFormat string     `json:"outputFormat"`
	Samples      [][]string `json:"samples"`
	Hint         string     `json:"hint"`
	Difficulty   int        `json:"difficulty"`
	Limits       struct {
		Time   []int `json:"time"`
		Memory []int `json:"memory"`
	} `json:"limits"`
	Provider struct {
		Name string `json:"name"`
	} `json:"provider"`
}

// FetchProblem downloads the problem page and decodes the embedded data
// model into a normalized statement.
func (l *LuoguAdapter) FetchProblem(ctx context.Context, cc *Context, id string) (*models.ProblemData, error) {
	pageURL := l.ProblemURL(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", hydroUserAgent)

	client := &http.Client{Timeout: l.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("题目不存在: %s", id)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: HTTP %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pageURL, err)
	}

	p, err := parseLuoguPage(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing problem %s: %w", id, err)
	}
	return l.normalize(id, pageURL, p), nil
}

// parseLuoguPage extracts the problem object: the lentille-context script
// tag first, then the legacy URL-encoded _feInjection assignment.
func parseLuoguPage(body string) (*luoguProblem, error) {
	if m := luoguLentilleScript.FindStringSubmatch(body); m != nil {
		var payload struct {
			Data struct {
				Problem *luoguProblem `json:"problem"`
			} `json:"data"`
		}
		if err := json.Unmarshal([]byte(m[1]), &payload); err == nil && payload.Data.Problem != nil {
			return payload.Data.Problem, nil
		}
	}

	if m := luoguFeInjection.FindStringSubmatch(body); m != nil {
		unquoted, err := strconv.Unquote(`"` + m[1] + `"`)
		if err != nil {
			return nil, fmt.Errorf("unquoting injected data: %w", err)
		}
		decoded, err := url.QueryUnescape(unquoted)
		if err != nil {
			return nil, fmt.Errorf("decoding injected data: %w", err)
		}
		var payload struct {
			CurrentData struct {
				Problem *luoguProblem `json:"problem"`
			} `json:"currentData"`
		}
		if err := json.Unmarshal([]byte(decoded), &payload); err == nil && payload.CurrentData.Problem != nil {
			return payload.CurrentData.Problem, nil
		}
	}
	return nil, fmt.Errorf("no embedded problem data in page")
}

func (l *LuoguAdapter) normalize(id, pageURL string, p *luoguProblem) *models.ProblemData {
	description := p.Description
	if p.Background != "" {
		description = p.Background + "\n\n" + description
	}

	samples := make([]models.Sample, 0, len(p.Samples))
	for _, pair := range p.Samples {
		if len(pair) < 2 {
			continue
		}
		samples = append(samples, models.Sample{Input: pair[0], Output: pair[1]})
	}

	// Per-case limits collapse to the maximum; the judge config carries
	// a single number per problem.
	timeMS := maxOf(p.Limits.Time)
	memMB := maxOf(p.Limits.Memory) / 1024 // page reports KiB

	difficulty := ""
	if p.Difficulty > 0 && p.Difficulty < len(luoguDifficulties) {
		difficulty = luoguDifficulties[p.Difficulty]
	}

	return &models.ProblemData{
		ID:            l.Name() + "_" + id,
		Source:        l.Name(),
		Title:         strings.TrimSpace(p.Title),
		Description:   strings.TrimSpace(description),
		InputFormat:   strings.TrimSpace(p.InputFormat),
		OutputFormat:  strings.TrimSpace(p.OutputFormat),
		Samples:       samples,
		TimeLimitMS:   timeMS,
		MemoryLimitMB: memMB,
		Difficulty:    difficulty,
		Tags:          []string{},
		Hints:         strings.TrimSpace(p.Hint),
		Author:        p.Provider.Name,
		URL:           pageURL,
	}
}

func maxOf(values []int) int {
	max := 0
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	return max
}
