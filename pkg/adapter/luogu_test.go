package adapter

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLuoguParseProblemID(t *testing.T) {
	l := NewLuoguAdapter()

	cases := []struct {
		input string
		want  string
	}{
		{"P1001", "P1001"},
		{" B2001 ", "B2001"},
		{"U123456", "U123456"},
		{"https://www.luogu.com.cn/problem/P1001", "P1001"},
		{"https://www.luogu.com.cn/problem/P1001?contestId=5", "P1001"},
		{"/problem/1001", "P1001"},
		{"https://www.luogu.com.cn/problem/T200", "T200"},
		{"1001", ""},
		{"xyz", ""},
		{"https://example.com/other", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, l.ParseProblemID(tc.input), tc.input)
	}
}

func TestLuoguSupportsURL(t *testing.T) {
	l := NewLuoguAdapter()
	assert.True(t, l.SupportsURL("https://www.luogu.com.cn/problem/P1001"))
	assert.False(t, l.SupportsURL("https://hydro.ac/p/P1"))
	assert.Equal(t, "https://www.luogu.com.cn/problem/P1001", l.ProblemURL("P1001"))
}

const luoguProblemJSON = `{
	"pid": "P1001",
	"title": " A+B Problem ",
	"background": "Classic warmup.",
	"description": "Read two integers and print their sum.",
	"inputFormat": "Two integers a and b.",
	"outputFormat": "One integer, a+b.",
	"samples": [["1 2", "3"], ["bad"]],
	"hint": "Mind the range.",
	"difficulty": 1,
	"limits": {"time": [1000, 2000], "memory": [131072, 65536]},
	"provider": {"name": "luogu"}
}`

func TestParseLuoguPageLentille(t *testing.T) {
	body := fmt.Sprintf(
		`<html><script id="lentille-context" type="application/json">{"data":{"problem":%s}}</script></html>`,
		luoguProblemJSON)

	p, err := parseLuoguPage(body)
	require.NoError(t, err)
	assert.Equal(t, "P1001", p.Pid)
	assert.Equal(t, []int{1000, 2000}, p.Limits.Time)
}

func TestParseLuoguPageFeInjection(t *testing.T) {
	encoded := url.QueryEscape(fmt.Sprintf(`{"currentData":{"problem":%s}}`, luoguProblemJSON))
	body := fmt.Sprintf(
		`<html><script>window._feInjection = JSON.parse(decodeURIComponent("%s"));</script></html>`,
		encoded)

	p, err := parseLuoguPage(body)
	require.NoError(t, err)
	assert.Equal(t, "P1001", p.Pid)
	assert.Equal(t, "luogu", p.Provider.Name)
}

func TestParseLuoguPageWithoutData(t *testing.T) {
	_, err := parseLuoguPage("<html><body>not a problem page</body></html>")
	assert.Error(t, err)
}

func TestLuoguNormalize(t *testing.T) {
	body := fmt.Sprintf(
		`<script id="lentille-context">{"data":{"problem":%s}}</script>`, luoguProblemJSON)
	p, err := parseLuoguPage(body)
	require.NoError(t, err)

	l := NewLuoguAdapter()
	data := l.normalize("P1001", l.ProblemURL("P1001"), p)

	assert.Equal(t, "luogu_P1001", data.ID)
	assert.Equal(t, "luogu", data.Source)
	assert.Equal(t, "A+B Problem", data.Title)
	assert.Equal(t, "Classic warmup.\n\nRead two integers and print their sum.", data.Description)

	require.Len(t, data.Samples, 1, "malformed sample pairs are dropped")
	assert.Equal(t, "1 2", data.Samples[0].Input)
	assert.Equal(t, "3", data.Samples[0].Output)

	assert.Equal(t, 2000, data.TimeLimitMS, "per-case limits collapse to the maximum")
	assert.Equal(t, 128, data.MemoryLimitMB, "memory converts from KiB")
	assert.Equal(t, "入门", data.Difficulty)
	assert.Equal(t, "Mind the range.", data.Hints)
	assert.Equal(t, "luogu", data.Author)
	assert.Equal(t, "https://www.luogu.com.cn/problem/P1001", data.URL)
}

func TestLuoguNormalizeZeroLimits(t *testing.T) {
	l := NewLuoguAdapter()
	p := &luoguProblem{Pid: "P2", Title: "t", Difficulty: 99}
	data := l.normalize("P2", l.ProblemURL("P2"), p)
	assert.Equal(t, 0, data.TimeLimitMS)
	assert.Equal(t, 0, data.MemoryLimitMB)
	assert.Equal(t, "", data.Difficulty, "out-of-range difficulty stays unset")
	assert.NotNil(t, data.Tags)
}
