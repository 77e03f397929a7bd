package adapter

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ojobatch/ojo/pkg/models"
	"github.com/ojobatch/ojo/pkg/session"
	"github.com/ojobatch/ojo/pkg/workspace"
)

// stubConfig implements ConfigProvider over a fixed map.
type stubConfig map[string]map[string]string

func (s stubConfig) AdapterConfig(_ context.Context, _ int64, adapterName string) (map[string]string, error) {
	if values, ok := s[adapterName]; ok {
		return values, nil
	}
	return map[string]string{}, nil
}

func hydroContext(baseURL string) *Context {
	return &Context{
		UserID: 1,
		Config: stubConfig{"hydro": {
			"base_url": baseURL,
			"domain":   "system",
			"cookie":   "sid=abc; sid.sig=def",
		}},
	}
}

func hydroAuth(h *HydroAdapter) *session.Auth {
	return &session.Auth{Token: "sid=abc; sid.sig=def", Client: h.newClient(), CreatedAt: time.Now()}
}

// writeTestArchive builds a workspace-style testcase zip plus the
// problem_data.json beside it, returning the archive path.
func writeTestArchive(t *testing.T, title string) string {
	t.Helper()
	dir := t.TempDir()

	p := &models.ProblemData{
		ID:     "luogu_P1001",
		Source: "luogu",
		Title:  title,
		Description: "Add two integers.",
		Samples:     []models.Sample{{Input: "1 2", Output: "3"}},
		TimeLimitMS: 1000,
		Tags:        []string{"math"},
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.ProblemDataFile), data, 0o644))

	archivePath := filepath.Join(dir, "problem_luogu_P1001_testcase.zip")
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for i := 0; i < 10; i++ {
		for _, ext := range []string{".in", ".out"} {
			w, err := zw.Create(fmt.Sprintf("%d%s", i, ext))
			require.NoError(t, err)
			_, err = fmt.Fprintf(w, "data %d%s\n", i, ext)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return archivePath
}

func TestHydroUserConfig(t *testing.T) {
	h := NewHydroAdapter()
	ctx := context.Background()

	cfg, err := h.userConfig(ctx, &Context{Config: stubConfig{"hydro": {
		"base_url": "https://oj.example.com/d/mydomain/",
		"sid":      "s1",
		"sid.sig":  "s2",
	}}})
	require.NoError(t, err)
	assert.Equal(t, "https://oj.example.com", cfg.base)
	assert.Equal(t, "mydomain", cfg.domain, "domain folded into base_url is recovered")
	assert.Equal(t, "sid=s1; sid.sig=s2", cfg.cookie)
	assert.Equal(t, "https://oj.example.com/d/mydomain/p/P1", cfg.problemURL("P1"))

	// An explicit domain wins over the one embedded in base_url.
	cfg, err = h.userConfig(ctx, &Context{Config: stubConfig{"hydro": {
		"base_url": "https://oj.example.com/d/ignored",
		"domain":   "system",
		"cookie":   "sid=x",
	}}})
	require.NoError(t, err)
	assert.Equal(t, "system", cfg.domain)

	_, err = h.userConfig(ctx, &Context{Config: stubConfig{"hydro": {
		"base_url": "https://oj.example.com",
	}}})
	assert.ErrorContains(t, err, "Cookie")
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "A + B Problem", normalizeTitle("  A  +  B\nProblem "))
	assert.Equal(t, "A<B", normalizeTitle("A&lt;B"))
	assert.Equal(t, "Title", normalizeTitle("<span>Title</span>"))
	assert.Equal(t, "", normalizeTitle("  "))
}

func TestRenumberTestFile(t *testing.T) {
	name, ok := renumberTestFile("0.in")
	require.True(t, ok)
	assert.Equal(t, "1.in", name)

	name, ok = renumberTestFile("9.out")
	require.True(t, ok)
	assert.Equal(t, "10.out", name)

	_, ok = renumberTestFile("config.yaml")
	assert.False(t, ok)
	_, ok = renumberTestFile("a.in")
	assert.False(t, ok)
}

func TestExtractCsrfToken(t *testing.T) {
	assert.Equal(t, "tok1",
		extractCsrfToken(`<input type="hidden" name="csrfToken" value="tok1">`))
	assert.Equal(t, "tok2",
		extractCsrfToken(`window.UiContext = {"csrfToken":"tok2"}`))
	assert.Equal(t, "", extractCsrfToken("<html></html>"))
}

func TestHydroDefaultLanguage(t *testing.T) {
	h := NewHydroAdapter()
	assert.Equal(t, "cc.cc17o2", h.DefaultLanguage("C++"))
	assert.Equal(t, "cc.cc17o2", h.DefaultLanguage(""))
	assert.Equal(t, "py.py3", h.DefaultLanguage("Python 3"))
	assert.Equal(t, "java", h.DefaultLanguage("Java"))
	assert.Contains(t, h.SupportedLanguages(), "cc.cc17o2")
}

func TestHydroSupportsFormat(t *testing.T) {
	h := NewHydroAdapter()
	assert.True(t, h.SupportsFormat("zip"))
	assert.True(t, h.SupportsFormat("ZIP"))
	assert.False(t, h.SupportsFormat("tar"))
}

func TestSearchExactTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/d/system/p", r.URL.Path)
		assert.Equal(t, "A+B Problem", r.URL.Query().Get("q"))
		assert.Contains(t, r.Header.Get("Cookie"), "sid=abc")
		fmt.Fprint(w, `
			<tr data-pid="P1000"><td><a href="/d/system/p/P1000">A+B  Problem II</a></td></tr>
			<tr data-pid="P1001"><td><a href="/d/system/p/P1001">A+B Problem</a></td></tr>`)
	}))
	defer srv.Close()

	h := NewHydroAdapter()
	pid, err := h.SearchExactTitle(context.Background(), hydroContext(srv.URL), "A+B Problem")
	require.NoError(t, err)
	assert.Equal(t, "P1001", pid)
}

func TestSearchExactTitleNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<tr data-pid="P9"><td><a href="/d/system/p/P9">Other</a></td></tr>`)
	}))
	defer srv.Close()

	h := NewHydroAdapter()
	pid, err := h.SearchExactTitle(context.Background(), hydroContext(srv.URL), "A+B Problem")
	require.NoError(t, err)
	assert.Equal(t, "", pid)
}

func TestUploadTestcaseCreate(t *testing.T) {
	var importedNames []string
	mux := http.NewServeMux()
	mux.HandleFunc("/d/system/p", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<table></table>") // title search misses
	})
	mux.HandleFunc("/d/system/problem/import/hydro", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		tmp, err := os.CreateTemp(t.TempDir(), "import-*.zip")
		require.NoError(t, err)
		size, err := tmp.ReadFrom(file)
		require.NoError(t, err)
		zr, err := zip.NewReader(tmp, size)
		require.NoError(t, err)
		for _, f := range zr.File {
			importedNames = append(importedNames, f.Name)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"pid": "P77"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := NewHydroAdapter()
	archivePath := writeTestArchive(t, "A+B Problem")

	result, err := h.UploadTestcase(context.Background(), hydroContext(srv.URL),
		"luogu_P1001", archivePath, hydroAuth(h), false)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "P77", result.RealID)
	assert.Equal(t, srv.URL+"/d/system/p/P77", result.Response["url"])

	assert.Contains(t, importedNames, "problem_zh.md")
	assert.Contains(t, importedNames, "problem.yaml")
	assert.Contains(t, importedNames, "testdata/config.yaml")
	assert.Contains(t, importedNames, "testdata/1.in", "pairs are renumbered from 1")
	assert.Contains(t, importedNames, "testdata/10.out")
	assert.NotContains(t, importedNames, "testdata/0.in")
}

func TestUploadTestcaseUpdatesExisting(t *testing.T) {
	var deleteBatches [][]string
	var uploaded []string

	mux := http.NewServeMux()
	mux.HandleFunc("/d/system/p", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<tr data-pid="P55"><td><a href="/d/system/p/P55">A+B Problem</a></td></tr>`)
	})
	mux.HandleFunc("/d/system/p/P55/files", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			for i := 1; i <= 25; i++ {
				fmt.Fprintf(w, `<tr data-filename="%d.in"></tr>`, i)
			}
			return
		}
		if r.Header.Get("Content-Type") == "application/json" {
			var payload struct {
				Operation string   `json:"operation"`
				Files     []string `json:"files"`
				Type      string   `json:"type"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "delete_files", payload.Operation)
			assert.Equal(t, "testdata", payload.Type)
			deleteBatches = append(deleteBatches, payload.Files)
			return
		}
		require.NoError(t, r.ParseMultipartForm(32<<20))
		assert.Equal(t, "testdata", r.FormValue("type"))
		uploaded = append(uploaded, r.FormValue("filename"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := NewHydroAdapter()
	archivePath := writeTestArchive(t, "A+B Problem")

	result, err := h.UploadTestcase(context.Background(), hydroContext(srv.URL),
		"luogu_P1001", archivePath, hydroAuth(h), false)
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "P55", result.RealID)

	// 25 remote files are deleted in batches of at most 20.
	require.Len(t, deleteBatches, 2)
	assert.Len(t, deleteBatches[0], 20)
	assert.Len(t, deleteBatches[1], 5)

	assert.Len(t, uploaded, 20)
	assert.Contains(t, uploaded, "1.in")
	assert.Contains(t, uploaded, "10.out")
}

func TestUploadSkipUpdateForcesCreate(t *testing.T) {
	searched := false
	mux := http.NewServeMux()
	mux.HandleFunc("/d/system/p", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "" {
			searched = true
		}
		fmt.Fprint(w, "<table></table>")
	})
	mux.HandleFunc("/d/system/problem/import/hydro", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/d/system/p/P88")
		w.WriteHeader(http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := NewHydroAdapter()
	archivePath := writeTestArchive(t, "A+B Problem")

	result, err := h.UploadTestcase(context.Background(), hydroContext(srv.URL),
		"luogu_P1001", archivePath, hydroAuth(h), true)
	require.NoError(t, err)
	assert.False(t, searched, "skipUpdate bypasses the title search")
	assert.True(t, result.Created)
	assert.Equal(t, "P88", result.RealID, "pid parsed from the redirect")
}

func TestSubmitSolution(t *testing.T) {
	var form map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/d/system/p/P55/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<input type="hidden" name="csrfToken" value="tok">`)
			return
		}
		require.NoError(t, r.ParseMultipartForm(32<<20))
		form = map[string]string{
			"lang":      r.FormValue("lang"),
			"code":      r.FormValue("code"),
			"csrfToken": r.FormValue("csrfToken"),
		}
		w.Header().Set("Location", "/d/system/record/0123456789abcdef01234567")
		w.WriteHeader(http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := NewHydroAdapter()
	result, err := h.SubmitSolution(context.Background(), hydroContext(srv.URL),
		"P55", "int main(){}", "", hydroAuth(h))
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef01234567", result.SubmissionID)
	assert.Contains(t, result.RecordURL, "/record/0123456789abcdef01234567")

	assert.Equal(t, "cc.cc17o2", form["lang"], "empty language falls back to the C++ default")
	assert.Equal(t, "int main(){}", form["code"])
	assert.Equal(t, "tok", form["csrfToken"])
}

func TestSubmitSolutionExpiredCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/login")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	h := NewHydroAdapter()
	_, err := h.SubmitSolution(context.Background(), hydroContext(srv.URL),
		"P55", "code", "cc.cc17o2", hydroAuth(h))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "登录状态已失效")
}

func TestGetSubmissionStatus(t *testing.T) {
	page := `
		<div class="record-status--text pass">
			<span class="icon icon-check"></span>
			Accepted
		</div>
		<span class="record-status--text score score--full">100</span>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/d/system/record/abc123", r.URL.Path)
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	h := NewHydroAdapter()
	st, err := h.GetSubmissionStatus(context.Background(), hydroContext(srv.URL), "abc123", hydroAuth(h))
	require.NoError(t, err)
	assert.Equal(t, "Accepted", st.Status)
	assert.Equal(t, 100, st.Score)
	assert.True(t, st.IsAccepted)
	assert.True(t, st.IsFinal)
}

func TestGetSubmissionStatusPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div class="record-status--text progress">Judging</div>`)
	}))
	defer srv.Close()

	h := NewHydroAdapter()
	st, err := h.GetSubmissionStatus(context.Background(), hydroContext(srv.URL), "abc123", hydroAuth(h))
	require.NoError(t, err)
	assert.Equal(t, "Judging", st.Status)
	assert.False(t, st.IsFinal)
	assert.False(t, st.IsAccepted)
}

func TestGetSubmissionStatusCompileError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `
			<div class="record-status--text fail">Compile Error</div>
			<pre class="compiler-text">main.cpp:1:1: error: expected declaration</pre>`)
	}))
	defer srv.Close()

	h := NewHydroAdapter()
	st, err := h.GetSubmissionStatus(context.Background(), hydroContext(srv.URL), "abc123", hydroAuth(h))
	require.NoError(t, err)
	assert.Equal(t, "Compile Error", st.Status)
	assert.True(t, st.IsFinal)
	assert.Contains(t, st.ErrorText, "expected declaration")
}

func TestAuthenticateRejectsDeadCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/login?redirect=/d/system/p")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	h := NewHydroAdapter()
	_, err := h.Authenticate(context.Background(), hydroContext(srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "登录状态已失效")
}

func TestAuthenticateAcceptsLiveCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>problem list</html>")
	}))
	defer srv.Close()

	h := NewHydroAdapter()
	auth, err := h.Authenticate(context.Background(), hydroContext(srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "sid=abc; sid.sig=def", auth.Token)
	assert.False(t, auth.Expired())
}
