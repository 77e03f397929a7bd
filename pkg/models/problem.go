package models

// Sample is one statement input/output example.
type Sample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// ProblemData is the normalized problem statement every fetcher produces,
// regardless of the origin judge's raw format. It is persisted as
// problem_data.json in the problem workspace.
type ProblemData struct {
	ID            string         `json:"id"`
	Source        string         `json:"source"` // adapter name of the origin judge
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	InputFormat   string         `json:"input_format,omitempty"`
	OutputFormat  string         `json:"output_format,omitempty"`
	Samples       []Sample       `json:"samples"`
	TimeLimitMS   int            `json:"time_limit_ms,omitempty"`
	MemoryLimitMB int            `json:"memory_limit_mb,omitempty"`
	Difficulty    string         `json:"difficulty,omitempty"`
	Tags          []string       `json:"tags"`
	Hints         string         `json:"hints,omitempty"`
	Author        string         `json:"author,omitempty"`
	URL           string         `json:"url,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}
