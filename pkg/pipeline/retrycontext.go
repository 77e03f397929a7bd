package pipeline

import "github.com/ojobatch/ojo/pkg/prompt"

// retryContext accumulates failed-attempt summaries for one stage. The
// prompt builder renders only the most recent entries; the full list
// stays here for logging.
type retryContext struct {
	entries []prompt.RetryEntry
}

// add records one failed attempt.
func (r *retryContext) add(attempt int, summary, codeSnippet string, temperature float32) {
	r.entries = append(r.entries, prompt.RetryEntry{
		Attempt:     attempt,
		Summary:     summary,
		CodeSnippet: codeSnippet,
		Temperature: temperature,
	})
}

// temperature annealing constants.
const (
	tempFloor          float32 = 0.1
	tempStepValidation float32 = 0.15 // local validation failure
	tempStepCE         float32 = 0.2  // compile error (local or remote)
)

// anneal lowers the temperature by step, clamped at the floor.
func anneal(t, step float32) float32 {
	t -= step
	if t < tempFloor {
		return tempFloor
	}
	return t
}
