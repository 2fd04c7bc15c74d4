package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultSampleQuestions is the fixed question set used for evaluation runs.
var DefaultSampleQuestions = []string{
	"What is CLIP?",
	"How does Qdrant store data?",
	"What is Retrieval-Augmented Generation?",
	"What are diffusion models?",
	"What is the role of transformers in neural networks?",
	"How is multimodal learning useful?",
}

// Sample is one evaluation record.
type Sample struct {
	Question string   `json:"question"`
	Contexts []string `json:"contexts"`
	Answer   string   `json:"answer"`
}

// SampleUseCase runs questions through retrieval and generation and
// writes the results as JSON lines.
type SampleUseCase struct {
	answers *AnswerUseCase
}

func NewSampleUseCase(answers *AnswerUseCase) *SampleUseCase {
	return &SampleUseCase{answers: answers}
}

// Generate answers each question in order. A failing question aborts the run.
func (u *SampleUseCase) Generate(ctx context.Context, questions []string, progress ProgressFunc) ([]Sample, error) {
	if len(questions) == 0 {
		questions = DefaultSampleQuestions
	}

	samples := make([]Sample, 0, len(questions))
	for i, q := range questions {
		ans, err := u.answers.Answer(ctx, q)
		if err != nil {
			return samples, fmt.Errorf("sample %q: %w", q, err)
		}
		contexts := ans.Passages
		if contexts == nil {
			contexts = []string{}
		}
		samples = append(samples, Sample{Question: q, Contexts: contexts, Answer: ans.Text})
		if progress != nil {
			progress(i+1, len(questions), q)
		}
	}
	return samples, nil
}

// WriteJSONL writes one sample per line. HTML characters are not escaped.
func WriteJSONL(w io.Writer, samples []Sample) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}
