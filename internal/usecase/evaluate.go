package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"mmrag/internal/port"
)

const (
	judgeSystemPrompt = "You are a careful evaluator of question answering systems. Reply with a single JSON object and nothing else."

	// relevancyQuestions is how many questions the judge reconstructs from an answer.
	relevancyQuestions = 3
)

// MetricScores holds one value per metric, each in [0, 1].
type MetricScores struct {
	Faithfulness     float64 `json:"faithfulness"`
	AnswerRelevancy  float64 `json:"answer_relevancy"`
	ContextPrecision float64 `json:"context_precision"`
}

type SampleScore struct {
	Question string `json:"question"`
	MetricScores
}

// EvaluationReport scores every sample and averages each metric.
type EvaluationReport struct {
	Samples []SampleScore `json:"samples"`
	Mean    MetricScores  `json:"mean"`
}

// EvaluateUseCase scores question/contexts/answer samples with an LLM judge:
//   - faithfulness: share of answer statements the contexts support
//   - answer relevancy: mean similarity between the question and questions
//     the judge reconstructs from the answer
//   - context precision: rank-weighted precision of contexts judged useful
type EvaluateUseCase struct {
	judge    port.Completer
	embedder port.TextEmbedder
	logger   *slog.Logger
}

func NewEvaluateUseCase(judge port.Completer, embedder port.TextEmbedder, logger *slog.Logger) *EvaluateUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &EvaluateUseCase{judge: judge, embedder: embedder, logger: logger}
}

// ReadJSONL reads samples in the form WriteJSONL produces.
func ReadJSONL(r io.Reader) ([]Sample, error) {
	dec := json.NewDecoder(r)
	var samples []Sample
	for {
		var s Sample
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", len(samples)+1, err)
		}
		samples = append(samples, s)
	}
}

// Evaluate scores samples in order. A judge or embedding failure aborts the run.
func (u *EvaluateUseCase) Evaluate(ctx context.Context, samples []Sample, progress ProgressFunc) (*EvaluationReport, error) {
	report := &EvaluationReport{Samples: make([]SampleScore, 0, len(samples))}
	for i, s := range samples {
		score, err := u.ScoreSample(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("score %q: %w", s.Question, err)
		}
		report.Samples = append(report.Samples, score)
		u.logger.Debug("sample scored", "question", s.Question,
			"faithfulness", score.Faithfulness,
			"answer_relevancy", score.AnswerRelevancy,
			"context_precision", score.ContextPrecision)
		if progress != nil {
			progress(i+1, len(samples), s.Question)
		}
	}

	if n := float64(len(report.Samples)); n > 0 {
		for _, s := range report.Samples {
			report.Mean.Faithfulness += s.Faithfulness
			report.Mean.AnswerRelevancy += s.AnswerRelevancy
			report.Mean.ContextPrecision += s.ContextPrecision
		}
		report.Mean.Faithfulness /= n
		report.Mean.AnswerRelevancy /= n
		report.Mean.ContextPrecision /= n
	}
	return report, nil
}

// ScoreSample computes the three metrics for one sample concurrently.
func (u *EvaluateUseCase) ScoreSample(ctx context.Context, s Sample) (SampleScore, error) {
	var faith, relevancy, precision float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		faith, err = u.faithfulness(gctx, s)
		return err
	})
	g.Go(func() error {
		var err error
		relevancy, err = u.answerRelevancy(gctx, s)
		return err
	})
	g.Go(func() error {
		var err error
		precision, err = u.contextPrecision(gctx, s)
		return err
	})
	if err := g.Wait(); err != nil {
		return SampleScore{}, err
	}
	return SampleScore{
		Question: s.Question,
		MetricScores: MetricScores{
			Faithfulness:     faith,
			AnswerRelevancy:  relevancy,
			ContextPrecision: precision,
		},
	}, nil
}

func (u *EvaluateUseCase) faithfulness(ctx context.Context, s Sample) (float64, error) {
	if strings.TrimSpace(s.Answer) == "" {
		return 0, nil
	}

	prompt := fmt.Sprintf(`Split the answer into short standalone factual statements. For each statement decide whether it can be inferred from the context alone.
Respond as {"statements":[{"statement":"...","supported":true}]}.

Question: %s

Answer: %s

Context:
%s`, s.Question, s.Answer, strings.Join(s.Contexts, "\n\n"))

	var verdict struct {
		Statements []struct {
			Statement string `json:"statement"`
			Supported bool   `json:"supported"`
		} `json:"statements"`
	}
	if err := u.ask(ctx, prompt, &verdict); err != nil {
		return 0, fmt.Errorf("faithfulness: %w", err)
	}
	if len(verdict.Statements) == 0 {
		return 0, nil
	}

	supported := 0
	for _, st := range verdict.Statements {
		if st.Supported {
			supported++
		}
	}
	return float64(supported) / float64(len(verdict.Statements)), nil
}

func (u *EvaluateUseCase) answerRelevancy(ctx context.Context, s Sample) (float64, error) {
	if strings.TrimSpace(s.Answer) == "" {
		return 0, nil
	}

	prompt := fmt.Sprintf(`Write %d different questions that the answer below responds to. Mark the answer noncommittal if it is evasive or says it does not know.
Respond as {"questions":["..."],"noncommittal":false}.

Answer: %s`, relevancyQuestions, s.Answer)

	var verdict struct {
		Questions    []string `json:"questions"`
		Noncommittal bool     `json:"noncommittal"`
	}
	if err := u.ask(ctx, prompt, &verdict); err != nil {
		return 0, fmt.Errorf("answer relevancy: %w", err)
	}
	if verdict.Noncommittal || len(verdict.Questions) == 0 {
		return 0, nil
	}

	want, err := u.embedder.EmbedText(ctx, s.Question)
	if err != nil {
		return 0, fmt.Errorf("answer relevancy: embed question: %w", err)
	}
	var total float64
	for _, q := range verdict.Questions {
		vec, err := u.embedder.EmbedText(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("answer relevancy: embed generated question: %w", err)
		}
		total += cosine(want, vec)
	}
	return total / float64(len(verdict.Questions)), nil
}

// contextPrecision averages precision@k over the ranks k of useful contexts.
func (u *EvaluateUseCase) contextPrecision(ctx context.Context, s Sample) (float64, error) {
	useful, sum := 0, 0.0
	for i, c := range s.Contexts {
		prompt := fmt.Sprintf(`Decide whether the context was useful in arriving at the answer to the question. Use verdict 1 if it was and 0 if it was not.
Respond as {"verdict":1}.

Question: %s

Answer: %s

Context: %s`, s.Question, s.Answer, c)

		var verdict struct {
			Verdict int `json:"verdict"`
		}
		if err := u.ask(ctx, prompt, &verdict); err != nil {
			return 0, fmt.Errorf("context precision: context %d: %w", i, err)
		}
		if verdict.Verdict == 1 {
			useful++
			sum += float64(useful) / float64(i+1)
		}
	}
	if useful == 0 {
		return 0, nil
	}
	return sum / float64(useful), nil
}

func (u *EvaluateUseCase) ask(ctx context.Context, prompt string, v any) error {
	reply, err := u.judge.Complete(ctx, judgeSystemPrompt, prompt)
	if err != nil {
		return err
	}
	return decodeJudgement(reply, v)
}

// decodeJudgement reads the outermost JSON object of a judge reply, which
// may be wrapped in prose or a code fence.
func decodeJudgement(reply string, v any) error {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		preview := reply
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return fmt.Errorf("judge reply is not JSON: %q", preview)
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), v); err != nil {
		return fmt.Errorf("decode judge reply: %w", err)
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
