package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/adapter/embedding"
)

// scriptedJudge answers each kind of grading prompt with a fixed reply.
// Contexts containing "[useful]" get verdict 1.
type scriptedJudge struct {
	statements string
	questions  string
	err        error

	mu    sync.Mutex
	calls []string
}

func (j *scriptedJudge) Complete(_ context.Context, system, prompt string) (string, error) {
	j.mu.Lock()
	j.calls = append(j.calls, prompt)
	j.mu.Unlock()

	if j.err != nil {
		return "", j.err
	}
	switch {
	case strings.HasPrefix(prompt, "Split the answer"):
		return j.statements, nil
	case strings.HasPrefix(prompt, "Write "):
		return j.questions, nil
	case strings.HasPrefix(prompt, "Decide whether"):
		if strings.Contains(prompt, "[useful]") {
			return `{"verdict":1}`, nil
		}
		return `{"verdict":0}`, nil
	}
	return "", errors.New("unexpected prompt")
}

func (j *scriptedJudge) countPrefix(prefix string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, c := range j.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func clipSample() Sample {
	return Sample{
		Question: "What is CLIP?",
		Answer:   "CLIP aligns images and text.",
		Contexts: []string{
			"CLIP aligns images and text in one space. [useful]",
			"Unrelated cooking tips.",
			"CLIP was trained on image caption pairs. [useful]",
		},
	}
}

func TestScoreSample(t *testing.T) {
	judge := &scriptedJudge{
		statements: "```json\n" + `{"statements":[
			{"statement":"CLIP aligns images","supported":true},
			{"statement":"CLIP aligns text","supported":true},
			{"statement":"CLIP was released in 2030","supported":false}]}` + "\n```",
		questions: `{"questions":["What is CLIP?","What is CLIP?"],"noncommittal":false}`,
	}
	uc := NewEvaluateUseCase(judge, embedding.NewMockEmbedder(testDim), nil)

	score, err := uc.ScoreSample(context.Background(), clipSample())
	require.NoError(t, err)

	assert.Equal(t, "What is CLIP?", score.Question)
	assert.InDelta(t, 2.0/3.0, score.Faithfulness, 1e-9)
	assert.InDelta(t, 1.0, score.AnswerRelevancy, 1e-6)
	// useful at ranks 1 and 3: (1/1 + 2/3) / 2
	assert.InDelta(t, 5.0/6.0, score.ContextPrecision, 1e-9)
	assert.Equal(t, 3, judge.countPrefix("Decide whether"))
}

func TestScoreSampleNoncommittalAnswer(t *testing.T) {
	judge := &scriptedJudge{
		statements: `{"statements":[]}`,
		questions:  `{"questions":["What is CLIP?"],"noncommittal":true}`,
	}
	uc := NewEvaluateUseCase(judge, embedding.NewMockEmbedder(testDim), nil)

	s := clipSample()
	s.Answer = "I don't know."
	s.Contexts = []string{"Unrelated cooking tips."}
	score, err := uc.ScoreSample(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 0.0, score.Faithfulness)
	assert.Equal(t, 0.0, score.AnswerRelevancy)
	assert.Equal(t, 0.0, score.ContextPrecision)
}

func TestScoreSampleEmptyAnswerSkipsJudge(t *testing.T) {
	judge := &scriptedJudge{}
	uc := NewEvaluateUseCase(judge, embedding.NewMockEmbedder(testDim), nil)

	score, err := uc.ScoreSample(context.Background(), Sample{Question: "What is CLIP?", Contexts: []string{}})
	require.NoError(t, err)
	assert.Equal(t, MetricScores{}, score.MetricScores)
	assert.Empty(t, judge.calls)
}

func TestScoreSampleJudgeErrors(t *testing.T) {
	uc := NewEvaluateUseCase(&scriptedJudge{err: errors.New("rate limited")}, embedding.NewMockEmbedder(testDim), nil)
	_, err := uc.ScoreSample(context.Background(), clipSample())
	assert.ErrorContains(t, err, "rate limited")

	uc = NewEvaluateUseCase(&scriptedJudge{statements: "no json here", questions: `{"questions":[]}`}, embedding.NewMockEmbedder(testDim), nil)
	_, err = uc.ScoreSample(context.Background(), clipSample())
	assert.ErrorContains(t, err, "not JSON")
}

func TestEvaluateAveragesAndReportsProgress(t *testing.T) {
	judge := &scriptedJudge{
		statements: `{"statements":[{"statement":"a","supported":true}]}`,
		questions:  `{"questions":["What is CLIP?"]}`,
	}
	uc := NewEvaluateUseCase(judge, embedding.NewMockEmbedder(testDim), nil)

	useless := clipSample()
	useless.Contexts = []string{"Unrelated cooking tips."}

	var seen []int
	report, err := uc.Evaluate(context.Background(), []Sample{clipSample(), useless}, func(done, total int, _ string) {
		assert.Equal(t, 2, total)
		seen = append(seen, done)
	})
	require.NoError(t, err)

	require.Len(t, report.Samples, 2)
	assert.Equal(t, []int{1, 2}, seen)
	assert.InDelta(t, 1.0, report.Mean.Faithfulness, 1e-9)
	assert.InDelta(t, 1.0, report.Mean.AnswerRelevancy, 1e-6)
	assert.InDelta(t, 5.0/12.0, report.Mean.ContextPrecision, 1e-9)
}

func TestReadJSONL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, []Sample{clipSample(), {Question: "q2", Contexts: []string{}, Answer: "a2"}}))
	buf.WriteString("\n")

	samples, err := ReadJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, clipSample(), samples[0])
	assert.Equal(t, "a2", samples[1].Answer)

	_, err = ReadJSONL(strings.NewReader(`{"question":"ok"}` + "\n" + `{"question":`))
	assert.ErrorContains(t, err, "sample 2")
}
