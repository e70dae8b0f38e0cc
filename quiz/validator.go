package quiz

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bildung/quizrag/embeddings"
	"github.com/bildung/quizrag/index"
	"github.com/bildung/quizrag/llm"
)

const (
	answerTopK         = 3
	answerContextChars = 3000
)

const validatorSystemPrompt = "You are a strict evaluator. Judge answers using ONLY the supplied context, never general knowledge."

// NoMaterialExplanation is the deterministic verdict text when retrieval
// finds nothing relevant to ground a judgement on.
const NoMaterialExplanation = "No relevant material found for this question"

const invalidOutputExplanation = "Model returned an invalid response"

// AnswerValidator judges a free-text answer strictly against retrieved,
// scoped context.
type AnswerValidator struct {
	llm      llm.Client
	embedder embeddings.Embedder
	logger   *log.Logger
}

func NewAnswerValidator(llmClient llm.Client, embedder embeddings.Embedder, logger *log.Logger) *AnswerValidator {
	if logger == nil {
		logger = log.Default()
	}
	return &AnswerValidator{llm: llmClient, embedder: embedder, logger: logger}
}

// Validate retrieves the chunks most relevant to the question and asks the
// model to judge the student's answer against them alone. When retrieval
// finds nothing, or the model's output cannot be parsed, it returns a
// deterministic incorrect verdict rather than guessing.
func (v *AnswerValidator) Validate(ctx context.Context, idx *index.VectorIndex, question, studentAnswer string) (Verdict, error) {
	if v.llm == nil {
		return Verdict{}, fmt.Errorf("llm client is not configured")
	}
	if v.embedder == nil {
		return Verdict{}, fmt.Errorf("embedder is not configured")
	}

	vectors, err := v.embedder.Embed(ctx, []string{question})
	if err != nil {
		return Verdict{}, wrapError(KindModelFailure, "embed question", err)
	}
	if len(vectors) == 0 {
		return Verdict{}, newError(KindModelFailure, "embedder returned no vectors")
	}

	results := idx.Search(vectors[0], answerTopK)
	if len(results) == 0 {
		return Verdict{Explanation: NoMaterialExplanation}, nil
	}

	raw, err := v.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: validatorSystemPrompt},
		{Role: llm.RoleUser, Content: buildValidationPrompt(resultsToText(results, answerContextChars), question, studentAnswer)},
	})
	if err != nil {
		return Verdict{}, wrapError(KindModelFailure, "validate answer", err)
	}

	var verdict Verdict
	if !extractJSONObject(raw, &verdict) {
		v.logger.Printf("discarding malformed validation output (%d bytes)", len(raw))
		return Verdict{Explanation: invalidOutputExplanation}, nil
	}

	if verdict.Confidence < 0 {
		verdict.Confidence = 0
	}
	if verdict.Confidence > 1 {
		verdict.Confidence = 1
	}
	return verdict, nil
}

func buildValidationPrompt(contextText, question, studentAnswer string) string {
	var b strings.Builder

	b.WriteString(`Use ONLY the context below.
If the answer is not clearly supported by the context, mark it as incorrect.

Context:
`)
	b.WriteString(contextText)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nStudent Answer:\n")
	b.WriteString(studentAnswer)
	b.WriteString(`

Respond ONLY in valid JSON:
{
  "is_correct": true or false,
  "confidence": 0.0 to 1.0,
  "explanation": "short explanation"
}`)

	return b.String()
}
