package extractor

import (
	"fmt"
	"strings"

	"english-eval-go/internal/types"
)

// Prompt is the instruction payload sent to the scoring provider.
type Prompt struct {
	System string
	User   string
}

// Criterion is one rubric line: a fixed dimension and how to score it.
type Criterion struct {
	Dimension types.Dimension
	Guidance  string
}

// DefaultRubric covers the five fixed dimensions in report order.
var DefaultRubric = []Criterion{
	{types.Fluency, "flow, pacing, hesitations, filler words and self-corrections; fluency does not compensate for errors elsewhere"},
	{types.Grammar, "verb agreement, tense consistency, articles, pluralization and sentence-level correctness; count repeated error types"},
	{types.Pronunciation, "intelligibility judged from the transcript: misrecognised words, unclear phrases and transcription artefacts that suggest unclear speech"},
	{types.Vocabulary, "range, precision and professional or technical appropriateness of word choice"},
	{types.Structure, "logical organisation of ideas: framing, explanation, examples and a clear close"},
}

const systemPrompt = `You are a professional communication evaluation and diagnostics engine used for employee skill development.

This evaluation is NOT about public speaking or presentation skills. It covers spoken professional and technical communication in workplace contexts (explanations, knowledge sharing, technical walkthroughs, internal discussions).

Score the transcript on these dimensions:
%s
Rules:
- Quote specific examples from the transcript as evidence.
- Be objective and diagnostic. No motivational language.
- Each dimension is scored as an integer from 0 to 100.
- Band mapping: Poor <40, Average 40-59, Good 60-79, Excellent 80-100.
- overall_score = rounded arithmetic mean of the five dimension scores.

Output rules:
- Respond ONLY with one valid JSON object.
- No markdown, no narrative outside the JSON.`

const userPrompt = `Analyze the following transcribed speech.

--- TRANSCRIPTION START ---
%s
--- TRANSCRIPTION END ---

Return a SINGLE JSON object with EXACTLY this structure:
%s

Requirements:
- All scores are integers between 0 and 100.
- strengths and improvements hold 1 to 10 short, non-empty items.
- action_plan holds 1 to 7 items, each with non-empty item, why and how.
- Every dimension has non-empty notes grounded in the transcript.
- Output ONLY valid JSON.`

const correctionPrompt = `Your previous response could not be accepted:
%s

Previous response:
%s

Return ONLY the corrected JSON object with EXACTLY this structure:
%s

No markdown. No commentary.`

// PromptBuilder renders prompts from a fixed rubric. It has no state
// besides the rubric, so equal transcripts always render equal prompts.
type PromptBuilder struct {
	rubric []Criterion
	system string
	shape  string
}

func NewPromptBuilder(rubric []Criterion) *PromptBuilder {
	if len(rubric) == 0 {
		rubric = DefaultRubric
	}
	var lines strings.Builder
	for _, c := range rubric {
		fmt.Fprintf(&lines, "- %s: %s\n", c.Dimension, c.Guidance)
	}
	return &PromptBuilder{
		rubric: rubric,
		system: fmt.Sprintf(systemPrompt, lines.String()),
		shape:  reportShape(rubric),
	}
}

// Build renders the system and user instructions for one transcript.
func (b *PromptBuilder) Build(transcript string) Prompt {
	return Prompt{
		System: b.system,
		User:   fmt.Sprintf(userPrompt, strings.TrimSpace(transcript), b.shape),
	}
}

// Correction asks the provider to fix its previous output, listing what
// was wrong with it.
func (b *PromptBuilder) Correction(previous string, problems []string) string {
	var list strings.Builder
	for _, p := range problems {
		list.WriteString("- " + p + "\n")
	}
	return fmt.Sprintf(correctionPrompt, strings.TrimRight(list.String(), "\n"), previous, b.shape)
}

func reportShape(rubric []Criterion) string {
	var s strings.Builder
	s.WriteString("{\n")
	s.WriteString(`  "overall_score": <integer 0-100>,` + "\n")
	s.WriteString(`  "summary": "<concise professional assessment>",` + "\n")
	s.WriteString(`  "strengths": ["<string>", "..."],` + "\n")
	s.WriteString(`  "improvements": ["<string>", "..."],` + "\n")
	for _, c := range rubric {
		fmt.Fprintf(&s, `  "%s": {"score": <integer 0-100>, "notes": "<evidence-based notes>"},`+"\n", c.Dimension)
	}
	s.WriteString(`  "action_plan": [{"item": "<what to do>", "why": "<professional impact>", "how": "<explicit drill or practice>"}]` + "\n")
	s.WriteString("}")
	return s.String()
}
