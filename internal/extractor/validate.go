package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"english-eval-go/internal/types"
)

const reportSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["overall_score", "summary", "strengths", "improvements",
               "fluency", "grammar", "pronunciation", "vocabulary", "structure", "action_plan"],
  "properties": {
    "overall_score": {"type": "integer"},
    "summary": {"type": "string", "minLength": 1},
    "strengths": {"$ref": "#/$defs/items"},
    "improvements": {"$ref": "#/$defs/items"},
    "fluency": {"$ref": "#/$defs/dimension"},
    "grammar": {"$ref": "#/$defs/dimension"},
    "pronunciation": {"$ref": "#/$defs/dimension"},
    "vocabulary": {"$ref": "#/$defs/dimension"},
    "structure": {"$ref": "#/$defs/dimension"},
    "action_plan": {
      "type": "array",
      "minItems": 1,
      "maxItems": 7,
      "items": {
        "type": "object",
        "required": ["item", "why", "how"],
        "properties": {
          "item": {"type": "string", "minLength": 1},
          "why": {"type": "string", "minLength": 1},
          "how": {"type": "string", "minLength": 1}
        }
      }
    }
  },
  "$defs": {
    "items": {
      "type": "array",
      "minItems": 1,
      "maxItems": 10,
      "items": {"type": "string"}
    },
    "dimension": {
      "type": "object",
      "required": ["score", "notes"],
      "properties": {
        "score": {"type": "integer"},
        "notes": {"type": "string", "minLength": 1}
      }
    }
  }
}`

var (
	schemaPrinter = message.NewPrinter(language.English)
	reportSchema  = mustCompileSchema(reportSchemaJSON, "report.schema.json")
)

func mustCompileSchema(raw, name string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// schemaProblems lists every schema violation of the decoded document.
func schemaProblems(raw []byte) []string {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	err = reportSchema.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var problems []string
	collectSchemaErrors(ve, &problems)
	return problems
}

func collectSchemaErrors(ve *jsonschema.ValidationError, problems *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*problems = append(*problems, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, problems)
	}
}

type wireDimension struct {
	Score float64 `json:"score"`
	Notes string  `json:"notes"`
}

type wireReport struct {
	OverallScore  float64            `json:"overall_score"`
	Summary       string             `json:"summary"`
	Strengths     []string           `json:"strengths"`
	Improvements  []string           `json:"improvements"`
	Fluency       wireDimension      `json:"fluency"`
	Grammar       wireDimension      `json:"grammar"`
	Pronunciation wireDimension      `json:"pronunciation"`
	Vocabulary    wireDimension      `json:"vocabulary"`
	Structure     wireDimension      `json:"structure"`
	ActionPlan    []types.ActionItem `json:"action_plan"`
}

func (w *wireReport) dimensions() map[types.Dimension]wireDimension {
	return map[types.Dimension]wireDimension{
		types.Fluency:       w.Fluency,
		types.Grammar:       w.Grammar,
		types.Pronunciation: w.Pronunciation,
		types.Vocabulary:    w.Vocabulary,
		types.Structure:     w.Structure,
	}
}

// scoreCheck applies the score policy to one value. With clamp it returns
// the clamped score and no problem. The range is checked on the float so
// huge values cannot wrap when converted.
func scoreCheck(field string, v float64, clamp bool) (int, string) {
	r := math.Round(v)
	if r >= 0 && r <= 100 {
		return int(r), ""
	}
	if clamp {
		return int(math.Max(0, math.Min(100, r))), ""
	}
	return 0, fmt.Sprintf("/%s: score %g outside 0-100", field, v)
}

// cleanItems trims items and drops blank ones. At least one must remain.
func cleanItems(field string, items []string) ([]string, string) {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if t := strings.TrimSpace(it); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Sprintf("/%s: must contain at least one non-empty item", field)
	}
	return out, ""
}

// decodeReport runs the schema, then the field checks the schema cannot
// express. The returned report has no ids or overall score yet.
func decodeReport(raw []byte, clamp bool) (types.Report, int, []string) {
	if problems := schemaProblems(raw); len(problems) > 0 {
		return types.Report{}, 0, problems
	}

	var w wireReport
	if err := json.Unmarshal(raw, &w); err != nil {
		return types.Report{}, 0, []string{fmt.Sprintf("decoding report: %v", err)}
	}

	var problems []string
	note := func(p string) {
		if p != "" {
			problems = append(problems, p)
		}
	}

	r := types.Report{
		Summary:         strings.TrimSpace(w.Summary),
		DimensionScores: make(map[types.Dimension]types.DimensionScore, len(types.Dimensions)),
	}
	if r.Summary == "" {
		note("/summary: must not be blank")
	}

	dims := w.dimensions()
	for _, d := range types.Dimensions {
		wd := dims[d]
		score, p := scoreCheck(string(d)+"/score", wd.Score, clamp)
		note(p)
		notes := strings.TrimSpace(wd.Notes)
		if notes == "" {
			note(fmt.Sprintf("/%s/notes: must not be blank", d))
		}
		r.DimensionScores[d] = types.DimensionScore{Score: score, Notes: notes}
	}

	overall, p := scoreCheck("overall_score", w.OverallScore, clamp)
	note(p)

	var ip string
	r.Strengths, ip = cleanItems("strengths", w.Strengths)
	note(ip)
	r.Improvements, ip = cleanItems("improvements", w.Improvements)
	note(ip)

	for i, a := range w.ActionPlan {
		a.Item, a.Why, a.How = strings.TrimSpace(a.Item), strings.TrimSpace(a.Why), strings.TrimSpace(a.How)
		if a.Item == "" || a.Why == "" || a.How == "" {
			note(fmt.Sprintf("/action_plan/%d: item, why and how must not be blank", i))
		}
		r.ActionPlan = append(r.ActionPlan, a)
	}

	return r, overall, problems
}
