package trigger

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// The trigger payload is an XML-ish blob whose shape has drifted across
// producer versions. Attributes are therefore extracted by scanning for
// key="value" tokens anywhere in the text instead of parsing the document,
// so a malformed payload never hard-fails the job.

var attrPatterns = map[string]*regexp.Regexp{}

func init() {
	for _, key := range []string{"action", "cible", "modele", "quoteId", "dirpdf", "ancienNom"} {
		attrPatterns[key] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(key) + `\s*=\s*("([^"]*)"|'([^']*)')`)
	}
}

// extractAttr returns the value of key in payload, or "" if absent.
func extractAttr(payload, key string) string {
	re, ok := attrPatterns[key]
	if !ok {
		return ""
	}
	m := re.FindStringSubmatch(payload)
	if m == nil {
		return ""
	}
	if m[2] != "" {
		return m[2]
	}
	return m[3]
}

// Parse builds a Job from a downloaded trigger payload and its filename.
// It fails only when the payload cannot be decoded as text; missing or
// malformed attributes degrade to absent fields.
func Parse(filename string, payload []byte) (Job, error) {
	if !utf8.Valid(payload) {
		return Job{}, fmt.Errorf("trigger %s: payload is not valid text", filename)
	}
	text := string(payload)

	job := Job{
		Filename:         filename,
		RawPayload:       payload,
		TargetPath:       extractAttr(text, "cible"),
		SourcePath:       extractAttr(text, "modele"),
		AuxDir:           extractAttr(text, "dirpdf"),
		PriorRevisionRef: extractAttr(text, "ancienNom"),
	}

	job.CorrelationID = extractAttr(text, "quoteId")
	if job.CorrelationID == "" {
		// Heuristic fallback: quote id is conventionally the filename segment
		// before the first underscore. Callers must log this as a
		// degraded-confidence path.
		if prefix, _, found := strings.Cut(filename, "_"); found && prefix != "" {
			job.CorrelationID = prefix
			job.CorrelationGuessed = true
		}
	}

	job.Action = resolveAction(extractAttr(text, "action"), job)
	return job, nil
}

// resolveAction maps the raw action attribute onto an Action. Unrecognized
// or absent values fall back to Generate when a target path and correlation
// id are present, else Unknown.
func resolveAction(raw string, job Job) Action {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "imprimer":
		return ActionGeneratePdf
	case "reviser":
		return ActionRevise
	case "recopier":
		return ActionRecopy
	case "generer", "generate":
		return ActionGenerate
	}
	if job.TargetPath != "" && job.CorrelationID != "" {
		return ActionGenerate
	}
	return ActionUnknown
}
