package stage

import (
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/model"
)

// Stage names of the research pipeline.
const (
	Planning     = "planning"
	Research     = "research"
	Cleaning     = "cleaning"
	FactChecking = "fact-checking"
	Writing      = "writing"
	Proofreading = "proofreading"
)

// ResearchPipeline returns the default six-stage research pipeline. Model
// stages share m; the research stage queries s with lines of the plan.
//
// Fallbacks are chosen so a run always ends with something useful when
// possible: a failed cleaning or fact-checking stage passes its input
// through, a failed proofreading stage reuses the draft, and a failed
// research or writing stage yields an unusable marker.
func ResearchPipeline(m model.Model, s Searcher) []core.StageSpec {
	llm := NewModelInvoker(m)

	return []core.StageSpec{
		{
			Name:        Planning,
			Kind:        core.KindPlan,
			Description: "Break the task into focused search queries",
			Instruction: "List three focused web-search queries, one per line, that together cover this research task:\n\n{{.Task}}",
			Invoker:     llm,
			Fallback:    TaskEcho(),
		},
		{
			Name:        Research,
			Requires:    []string{Planning},
			Kind:        core.KindSources,
			Description: "Search the web for each planned query",
			Invoker:     NewSearchInvoker(s),
			Fallback:    Unusable("no sources were retrieved"),
		},
		{
			Name:        Cleaning,
			Requires:    []string{Research},
			Kind:        core.KindFacts,
			Description: "Extract relevant statements from the sources",
			Instruction: "From the sources below, extract the statements relevant to \"{{.Task}}\" as a bullet list. Keep each source link.\n\n{{index .Inputs \"research\"}}",
			Invoker:     llm,
			Fallback:    PassThrough(Research),
		},
		{
			Name:        FactChecking,
			Requires:    []string{Cleaning},
			Kind:        core.KindFacts,
			Description: "Drop unsupported or contradictory statements",
			Instruction: "Review these statements. Remove any that are unsupported by their source or contradict another. Return the remaining bullet list unchanged otherwise.\n\n{{index .Inputs \"cleaning\"}}",
			Invoker:     llm,
			Fallback:    PassThrough(Cleaning),
		},
		{
			Name:        Writing,
			Requires:    []string{Planning, FactChecking},
			Kind:        core.KindReport,
			Description: "Write a markdown report",
			Instruction: "Write a concise markdown report answering \"{{.Task}}\". Use headings, cite sources as links and rely only on these facts:\n\n{{index .Inputs \"fact-checking\"}}",
			Invoker:     llm,
			Fallback:    Unusable("no report could be written"),
		},
		{
			Name:        Proofreading,
			Requires:    []string{Writing},
			Kind:        core.KindReport,
			Description: "Fix grammar and formatting without changing content",
			Instruction: "Proofread the following markdown report. Fix grammar, spelling and formatting only. Return the full corrected report.\n\n{{index .Inputs \"writing\"}}",
			Invoker:     llm,
			Fallback:    PassThrough(Writing),
		},
	}
}
