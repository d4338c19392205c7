package pipeline

import (
	"time"

	"github.com/jonathan/content-pipeline/internal/types"
)

// Step names of the default pipeline.
const (
	StepNormalizeInput     = "step0"
	StepKeywordResearch    = "step1"
	StepCompetitorResearch = "step2"
	StepAudienceAnalysis   = "step3a"
	StepIntentAnalysis     = "step3b"
	StepGapAnalysis        = "step3c"
	StepOutlineSynthesis   = "step3.5"
	StepDraftOutline       = "step4"
	StepSectionDrafting    = "step5"
	StepFactCheck          = "step6"
	StepSEOOptimization    = "step7"
	StepMetaGeneration     = "step8"
	StepInternalLinking    = "step9"
	StepFinalAssembly      = "step10"
	StepImageEnrichment    = "step11"
	StepPublishPackage     = "step12"
)

// Enrichment phases of the image enrichment step, kept in the run substate.
const (
	PhaseWaitingPositions = "waiting_positions"
	PhaseGenerating       = "generating"
	PhaseWaitingReview    = "waiting_review"
	PhaseDone             = "done"
	PhaseSkipped          = "skipped"
)

const objectSchema = `{"type": "object"}`

const keywordSchema = `{
  "type": "object",
  "required": ["keywords"],
  "properties": {
    "keywords": {"type": "array", "items": {"type": "string"}}
  }
}`

// Default returns the standard content pipeline.
func Default() *Definition {
	stages := []Stage{
		{Steps: []string{StepNormalizeInput}},
		{Steps: []string{StepKeywordResearch}, PostGate: types.RunWaitingStep1Approval},
		{Steps: []string{StepCompetitorResearch}},
		{Steps: []string{StepAudienceAnalysis, StepIntentAnalysis, StepGapAnalysis}, PostGate: types.RunWaitingApproval},
		{Steps: []string{StepOutlineSynthesis}},
		{Steps: []string{StepDraftOutline}},
		{Steps: []string{StepSectionDrafting}},
		{Steps: []string{StepFactCheck}},
		{Steps: []string{StepSEOOptimization}},
		{Steps: []string{StepMetaGeneration}},
		{Steps: []string{StepInternalLinking}},
		{Steps: []string{StepFinalAssembly}},
		{Steps: []string{StepImageEnrichment}, InputGate: types.RunWaitingImageInput},
		{Steps: []string{StepPublishPackage}},
	}

	spec := func(name, title, artifactType string) StepSpec {
		return StepSpec{
			Name:         name,
			Title:        title,
			OutputSchema: objectSchema,
			ArtifactType: artifactType,
			ContentType:  "application/json",
		}
	}

	specs := []StepSpec{
		spec(StepNormalizeInput, "normalize_input", "normalized_input"),
		spec(StepKeywordResearch, "keyword_research", "keywords"),
		spec(StepCompetitorResearch, "competitor_research", "competitor_report"),
		spec(StepAudienceAnalysis, "audience_analysis", "audience_analysis"),
		spec(StepIntentAnalysis, "intent_analysis", "intent_analysis"),
		spec(StepGapAnalysis, "gap_analysis", "gap_analysis"),
		spec(StepOutlineSynthesis, "outline_synthesis", "synthesis"),
		spec(StepDraftOutline, "draft_outline", "outline"),
		spec(StepSectionDrafting, "section_drafting", "draft"),
		spec(StepFactCheck, "fact_check", "fact_check_report"),
		spec(StepSEOOptimization, "seo_optimization", "seo_report"),
		spec(StepMetaGeneration, "meta_generation", "meta"),
		spec(StepInternalLinking, "internal_linking", "link_plan"),
		spec(StepFinalAssembly, "final_assembly", "article"),
		spec(StepImageEnrichment, "image_enrichment", "image_set"),
		spec(StepPublishPackage, "publish_package", "publish_package"),
	}
	specs[1].OutputSchema = keywordSchema
	specs[9].Timeout = 5 * time.Minute
	specs[12].Optional = true
	specs[14].Optional = true

	d, err := New(stages, specs)
	if err != nil {
		panic(err)
	}
	return d
}
