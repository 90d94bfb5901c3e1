package api

// Step names one stage of a task's pipeline. The set of valid steps for
// a task is closed: it is exactly the ordered step list of the pipeline
// definition registered for the task's type.
type Step string

func (s Step) String() string { return string(s) }

// TypePDFProcessing is the pipeline type shipped with this module: a PDF
// admission-guideline document rendered to page images, recognized,
// translated, analyzed and archived.
const TypePDFProcessing = "pdf_processing"

// Canonical steps of the pdf_processing pipeline, in execution order.
const (
	StepToImages      Step = "to_images"
	StepOCR           Step = "ocr"
	StepTranslate     Step = "translate"
	StepAnalyze       Step = "analyze"
	StepPersistOutput Step = "persist_output"
)

// ProgressForStep returns the progress percentage reported while step
// i (0-based) of total runs. Positions map to even slices of 100, so a
// five-step pipeline reports 20/40/60/80/100.
func ProgressForStep(i, total int) int {
	if total <= 0 {
		return 0
	}
	if i >= total-1 {
		return 100
	}
	return (i + 1) * 100 / total
}
