// Package providers implements clients for the hosted vision endpoints used
// by the transcription pipeline.
package providers

// Uncertainty marks a text segment the model was not confident about.
type Uncertainty struct {
	Snippet string `json:"snippet"`
	Reason  string `json:"reason"`
}

// OCRResult is the validated structured output of one OCR pass.
type OCRResult struct {
	Text               string        `json:"text"`
	Confidence         float64       `json:"confidence"`
	Uncertainties      []Uncertainty `json:"uncertainties"`
	NormalizationNotes []string      `json:"normalization_notes"`
}

// Clamp bounds the confidence into [0, 1].
func (r *OCRResult) Clamp() {
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
}
