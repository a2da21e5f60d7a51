package validation

import "strings"

func (v *Validator) validateAnalysis(r AnalysisResult) Outcome {
	if r.Error != "" {
		return failure("Error en análisis: %s", r.Error)
	}

	content := strings.TrimSpace(r.Content)
	if v.IsPlaceholder(content) {
		return failure("El análisis es un texto genérico sin contenido real")
	}

	t := v.rules.Thresholds
	length := len([]rune(content))
	if length < t.MinAnalysisContent {
		return failure("Análisis demasiado corto: %d caracteres (mínimo %d)", length, t.MinAnalysisContent)
	}
	if n := v.CountGenericErrors(content); n > t.MaxGenericErrors {
		return failure("El análisis contiene demasiados mensajes de error genéricos (%d)", n)
	}

	markers := StructuralMarkers(content)
	if length < t.StructuredAnalysisContent && markers.Total() == 0 {
		return warning("Análisis breve y sin estructura: %d caracteres", length)
	}
	return success("Análisis válido: %d caracteres, %d marcadores estructurales", length, markers.Total())
}

// CountGenericErrors counts occurrences of the generic error phrases.
func (v *Validator) CountGenericErrors(content string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, p := range v.rules.GenericErrorPhrases {
		n += strings.Count(lower, strings.ToLower(p))
	}
	return n
}

// IsPlaceholder reports whether content is exactly one of the placeholder texts.
func (v *Validator) IsPlaceholder(content string) bool {
	return v.rules.placeholder[normalizePlaceholder(content)]
}
