package validation

import "strings"

// validateText covers planning, delivery and every unknown category.
func (v *Validator) validateText(r TextResult) Outcome {
	rule := v.rules.textRule(r.Category())

	if r.Error != "" {
		return failure("Error en %s: %s", strings.ToLower(rule.Label), r.Error)
	}
	content := strings.TrimSpace(r.Content)
	if content == "" {
		return failure("%s sin contenido", rule.Label)
	}

	length := len([]rune(content))
	if length < rule.MinLength {
		return warning("%s demasiado corto: %d caracteres (mínimo %d)", rule.Label, length, rule.MinLength)
	}
	if rule.MinKeywords > 0 {
		if n := countKeywords(content, rule.Keywords); n < rule.MinKeywords {
			return warning("%s con pocas palabras clave: %d (mínimo %d)", rule.Label, n, rule.MinKeywords)
		}
	}
	return success("%s válido: %d caracteres", rule.Label, length)
}

// countKeywords returns how many distinct keywords occur as whole words.
func countKeywords(content string, keywords []string) int {
	lower := strings.ToLower(content)
	n := 0
	for _, k := range keywords {
		if containsWord(lower, strings.ToLower(k)) {
			n++
		}
	}
	return n
}
