package validation

import "strings"

func (v *Validator) validateWebSearch(r WebSearchResult, opts Options) Outcome {
	if r.Error != "" {
		return failure("Error en búsqueda: %s", r.Error)
	}

	content := strings.TrimSpace(r.Content)
	if r.ResultCount() == 0 && content == "" {
		return failure("Búsqueda sin resultados: no se obtuvo contenido")
	}

	var rel *Relevance
	if opts.OriginalQuery != "" {
		rel = v.CheckRelevance(opts.OriginalQuery, r.CollectedText())
		if rel != nil {
			switch {
			case rel.Score < v.rules.Thresholds.RelevanceFailure:
				out := failure("Resultados no relevantes para la consulta: %d/%d términos clave encontrados (%.0f%%)",
					len(rel.Matched), len(rel.Terms), rel.Score*100)
				out.Relevance = rel
				return out
			case rel.Score < v.rules.Thresholds.RelevanceWarning:
				out := warning("Relevancia baja: %d/%d términos clave encontrados (%.0f%%), faltan: %s",
					len(rel.Matched), len(rel.Terms), rel.Score*100, strings.Join(rel.Missing, ", "))
				out.Relevance = rel
				return out
			}
		}
	}

	var out Outcome
	hits := r.ValidHits()
	switch {
	case len(hits) > 0:
		out = success("Búsqueda exitosa: %d resultados válidos encontrados", len(hits))
	case len([]rune(content)) >= v.rules.Thresholds.MinSearchContent:
		out = success("Búsqueda exitosa: %d caracteres de contenido recopilado", len([]rune(content)))
	default:
		out = warning("Contenido insuficiente: %d caracteres (mínimo %d)",
			len([]rune(content)), v.rules.Thresholds.MinSearchContent)
	}
	out.Relevance = rel
	return out
}
