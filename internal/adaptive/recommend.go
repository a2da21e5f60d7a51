package adaptive

import (
	"fmt"

	"github.com/harrison/taskpilot/internal/validation"
)

var toolRecommendations = map[validation.Category][]string{
	validation.CategoryWebSearch: {
		"Reformular la consulta con términos más específicos (nombres propios, modelos, fechas)",
		"Solicitar más resultados o combinar varias consultas complementarias",
		"Extraer el contenido de las páginas en lugar de quedarse con los títulos",
	},
	validation.CategoryAnalysis: {
		"Estructurar el análisis con secciones, listas o tablas",
		"Apoyar cada conclusión con cifras, fechas o citas de las fuentes",
		"Ampliar el análisis a todos los puntos pedidos en la descripción del paso",
	},
	validation.CategoryCreation: {
		"Verificar que el archivo se escribe en disco y no queda vacío",
		"Generar la URL de descarga del archivo creado",
		"Incluir en el archivo el contenido completo recopilado en pasos anteriores",
	},
	validation.CategoryGeneric: {
		"Ampliar la respuesta con el detalle que pide el paso",
		"Incluir datos concretos en lugar de descripciones generales",
		"Organizar la respuesta en secciones",
	},
}

// RecommendImprovements returns advisory suggestions for the next attempt.
// The suggestions depend only on the score band, the signals and the tool,
// so the same assessment always yields the same list.
func RecommendImprovements(a Assessment, tool string) []string {
	cat := validation.ParseCategory(tool)
	tips, ok := toolRecommendations[cat]
	if !ok {
		tips = toolRecommendations[validation.CategoryGeneric]
	}
	req := a.Mode.Requirements()

	var out []string
	switch {
	case a.CompletenessScore < 20:
		out = append(out, "Resultado prácticamente vacío: repetir el paso desde cero")
		out = append(out, tips...)
	case a.CompletenessScore < 40:
		out = append(out, "Resultado muy incompleto: corregir las carencias principales")
		out = append(out, tips[:2]...)
	case a.CompletenessScore < 60:
		out = append(out, "Resultado parcial: completar la información que falta")
		out = append(out, tips[0])
	case a.CompletenessScore < 80:
		out = append(out, "Resultado aceptable: pulir detalles para alcanzar el nivel estricto")
	default:
		return nil
	}

	if a.Signals.Sources < req.MinSources && cat != validation.CategoryCreation {
		out = append(out, fmt.Sprintf("Obtener al menos %d fuentes (actualmente %d)", req.MinSources, a.Signals.Sources))
	}
	if a.Signals.ContentLength < req.MinContentLength && cat != validation.CategoryCreation {
		out = append(out, fmt.Sprintf("Ampliar el contenido hasta %d caracteres (actualmente %d)", req.MinContentLength, a.Signals.ContentLength))
	}
	if a.Signals.Penalty > 0 {
		out = append(out, "Eliminar frases genéricas y de relleno")
	}
	if a.Research != nil && len(a.Research.Forbidden) > 0 {
		out = append(out, "Reportar hallazgos concretos en lugar de describir lo que se va a hacer")
	}
	return out
}

// RecommendImprovements applies the package level rule.
func (c *Controller) RecommendImprovements(a Assessment, tool string) []string {
	return RecommendImprovements(a, tool)
}
