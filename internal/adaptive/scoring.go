package adaptive

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/harrison/taskpilot/internal/validation"
)

// Signals are the content-quality measurements behind a score.
type Signals struct {
	ContentLength   int
	Sources         int
	Structure       int
	IndicatorPoints float64
	BoilerplateHits int
	Penalty         float64
}

type scoreCard struct {
	score   float64
	signals Signals
	reasons []string
}

func (c *scoreCard) add(points float64) { c.score += points }

func (c *scoreCard) reason(r string) { c.reasons = append(c.reasons, r) }

func (c *scoreCard) final() float64 {
	return math.Max(0, math.Min(100, math.Round(c.score*10)/10))
}

var urlRe = regexp.MustCompile(`https?://[^\s)\]]+`)

// scorer computes the completeness of one result category under a mode.
type scorer func(r validation.ToolResult, req Requirements) *scoreCard

func (c *Controller) scorerFor(cat validation.Category) scorer {
	switch cat {
	case validation.CategoryWebSearch:
		return c.scoreWebSearch
	case validation.CategoryCreation:
		return c.scoreCreation
	case validation.CategoryAnalysis:
		return c.scoreAnalysis
	default:
		return c.scoreText
	}
}

func (c *Controller) scoreWebSearch(r validation.ToolResult, req Requirements) *scoreCard {
	ws := r.(validation.WebSearchResult)
	card := &scoreCard{}

	sources := len(ws.ValidHits())
	if ws.Count > sources {
		sources = ws.Count
	}
	card.signals.Sources = sources
	card.add(30 * ratio(sources, req.MinSources))
	if sources < req.MinSources {
		card.reason(fmt.Sprintf("fuentes insuficientes: %d de %d", sources, req.MinSources))
	}

	c.scoreContent(card, ws.CollectedText(), req, contentWeights{length: 35, structure: 15, indicators: 20})
	return card
}

func (c *Controller) scoreAnalysis(r validation.ToolResult, req Requirements) *scoreCard {
	an := r.(validation.AnalysisResult)
	card := &scoreCard{}
	card.signals.Sources = len(distinct(urlRe.FindAllString(an.Content, -1)))
	c.scoreContent(card, an.Content, req, contentWeights{length: 45, structure: 25, indicators: 30})
	return card
}

func (c *Controller) scoreText(r validation.ToolResult, req Requirements) *scoreCard {
	card := &scoreCard{}
	content := validation.ContentOf(r)
	if strings.TrimSpace(content) != "" {
		card.signals.Sources = 1
	}
	c.scoreContent(card, content, req, contentWeights{length: 50, structure: 25, indicators: 25})
	return card
}

func (c *Controller) scoreCreation(r validation.ToolResult, req Requirements) *scoreCard {
	cr := r.(validation.CreationResult)
	card := &scoreCard{}

	if !cr.FileCreated || strings.TrimSpace(cr.FilePath) == "" {
		card.reason("no se creó ningún archivo")
		return card
	}
	card.add(40)
	card.signals.Sources = 1

	size := cr.FileSize
	if c.fs != nil {
		info, err := c.fs.Stat(cr.FilePath)
		if err != nil {
			card.reason(fmt.Sprintf("archivo no verificable: %v", err))
			return card
		}
		size = info.Size()
	}
	card.signals.ContentLength = int(size)
	switch {
	case size >= int64(req.MinContentLength):
		card.add(30)
	case size > 0:
		card.add(15)
		card.reason(fmt.Sprintf("archivo pequeño: %d bytes (mínimo %d)", size, req.MinContentLength))
	default:
		card.reason("archivo vacío")
	}

	if strings.TrimSpace(cr.DownloadURL) != "" {
		card.add(30)
	} else {
		card.reason("sin URL de descarga")
	}
	return card
}

type contentWeights struct {
	length     float64
	structure  float64
	indicators float64
}

// scoreContent adds length, structure and real-data indicator points, then
// subtracts the boilerplate penalty.
func (c *Controller) scoreContent(card *scoreCard, content string, req Requirements, w contentWeights) {
	content = strings.TrimSpace(content)
	length := len([]rune(content))
	card.signals.ContentLength = length

	minLen := req.MinContentLength
	switch {
	case length >= 2*minLen:
		card.add(w.length)
	case length >= minLen:
		card.add(w.length * 0.8)
	case length >= minLen/2:
		card.add(w.length * 0.45)
		card.reason(fmt.Sprintf("contenido corto: %d caracteres (mínimo %d)", length, minLen))
	case length > 0:
		card.add(w.length * 0.15)
		card.reason(fmt.Sprintf("contenido muy corto: %d caracteres (mínimo %d)", length, minLen))
	default:
		card.reason("sin contenido")
	}
	if length == 0 {
		return
	}

	structure := validation.StructuralMarkers(content).Total()
	card.signals.Structure = structure
	switch {
	case structure >= 5:
		card.add(w.structure)
	case structure >= 2:
		card.add(w.structure * 0.65)
	case structure == 1:
		card.add(w.structure * 0.35)
	}

	points := 0.0
	for _, ind := range c.patterns.Indicators {
		points += float64(len(ind.re.FindAllStringIndex(content, -1))) * ind.Weight
	}
	points = math.Min(points, c.patterns.IndicatorCap)
	card.signals.IndicatorPoints = points
	if c.patterns.IndicatorCap > 0 {
		card.add(w.indicators * points / c.patterns.IndicatorCap)
	}
	if points == 0 {
		card.reason("sin datos concretos (cifras, fechas, enlaces o citas)")
	}

	hits := 0
	for _, re := range c.patterns.boilerplate {
		hits += len(re.FindAllStringIndex(content, -1))
	}
	card.signals.BoilerplateHits = hits
	if excess := hits - c.patterns.BoilerplateAllowance; excess > 0 {
		penalty := math.Min(float64(excess)*c.patterns.BoilerplatePenalty, c.patterns.MaxPenalty)
		card.signals.Penalty = penalty
		card.add(-penalty)
		card.reason(fmt.Sprintf("exceso de texto genérico (%d frases)", hits))
	}
}

func ratio(have, want int) float64 {
	if want <= 0 {
		return 1
	}
	return math.Min(float64(have)/float64(want), 1)
}

func distinct(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}
