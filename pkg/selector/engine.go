package selector

import (
	"regexp"
	"strings"
	"sync"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
)

// backgroundURL captures the URL of a CSS background or background-image declaration.
var backgroundURL = regexp.MustCompile(`(?i)background(?:-image)?\s*:[^;]*url\(\s*["']?([^"')]+?)["']?\s*\)`)

// Engine resolves selector expressions against goquery scopes. Compiled candidates
// are cached, so an Engine should be shared by every scraper in the process.
type Engine struct {
	logger   *zap.Logger
	compiled sync.Map // candidate -> compiled
}

type compiled struct {
	sel cascadia.Selector
	err error
}

// NewEngine creates a selector engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Resolve tries each candidate of expr against scope in order. The first candidate
// that matches at least one element wins and the value is extracted from its first
// element; later candidates are never tried. A candidate that fails to compile is
// treated as a candidate that matched nothing. When nothing matches the returned
// Match has Found == false.
func (e *Engine) Resolve(expr string, kind model.ContentKind, scope *goquery.Selection) model.Match {
	if scope == nil || scope.Length() == 0 {
		return model.Match{}
	}

	for _, candidate := range Split(expr) {
		sel, err := e.compile(candidate)
		if err != nil {
			e.logger.Debug("Skipping malformed selector candidate",
				zap.String("candidate", candidate),
				zap.Error(err))
			continue
		}

		found := scope.FindMatcher(sel)
		if found.Length() == 0 {
			continue
		}

		value, fromText := Extract(found.First(), kind)
		return model.Match{
			Found:    true,
			Selector: candidate,
			Value:    value,
			FromText: fromText,
		}
	}

	e.logger.Debug("No selector candidate matched", zap.String("selector", expr))
	return model.Match{}
}

func (e *Engine) compile(candidate string) (cascadia.Selector, error) {
	if c, ok := e.compiled.Load(candidate); ok {
		entry := c.(compiled)
		return entry.sel, entry.err
	}
	sel, err := cascadia.Compile(candidate)
	e.compiled.Store(candidate, compiled{sel: sel, err: err})
	return sel, err
}

// Extract pulls the value of kind from el. When the kind-specific value is empty the
// element's text is returned instead, which may itself be empty, and fromText
// reports it for link and image kinds.
func Extract(el *goquery.Selection, kind model.ContentKind) (value string, fromText bool) {
	switch kind {
	case model.ContentLink:
		value = attr(el, "href")
	case model.ContentImage:
		value = imageSource(el)
	default:
		return Text(el), false
	}
	if value != "" {
		return value, false
	}
	return Text(el), true
}

// Text returns the element's text with whitespace runs collapsed to single spaces.
func Text(el *goquery.Selection) string {
	return strings.Join(strings.Fields(el.Text()), " ")
}

func imageSource(el *goquery.Selection) string {
	if src := attr(el, "src"); src != "" {
		return src
	}
	style, ok := el.Attr("style")
	if !ok {
		return ""
	}
	if m := backgroundURL.FindStringSubmatch(style); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func attr(el *goquery.Selection, name string) string {
	v, _ := el.Attr(name)
	return strings.TrimSpace(v)
}
