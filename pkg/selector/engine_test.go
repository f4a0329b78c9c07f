package selector

import (
	"strings"
	"testing"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/model"
	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Selection
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"a.primary", "a.secondary"}, Split("a.primary, a.secondary"))
	assert.Equal(t, []string{":is(h1, h2) span", `[title="a,b"]`}, Split(`:is(h1, h2) span, [title="a,b"]`))
	assert.Equal(t, []string{"div > p"}, Split(" div > p ,, "))
	assert.Empty(t, Split("  "))
}

func TestResolve_FallbackOrder(t *testing.T) {
	e := NewEngine(nil)
	scope := parse(t, `<div><a class="secondary" href="/second">Second</a></div>`)

	m := e.Resolve("a.primary, a.secondary", model.ContentLink, scope)

	require.True(t, m.Found)
	assert.Equal(t, "a.secondary", m.Selector)
	assert.Equal(t, "/second", m.Value)
}

func TestResolve_FirstMatchingCandidateWins(t *testing.T) {
	e := NewEngine(nil)
	scope := parse(t, `<div><span class="b">B</span><span class="a">A</span></div>`)

	m := e.Resolve(".a, .b", model.ContentText, scope)

	require.True(t, m.Found)
	assert.Equal(t, "A", m.Value)
}

func TestResolve_MalformedCandidateIsSkipped(t *testing.T) {
	e := NewEngine(nil)
	scope := parse(t, `<h2 class="title">  Blue   Widget </h2>`)

	m := e.Resolve("h2[[, .title", model.ContentText, scope)

	require.True(t, m.Found)
	assert.Equal(t, ".title", m.Selector)
	assert.Equal(t, "Blue Widget", m.Value)
}

func TestResolve_NoMatch(t *testing.T) {
	e := NewEngine(nil)
	scope := parse(t, `<div><p>text</p></div>`)

	m := e.Resolve(".missing, #absent", model.ContentText, scope)

	assert.False(t, m.Found)
	assert.Equal(t, "", m.Value)
}

func TestResolve_ImageSources(t *testing.T) {
	e := NewEngine(nil)

	src := e.Resolve("img", model.ContentImage, parse(t, `<img src="/a.jpg">`))
	assert.Equal(t, "/a.jpg", src.Value)
	assert.False(t, src.FromText)

	bg := e.Resolve(".thumb", model.ContentImage,
		parse(t, `<div class="thumb" style="color: red; background-image: url(&quot;https://cdn/x.png&quot;)"></div>`))
	assert.Equal(t, "https://cdn/x.png", bg.Value)
}

func TestResolve_ImageFallsBackToText(t *testing.T) {
	e := NewEngine(nil)

	withText := e.Resolve(".pic", model.ContentImage, parse(t, `<span class="pic">no image</span>`))
	require.True(t, withText.Found)
	assert.Equal(t, "no image", withText.Value)
	assert.True(t, withText.FromText)

	empty := e.Resolve(".pic", model.ContentImage, parse(t, `<span class="pic"></span>`))
	require.True(t, empty.Found, "an element matched, so the field is defined")
	assert.Equal(t, "", empty.Value)
}

func TestResolve_LinkFallsBackToText(t *testing.T) {
	e := NewEngine(nil)

	m := e.Resolve("a", model.ContentLink, parse(t, `<a>View</a>`))

	assert.Equal(t, "View", m.Value)
	assert.True(t, m.FromText)

	text := e.Resolve("a", model.ContentText, parse(t, `<a href="/x">View</a>`))
	assert.False(t, text.FromText)
}
