package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_PrefersExactQualifiedName(t *testing.T) {
	candidates := []Record{
		{Name: "Widget", QualifiedName: "Widget"},
		{Name: "Widget", QualifiedName: "ui::Widget"},
	}
	res := Resolve("ui::Widget", candidates)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, "ui::Widget", res.Match.QualifiedName)
}

func TestResolve_FallsBackToExactName(t *testing.T) {
	candidates := []Record{
		{Name: "Widget", QualifiedName: "ui::Widget"},
		{Name: "Gizmo", QualifiedName: "ui::Gizmo"},
	}
	res := Resolve("Widget", candidates)
	assert.False(t, res.Ambiguous)
	assert.Equal(t, "ui::Widget", res.Match.QualifiedName)
}

func TestResolve_FuzzyOrdersByScore(t *testing.T) {
	candidates := []Record{
		{Name: "WidgetFactory", QualifiedName: "ui::WidgetFactory"},
		{Name: "MyWidget", QualifiedName: "ui::MyWidget"},
	}
	res := Resolve("Widg", candidates)
	require := assert.New(t)
	require.False(res.Ambiguous)
	require.NotNil(res.Match)
	require.Equal("ui::WidgetFactory", res.Match.QualifiedName)
}

func TestResolve_AmbiguousOnTopTierTie(t *testing.T) {
	candidates := []Record{
		{Name: "Widget", QualifiedName: "a::Widget"},
		{Name: "Widget", QualifiedName: "b::Widget"},
	}
	res := Resolve("Widget", candidates)
	assert.True(t, res.Ambiguous)
	assert.Len(t, res.Tied, 2)
}

func TestResolve_EmptyCandidatesYieldsNoMatch(t *testing.T) {
	res := Resolve("anything", nil)
	assert.Nil(t, res.Match)
	assert.False(t, res.Ambiguous)
}
