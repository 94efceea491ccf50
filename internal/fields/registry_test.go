package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdir/pkg/domain"
)

func TestRegistryLookupIgnoresCase(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{"Business Name", "business name", "NAME", " name "} {
		d, ok := r.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, domain.KeyName, d.Key())
	}
	d, ok := r.Lookup("location")
	require.True(t, ok)
	assert.Equal(t, []string{domain.KeyLocation, domain.KeyDistrict}, d.Keys)
	assert.Equal(t, domain.TaxonomyLocation, d.Taxonomy)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(TextField("Name", "name", 1, 2), TextField("Title", "NAME", 1, 2))
	require.Error(t, err)
	_, err = NewRegistry(Descriptor{Name: "Broken", Keys: []string{"broken"}})
	require.Error(t, err)
}

func TestAddingAFieldIsOneEntry(t *testing.T) {
	r, err := NewRegistry(TextField("Tagline", "tagline", 3, 10))
	require.NoError(t, err)
	e := NewEngine(WithRegistry(r))
	res := e.Validate("tagline", domain.FieldInput{Value: "Fresh"}, Taxonomy{})
	require.True(t, res.OK)
	assert.Equal(t, "Fresh", res.Normalized["tagline"])
}

func TestRenderValue(t *testing.T) {
	assert.Equal(t, "", RenderValue(nil))
	assert.Equal(t, "x", RenderValue("x"))
	assert.Equal(t, "always open", RenderValue(domain.OperatingHours{AlwaysOpen: true}))
	assert.Equal(t, "1 image(s): a.png", RenderValue([]domain.ImageAsset{{Filename: "a.png"}}))
	assert.Equal(t, "2 product(s): A, B", RenderValue([]domain.Product{{ItemCode: "A"}, {ItemCode: "B"}}))
}

func TestTaxonomyWithAddsEntries(t *testing.T) {
	base := testTaxonomy()
	ext := base.With(domain.TaxonomyEntry{Kind: domain.TaxonomyDistrict, Parent: "mogadishu", Value: "Wadajir"})
	_, ok := base.Resolve(domain.TaxonomyDistrict, "Mogadishu", "wadajir")
	assert.False(t, ok)
	stored, ok := ext.Resolve(domain.TaxonomyDistrict, "Mogadishu", "wadajir")
	require.True(t, ok)
	assert.Equal(t, "Wadajir", stored)
	assert.Len(t, ext.Values(domain.TaxonomyDistrict, "MOGADISHU"), 2)
}
