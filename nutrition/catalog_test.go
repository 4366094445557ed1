package nutrition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecipes = `[
	{"name": "Dal Tadka", "calories": 210, "proteinG": 11, "fatG": 6, "carbG": 28, "sodiumMg": 480, "potassiumMg": 520, "phosphorusMg": 180},
	{"name": "Palak Paneer", "calories": 320, "proteinG": 14, "fatG": 24, "carbG": 12, "sodiumMg": 720, "potassiumMg": 840, "phosphorusMg": 260},
	{"name": "Plain Rice", "calories": 180, "proteinG": 4, "fatG": 1, "carbG": 39, "sodiumMg": 5, "potassiumMg": 55, "phosphorusMg": 60},
	{"name": "Masala Dosa", "calories": 290, "proteinG": 7, "fatG": 10, "carbG": 42, "sodiumMg": 610, "potassiumMg": 410, "phosphorusMg": 310}
]`

func loadSample(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load(strings.NewReader(sampleRecipes))
	require.NoError(t, err)
	return c
}

func TestLoad(t *testing.T) {
	c := loadSample(t)
	assert.Equal(t, 4, c.Len())

	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := Load(strings.NewReader(`{"not": "a list"`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode recipe catalog")
	})
}

func TestRecipeFlags(t *testing.T) {
	limits := DefaultRenalLimits()

	tests := []struct {
		name   string
		recipe Recipe
		want   []Flag
	}{
		{
			name:   "within all limits",
			recipe: Recipe{Name: "Plain Rice", SodiumMg: 5, PotassiumMg: 55, PhosphorusMg: 60},
			want:   nil,
		},
		{
			name:   "sodium and potassium exceeded",
			recipe: Recipe{Name: "Palak Paneer", SodiumMg: 720, PotassiumMg: 840, PhosphorusMg: 260},
			want:   []Flag{FlagHighSodium, FlagHighPotassium},
		},
		{
			name:   "all three exceeded keeps fixed order",
			recipe: Recipe{Name: "Worst Case", SodiumMg: 1000, PotassiumMg: 1000, PhosphorusMg: 1000},
			want:   []Flag{FlagHighSodium, FlagHighPotassium, FlagHighPhosphorus},
		},
		{
			name:   "exactly at the limit does not flag",
			recipe: Recipe{Name: "Boundary", SodiumMg: 600, PotassiumMg: 700, PhosphorusMg: 300},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.recipe.Flags(limits))
		})
	}
}

func TestCatalogSearch(t *testing.T) {
	c := loadSample(t)

	t.Run("empty query returns everything", func(t *testing.T) {
		all := c.Search("")
		assert.Len(t, all, 4)
		assert.Equal(t, "Dal Tadka", all[0].Name)
	})

	t.Run("case-insensitive substring", func(t *testing.T) {
		got := c.Search("PANEER")
		require.Len(t, got, 1)
		assert.Equal(t, "Palak Paneer", got[0].Name)
	})

	t.Run("no hits", func(t *testing.T) {
		assert.Empty(t, c.Search("biryani"))
	})
}

func TestCatalogFlagged(t *testing.T) {
	c := loadSample(t)
	limits := DefaultRenalLimits()

	sodium := c.Flagged(FlagHighSodium, limits)
	require.Len(t, sodium, 2)
	assert.Equal(t, "Palak Paneer", sodium[0].Name)
	assert.Equal(t, "Masala Dosa", sodium[1].Name)

	potassium := c.Flagged(FlagHighPotassium, limits)
	require.Len(t, potassium, 1)
	assert.Equal(t, "Palak Paneer", potassium[0].Name)

	phosphorus := c.Flagged(FlagHighPhosphorus, limits)
	require.Len(t, phosphorus, 1)
	assert.Equal(t, "Masala Dosa", phosphorus[0].Name)
}
