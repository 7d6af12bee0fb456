package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

func TestNormalizeImageURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"http://cdn.example/a.jpg":                                       "https://cdn.example/a.jpg",
		"https://cdn.example/a.jpg?w=1&amp;h=2":                          "https://cdn.example/a.jpg?w=1&h=2",
		"http://catalog-admin.prod.svc.cluster.local:8080/files/milk.png": "https://catalog.sixty60.co.za/files/milk.png",
		"  ": "",
	}
	for in, want := range tests {
		require.Equal(t, want, NormalizeImageURL(in), in)
	}
}

func TestImageNeverPicksShareCardOrTracker(t *testing.T) {
	t.Parallel()

	_, ok := Image([]crawler.Candidate{
		{Value: "https://shop.example/share-card.jpg", Weight: 1200},
		{Value: "https://t.co/i/adsct?p=1", Weight: 1},
		{Value: "https://www.facebook.com/tr?id=1", Weight: 1},
	})
	require.False(t, ok)

	got, ok := Image([]crawler.Candidate{
		{Value: "https://shop.example/og/share-card.jpg", Weight: 1200},
		{Value: "https://shop.example/p/milk.jpg"},
	})
	require.True(t, ok)
	require.Equal(t, "https://shop.example/p/milk.jpg", got)
}

func TestImageRanking(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		candidates []crawler.Candidate
		want       string
	}{
		{
			name: "highest width",
			candidates: []crawler.Candidate{
				{Value: "https://shop.example/a-300.jpg", Weight: 300},
				{Value: "https://shop.example/a-800.jpg", Weight: 800},
			},
			want: "https://shop.example/a-800.jpg",
		},
		{
			name: "allowlisted host beats width",
			candidates: []crawler.Candidate{
				{Value: "https://cdn.example/a-800.jpg", Weight: 800},
				{Value: "https://catalog.sixty60.co.za/files/a.jpg"},
			},
			want: "https://catalog.sixty60.co.za/files/a.jpg",
		},
		{
			name: "ties keep order",
			candidates: []crawler.Candidate{
				{Value: "https://shop.example/first.jpg"},
				{Value: "https://shop.example/second.jpg"},
			},
			want: "https://shop.example/first.jpg",
		},
		{
			name: "data uri svg and alt logo dropped",
			candidates: []crawler.Candidate{
				{Value: "data:image/gif;base64,R0lGOD", Weight: 5000},
				{Value: "https://shop.example/vector.svg", Weight: 4000},
				{Value: "https://shop.example/brand.png", Weight: 3000, Alt: "Store Logo"},
				{Value: "https://shop.example/bread.webp", Weight: 10},
			},
			want: "https://shop.example/bread.webp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Image(tt.candidates)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLargestFromSrcset(t *testing.T) {
	t.Parallel()

	e, ok := LargestFromSrcset("/a-320.jpg 320w, /a-1024.jpg 1024w, /a-640.jpg 640w")
	require.True(t, ok)
	require.Equal(t, "/a-1024.jpg", e.URL)
	require.Equal(t, 1024, e.Width)

	e, ok = LargestFromSrcset("/a.jpg 1x, /a@2x.jpg 2x")
	require.True(t, ok)
	require.Equal(t, "/a@2x.jpg", e.URL)
	require.Equal(t, 2000, e.Width)

	e, ok = LargestFromSrcset("/only.jpg")
	require.True(t, ok)
	require.Equal(t, "/only.jpg", e.URL)

	_, ok = LargestFromSrcset(" , ")
	require.False(t, ok)
}

func TestCategoryFirstNonEmpty(t *testing.T) {
	t.Parallel()

	got, ok := Category([]crawler.Candidate{{Value: "  "}, {Value: " Dairy  Milk "}, {Value: "Food"}})
	require.True(t, ok)
	require.Equal(t, "Dairy Milk", got)

	_, ok = Category(nil)
	require.False(t, ok)
}
