package document

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

const samplePage = `<!doctype html>
<html><head>
<title>  Full Cream
 Milk | Shop </title>
<meta property="og:image" content="/img/milk.jpg">
<meta name="keywords" content="Dairy, Milk">
<script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"BreadcrumbList"},{"@type":"Product","name":"Milk"}]}</script>
<script type="application/ld+json">{broken</script>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"product":{"price":"24.99"}}}}</script>
<script>window.__INITIAL_STATE__ = {"total": 50, "label": "a } brace"}; var x = 1;</script>
</head>
<body>
<div class="price">R62<sup>.99</sup></div>
<script>var ignored = "not text";</script>
<p>Fresh   and
cold</p>
</body></html>`

func mustParse(t *testing.T) *Document {
	t.Helper()
	doc, err := Parse("https://shop.example/food/milk", []byte(samplePage))
	require.NoError(t, err)
	return doc
}

func TestParseRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := Parse("://bad", []byte("<html></html>"))
	require.Error(t, err)
}

func TestFromResponse(t *testing.T) {
	t.Parallel()

	doc, err := FromResponse(crawler.FetchResponse{URL: "https://shop.example/", Body: []byte("<p>hi</p>")})
	require.NoError(t, err)
	require.Equal(t, "https://shop.example/", doc.URL())
	require.Equal(t, "hi", doc.BodyText())
}

func TestResolve(t *testing.T) {
	t.Parallel()

	doc := mustParse(t)
	require.Equal(t, "https://shop.example/img/a.jpg", doc.Resolve("/img/a.jpg"))
	require.Equal(t, "https://shop.example/food/b.jpg", doc.Resolve("b.jpg"))
	require.Equal(t, "https://cdn.example/c.jpg", doc.Resolve("//cdn.example/c.jpg"))
	require.Equal(t, "https://shop.example/x?a=1&b=2", doc.Resolve("/x?a=1&amp;b=2"))
	require.Equal(t, "data:image/gif;base64,R0", doc.Resolve("data:image/gif;base64,R0"))
	require.Empty(t, doc.Resolve("   "))
}

func TestTitleMetaAndText(t *testing.T) {
	t.Parallel()

	doc := mustParse(t)
	require.Equal(t, "Full Cream Milk | Shop", doc.Title())
	require.Equal(t, "/img/milk.jpg", doc.Meta("og:image"))
	require.Equal(t, "Dairy, Milk", doc.Meta("keywords"))
	require.Empty(t, doc.Meta("twitter:image"))
	require.Equal(t, "R62 .99 Fresh and cold", doc.BodyText())
}

func TestJSONLDFlattensGraphAndSkipsBroken(t *testing.T) {
	t.Parallel()

	doc := mustParse(t)
	nodes := doc.JSONLD()
	require.Len(t, nodes, 3)
	var products int
	for _, n := range nodes {
		if m, ok := n.(map[string]any); ok && TypeMatches(m, "Product") {
			products++
			require.Equal(t, "Milk", String(m["name"]))
		}
	}
	require.Equal(t, 1, products)
}

func TestEmbeddedJSON(t *testing.T) {
	t.Parallel()

	doc := mustParse(t)
	blobs := doc.EmbeddedJSON()
	require.Len(t, blobs, 2)
	require.Equal(t, "24.99", Lookup(blobs[0], "props.pageProps.product.price"))
	require.InDelta(t, 50.0, Lookup(blobs[1], "total"), 0.001)
	require.Equal(t, "a } brace", Lookup(blobs[1], "label"))
}

func TestBalancedJSON(t *testing.T) {
	t.Parallel()

	require.Equal(t, `{"a":[1,2]}`, balancedJSON(` {"a":[1,2]}; rest`))
	require.Equal(t, `[{"s":"\"]"}]`, balancedJSON(`[{"s":"\"]"}] tail`))
	require.Empty(t, balancedJSON(`"string"`))
	require.Empty(t, balancedJSON(`{"open": 1`))
}

func TestWalkStopsEarly(t *testing.T) {
	t.Parallel()

	tree := map[string]any{"b": map[string]any{"target": "x"}, "a": []any{"y"}}
	var visited []string
	Walk(tree, func(key string, _ any) bool {
		visited = append(visited, key)
		return key != "target"
	})
	require.Equal(t, []string{"a", "", "b", "target"}, visited)
}

func TestFirstTextAndAttr(t *testing.T) {
	t.Parallel()

	doc, err := Parse("https://shop.example/", []byte(`<div><h3> </h3><h3>Bread  Loaf</h3><img data-src="/a.jpg" src=""></div>`))
	require.NoError(t, err)
	require.Equal(t, "Bread Loaf", FirstText(doc.Root(), "h2", "h3"))
	require.Equal(t, "/a.jpg", Attr(doc.Find("img"), "src", "data-src"))
	require.Empty(t, Attr(doc.Find("video"), "src"))
}
