package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
	"github.com/JakeFAU/shelfscan/internal/resolve"
)

var imageStrategies = []Strategy{
	imageFromJSONLD,
	imageFromMeta,
	imageFromGallery,
	imageFromImgTags,
	imageFromScraped,
	imageFromSources,
	imageFromNoscript,
	imageFromBackground,
	imageFromCardImg,
	imageFromBlobs,
}

var (
	directImageAttrs = []string{"data-src", "data-original", "data-lazy-src", "data-ll-src", "src"}
	srcsetAttrs      = []string{"data-srcset", "srcset"}
	gallerySelectors = []string{
		"div.product-detail__main-image",
		".product-image-container",
		".product-gallery",
		`[data-qa="product-image"]`,
		".main-product-image",
	}
	backgroundSelector = `div.product--image, div.lazyload-wrapper, div.product-image, [style*="background-image"]`
	cardImgSelector    = `a.product--view img, img.product-card_img, img[class*="product-card_img"]`

	cssURL       = regexp.MustCompile(`url\(\s*['"]?(.*?)['"]?\s*\)`)
	noscriptSrc  = regexp.MustCompile(`(?i)<img[^>]+src\s*=\s*["']([^"']+)["']`)
	blobImageExt = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", "/files/", "catalog.six"}
)

// imageCandidate resolves raw against the document and normalizes it.
func imageCandidate(doc *document.Document, raw string, weight int, source, alt string) (crawler.Candidate, bool) {
	u := resolve.NormalizeImageURL(doc.Resolve(raw))
	if u == "" {
		return crawler.Candidate{}, false
	}
	return crawler.Candidate{Value: u, Weight: weight, Source: source, Alt: alt}, true
}

func appendImage(out []crawler.Candidate, doc *document.Document, raw string, weight int, source, alt string) []crawler.Candidate {
	if c, ok := imageCandidate(doc, raw, weight, source, alt); ok {
		return append(out, c)
	}
	return out
}

func imageFromJSONLD(in Input) []crawler.Candidate {
	if !in.detail() {
		return nil
	}
	node := productLD(in.Doc)
	if node == nil {
		return nil
	}
	var out []crawler.Candidate
	values := imageValues(node["image"])
	if len(values) == 0 {
		values = imageValues(node["images"])
	}
	for _, v := range values {
		out = appendImage(out, in.Doc, v, 0, "jsonld", "")
	}
	return out
}

func imageFromMeta(in Input) []crawler.Candidate {
	if !in.detail() {
		return nil
	}
	var out []crawler.Candidate
	for _, key := range []string{"og:image", "twitter:image", "image"} {
		out = appendImage(out, in.Doc, in.Doc.Meta(key), 0, "meta", "")
	}
	return out
}

func imageFromGallery(in Input) []crawler.Candidate {
	if !in.detail() {
		return nil
	}
	var out []crawler.Candidate
	for _, selector := range gallerySelectors {
		in.Doc.Find(selector).Find("img").Each(func(_ int, img *goquery.Selection) {
			alt := img.AttrOr("alt", "")
			if e, ok := resolve.LargestFromSrcset(document.Attr(img, "srcset", "data-srcset")); ok {
				out = appendImage(out, in.Doc, e.URL, e.Width, "gallery", alt)
			}
			out = appendImage(out, in.Doc, document.Attr(img, "src", "data-src"), 0, "gallery", alt)
		})
	}
	return out
}

func placeholderRef(v string) bool {
	low := strings.ToLower(v)
	return strings.HasPrefix(low, "data:") || strings.HasPrefix(low, "blob:") || strings.Contains(low, "placeholder")
}

// imageFromImgTags reads every img: the first usable direct attribute, then
// the largest srcset entry.
func imageFromImgTags(in Input) []crawler.Candidate {
	var out []crawler.Candidate
	in.scope().Find("img").Each(func(_ int, img *goquery.Selection) {
		alt := img.AttrOr("alt", "")
		for _, attr := range directImageAttrs {
			v := strings.TrimSpace(img.AttrOr(attr, ""))
			if v == "" || placeholderRef(v) {
				continue
			}
			out = appendImage(out, in.Doc, v, 0, "img", alt)
			break
		}
		for _, attr := range srcsetAttrs {
			if e, ok := resolve.LargestFromSrcset(img.AttrOr(attr, "")); ok {
				out = appendImage(out, in.Doc, e.URL, e.Width, "srcset", alt)
				break
			}
		}
	})
	return out
}

// imageFromScraped reads the image computed in the browser by the listing
// interaction script.
func imageFromScraped(in Input) []crawler.Candidate {
	var out []crawler.Candidate
	if in.Node != nil {
		out = appendImage(out, in.Doc, in.Node.AttrOr("data-scraped-image", ""), 0, "scraped", "")
	}
	in.scope().Find("[data-scraped-image]").Each(func(_ int, s *goquery.Selection) {
		out = appendImage(out, in.Doc, s.AttrOr("data-scraped-image", ""), 0, "scraped", "")
	})
	return out
}

func imageFromSources(in Input) []crawler.Candidate {
	var out []crawler.Candidate
	in.scope().Find("picture source, source").Each(func(_ int, s *goquery.Selection) {
		if e, ok := resolve.LargestFromSrcset(document.Attr(s, "srcset", "data-srcset")); ok {
			out = appendImage(out, in.Doc, e.URL, e.Width, "source", "")
		}
	})
	return out
}

// imageFromNoscript parses img tags inside noscript, whose content the HTML
// parser keeps as raw text.
func imageFromNoscript(in Input) []crawler.Candidate {
	var out []crawler.Candidate
	in.scope().Find("noscript").Each(func(_ int, s *goquery.Selection) {
		for _, m := range noscriptSrc.FindAllStringSubmatch(s.Text(), -1) {
			out = appendImage(out, in.Doc, m[1], 0, "noscript", "")
		}
	})
	return out
}

func imageFromBackground(in Input) []crawler.Candidate {
	var out []crawler.Candidate
	in.scope().Find(backgroundSelector).Each(func(_ int, s *goquery.Selection) {
		if m := cssURL.FindStringSubmatch(s.AttrOr("style", "")); m != nil {
			out = appendImage(out, in.Doc, m[1], 0, "background", "")
		}
	})
	return out
}

func imageFromCardImg(in Input) []crawler.Candidate {
	var out []crawler.Candidate
	in.scope().Find(cardImgSelector).Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"data-src", "src"} {
			v := strings.TrimSpace(img.AttrOr(attr, ""))
			if v == "" || placeholderRef(v) {
				continue
			}
			out = appendImage(out, in.Doc, v, 0, "card_img", img.AttrOr("alt", ""))
			break
		}
	})
	return out
}

// imageFromBlobs is the last resort: any absolute URL string in inlined
// data that looks like an image.
func imageFromBlobs(in Input) []crawler.Candidate {
	if !in.detail() {
		return nil
	}
	var out []crawler.Candidate
	for _, blob := range in.Doc.EmbeddedJSON() {
		document.Walk(blob, func(_ string, value any) bool {
			s, ok := value.(string)
			if !ok || !strings.HasPrefix(s, "http") {
				return true
			}
			low := strings.ToLower(s)
			for _, marker := range blobImageExt {
				if strings.Contains(low, marker) {
					out = appendImage(out, in.Doc, s, 0, "blob", "")
					break
				}
			}
			return true
		})
	}
	return out
}
