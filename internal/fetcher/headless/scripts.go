package headless

import (
	"time"

	"github.com/JakeFAU/shelfscan/internal/crawler"
)

const productCards = `div.product-list__item, article.product-card, div.product-card, [data-cnstrc-item-id]`

// step is one page interaction: evaluate JS (an arrow function, possibly
// async), then pause.
type step struct {
	js    string
	pause time.Duration
}

// plan is the interaction sequence for one Script.
type plan struct {
	// waitFor is a selector awaited for at most waitTimeout. A timeout is not
	// an error: empty listings are judged by the crawl controller.
	waitFor     string
	waitTimeout time.Duration
	steps       []step
}

const (
	scrollTop    = `() => window.scrollTo(0, 0)`
	scrollScreen = `() => window.scrollBy(0, window.innerHeight)`
	scrollBottom = `() => window.scrollTo(0, document.body.scrollHeight)`
	fireResize   = `() => { window.dispatchEvent(new Event("resize")); }`

	hoverCards = `() => {
  document.querySelectorAll('div.product-list__item, div[class*="product"]').forEach(card => {
    card.dispatchEvent(new MouseEvent('mouseover', { bubbles: true }));
    card.dispatchEvent(new MouseEvent('mousemove', { bubbles: true }));
  });
}`

	revealCards = `async () => {
  const cards = Array.from(document.querySelectorAll('div.product-list__item, div[class*="product"]'));
  for (const el of cards) {
    try {
      el.scrollIntoView({block: 'center'});
      await new Promise(r => setTimeout(r, 120));
      el.dispatchEvent(new MouseEvent('mouseenter', { bubbles: true }));
      await new Promise(r => setTimeout(r, 80));
    } catch (e) {}
  }
}`

	// markScrapedImages stores the image each card actually displays in
	// data-scraped-image.
	markScrapedImages = `() => {
  const lastSrcset = v => { const parts = v.split(',').map(s => s.trim()); return parts[parts.length - 1].split(' ')[0]; };
  document.querySelectorAll('div.product-list__item, div[class*="product"]').forEach(item => {
    try {
      let src = null;
      const img = item.querySelector('img');
      if (img) {
        src = img.currentSrc || img.src || img.getAttribute('data-src') || img.getAttribute('data-original') || img.getAttribute('data-lazy-src');
        if (!src && img.getAttribute('srcset')) src = lastSrcset(img.getAttribute('srcset'));
      }
      if (!src) {
        const source = item.querySelector('picture source[srcset], source[srcset]');
        if (source) src = lastSrcset(source.getAttribute('srcset'));
      }
      if (!src) {
        const bg = item.querySelector('[style*="background-image"]');
        if (bg) {
          const m = bg.getAttribute('style').match(/url\(['"]?(.*?)['"]?\)/);
          if (m) src = m[1];
        }
      }
      if (src) item.setAttribute('data-scraped-image', src);
    } catch (e) {}
  });
}`

	// promoteLazy copies lazy-load attributes onto the live ones so the
	// serialized DOM carries them.
	promoteLazy = `() => {
  document.querySelectorAll('img[data-src]').forEach(img => {
    if (!img.getAttribute('src') || img.getAttribute('src').startsWith('data:')) img.setAttribute('src', img.getAttribute('data-src'));
  });
  document.querySelectorAll('img[data-srcset], source[data-srcset]').forEach(el => {
    if (!el.getAttribute('srcset')) el.setAttribute('srcset', el.getAttribute('data-srcset'));
  });
}`
)

func planFor(script crawler.Script) plan {
	switch script {
	case crawler.ScriptListing:
		return plan{
			waitFor:     productCards,
			waitTimeout: 15 * time.Second,
			steps: []step{
				{scrollTop, 250 * time.Millisecond},
				{scrollScreen, 300 * time.Millisecond},
				{scrollScreen, 300 * time.Millisecond},
				{scrollBottom, 600 * time.Millisecond},
				{hoverCards, 300 * time.Millisecond},
				{revealCards, 0},
				{markScrapedImages, 0},
				{promoteLazy, 0},
			},
		}
	case crawler.ScriptRehydrate:
		return plan{
			waitFor:     productCards,
			waitTimeout: 20 * time.Second,
			steps: []step{
				{scrollTop, time.Second},
				{scrollScreen, 600 * time.Millisecond},
				{scrollScreen, 600 * time.Millisecond},
				{scrollBottom, time.Second},
				{fireResize, 300 * time.Millisecond},
				{revealCards, 0},
				{markScrapedImages, 0},
				{promoteLazy, 0},
			},
		}
	case crawler.ScriptDetail:
		return plan{
			waitFor:     "h1, [class*=\"product\"]",
			waitTimeout: 10 * time.Second,
			steps: []step{
				{scrollTop, 250 * time.Millisecond},
				{scrollBottom, 500 * time.Millisecond},
				{scrollTop, 250 * time.Millisecond},
				{promoteLazy, 0},
			},
		}
	default:
		return plan{steps: []step{{"", 500 * time.Millisecond}}}
	}
}
