package crawlstate

import (
	"github.com/JakeFAU/shelfscan/internal/crawler"
	"github.com/JakeFAU/shelfscan/internal/document"
)

// Action is what the orchestrator should do after a page.
type Action string

// Actions returned by Step.
const (
	ActionAdvance   Action = "advance"
	ActionRehydrate Action = "rehydrate"
	ActionTerminate Action = "terminate"
)

// PageResult summarizes one fetched and parsed listing page.
type PageResult struct {
	// Doc is nil when the fetch was skipped after exhausting retries.
	Doc *document.Document
	// Nodes counts product nodes, placeholders included.
	Nodes int
	// Duplicates counts nodes whose identity was already reserved or seen.
	Duplicates int
	Skipped    bool
	// Rehydration marks the result of a one-shot re-fetch of the page.
	Rehydration bool
}

// Decision is the controller's verdict for one page.
type Decision struct {
	Action  Action
	NextURL string
	Reason  Reason
	// Via names the next-URL strategy; TotalSource the count signal learned
	// on this page, if any.
	Via         string
	TotalSource string
}

// Controller applies the pagination rules.
type Controller struct {
	cfg Config
}

// NewController returns a controller with cfg.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Start returns the initial state for a listing.
func (c *Controller) Start(seedURL string) State {
	return New(seedURL, c.cfg)
}

// Step folds one page result into s and decides what happens next.
func (c *Controller) Step(s State, r PageResult) (State, Decision) {
	if s.Terminated() {
		return s, Decision{Action: ActionTerminate, Reason: s.Reason}
	}
	s.Phase = PhaseParsing
	var d Decision

	if s.Page == 1 && (s.PageSize == 0 || (s.PageSizeDefaulted && r.Nodes > 0)) {
		s.PageSize = r.Nodes
		s.PageSizeDefaulted = false
		if s.PageSize == 0 {
			s.PageSize = c.cfg.DefaultPageSize
			s.PageSizeDefaulted = true
		}
	}

	// A total below the products already seen is promo or unit text.
	seen := (s.Page-1)*s.PageSize + r.Nodes
	if total, src := InferTotalAtLeast(r.Doc, r.Nodes, seen); total > 0 {
		s = c.learnTotal(s, total)
		d.TotalSource = src
	}

	if r.Nodes > 0 && float64(r.Duplicates)/float64(r.Nodes) > c.cfg.DuplicateRatio {
		s.DuplicateStreak++
	} else {
		s.DuplicateStreak = 0
	}
	if s.DuplicateStreak >= c.cfg.DuplicateStreak && s.TotalCount == 0 {
		return c.terminate(s, d, ReasonDuplicateStreak)
	}

	if r.Nodes == 0 || r.Skipped {
		if !r.Rehydration {
			s.EmptyStreak++
		}
		if s.TotalCount > 0 {
			if s.Page*s.PageSize >= s.TotalCount {
				return c.terminate(s, d, ReasonFinalPage)
			}
		} else {
			if s.EmptyStreak >= c.cfg.EmptyStreak && s.Page > c.cfg.MinSafePages {
				return c.terminate(s, d, ReasonEmptyStreak)
			}
			if !r.Skipped && !r.Rehydration && !s.Rehydrated && s.Page < s.MaxPages {
				s.Rehydrated = true
				s.Phase = PhaseRehydrating
				d.Action = ActionRehydrate
				d.NextURL = s.URL
				return s, d
			}
		}
	} else {
		s.EmptyStreak = 0
	}

	if s.Page >= s.MaxPages {
		return c.terminate(s, d, ReasonMaxPages)
	}

	next, via := NextURL(NextInput{
		Doc:          r.Doc,
		Current:      s.URL,
		Page:         s.Page,
		PageSize:     s.PageSize,
		Total:        s.TotalCount,
		MaxJumpPages: c.cfg.MaxJumpPages,
	})
	if next == "" {
		return c.terminate(s, d, ReasonNoNextURL)
	}
	if crawler.SameURL(next, s.URL) {
		return c.terminate(s, d, ReasonLoopGuard)
	}

	s.Page++
	s.URL = next
	s.Rehydrated = false
	s.Phase = PhaseAdvancing
	d.Action = ActionAdvance
	d.NextURL = next
	d.Via = via
	return s, d
}

// Fail terminates a listing whose seed page could not be fetched at all.
func (c *Controller) Fail(s State) State {
	return s.Terminate(ReasonSeedFailed)
}

// learnTotal records a count and recomputes the page cap. The cap never
// drops below the current page.
func (c *Controller) learnTotal(s State, total int) State {
	if total > s.TotalCount {
		s.TotalCount = total
	}
	size := s.PageSize
	if size <= 0 {
		size = c.cfg.DefaultPageSize
	}
	pages := (s.TotalCount + size - 1) / size
	if pages < s.Page {
		pages = s.Page
	}
	if c.cfg.AutoExpand {
		s.MaxPages = pages
	} else if pages < c.cfg.MaxPages {
		s.MaxPages = pages
	} else {
		s.MaxPages = c.cfg.MaxPages
	}
	return s
}

func (c *Controller) terminate(s State, d Decision, reason Reason) (State, Decision) {
	s = s.Terminate(reason)
	d.Action = ActionTerminate
	d.Reason = reason
	return s, d
}
