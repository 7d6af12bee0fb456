// Package crawlstate holds the per-listing pagination state machine. State
// is a plain value: the orchestrator owns one per listing and threads it
// through Controller.Step after every page.
package crawlstate

import "fmt"

// Phase is where a listing sits in its page cycle.
type Phase string

// Phases of a listing.
const (
	PhaseFetching    Phase = "fetching_page"
	PhaseParsing     Phase = "parsing"
	PhaseAdvancing   Phase = "advancing"
	PhaseRehydrating Phase = "rehydrating"
	PhaseTerminated  Phase = "terminated"
)

// Reason records why a listing stopped.
type Reason string

// Termination reasons.
const (
	ReasonNone            Reason = ""
	ReasonMaxPages        Reason = "max_pages"
	ReasonFinalPage       Reason = "final_page"
	ReasonDuplicateStreak Reason = "duplicate_streak"
	ReasonEmptyStreak     Reason = "empty_streak"
	ReasonLoopGuard       Reason = "loop_guard"
	ReasonNoNextURL       Reason = "no_next_url"
	ReasonSeedFailed      Reason = "seed_failed"
	ReasonCanceled        Reason = "canceled"
)

// Config tunes the controller.
type Config struct {
	MaxPages        int
	AutoExpand      bool
	MinSafePages    int
	DefaultPageSize int
	DuplicateRatio  float64
	DuplicateStreak int
	EmptyStreak     int
	// MaxJumpPages bounds how many pages one computed offset step may skip.
	MaxJumpPages int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MaxPages:        200,
		AutoExpand:      true,
		MinSafePages:    8,
		DefaultPageSize: 24,
		DuplicateRatio:  0.8,
		DuplicateStreak: 3,
		EmptyStreak:     5,
		MaxJumpPages:    8,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	switch {
	case c.MaxPages <= 0:
		return fmt.Errorf("max pages must be > 0")
	case c.MinSafePages < 0:
		return fmt.Errorf("min safe pages must be >= 0")
	case c.DefaultPageSize <= 0:
		return fmt.Errorf("default page size must be > 0")
	case c.DuplicateRatio <= 0 || c.DuplicateRatio > 1:
		return fmt.Errorf("duplicate ratio must be in (0, 1]")
	case c.DuplicateStreak <= 0:
		return fmt.Errorf("duplicate streak must be > 0")
	case c.EmptyStreak <= 0:
		return fmt.Errorf("empty streak must be > 0")
	case c.MaxJumpPages <= 0:
		return fmt.Errorf("max jump pages must be > 0")
	}
	return nil
}

// State is the pagination state of one listing.
type State struct {
	SeedURL string
	URL     string
	Page    int
	// PageSize is fixed from page 1. PageSizeDefaulted marks a fallback
	// size that a rehydrated page 1 may still replace.
	PageSize          int
	PageSizeDefaulted bool
	// TotalCount is zero while unknown and never decreases.
	TotalCount      int
	DuplicateStreak int
	EmptyStreak     int
	MaxPages        int
	// Rehydrated is set once the current page has been re-fetched.
	Rehydrated bool
	Phase      Phase
	Reason     Reason
}

// New starts a listing at page 1.
func New(seedURL string, cfg Config) State {
	return State{
		SeedURL:  seedURL,
		URL:      seedURL,
		Page:     1,
		MaxPages: cfg.MaxPages,
		Phase:    PhaseFetching,
	}
}

// Terminated reports whether the listing is finished.
func (s State) Terminated() bool {
	return s.Phase == PhaseTerminated
}

// Terminate marks the listing finished for reason.
func (s State) Terminate(reason Reason) State {
	s.Phase = PhaseTerminated
	s.Reason = reason
	return s
}
