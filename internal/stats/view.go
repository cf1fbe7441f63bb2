package stats

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"hordegraphy/internal/attendance"
	"hordegraphy/internal/fuzzy"
)

// SessionRef identifies one session slot.
type SessionRef struct {
	Date    string             `json:"date"`
	Variant attendance.Variant `json:"variant"`
	Index   int                `json:"index"`
}

func (r SessionRef) String() string {
	return fmt.Sprintf("%s:%s:%d", r.Date, r.Variant, r.Index)
}

// ParseSessionRef parses the date:variant:index form produced by String.
func ParseSessionRef(s string) (SessionRef, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return SessionRef{}, fmt.Errorf("session %q: want date:variant:index", s)
	}
	if _, err := time.Parse(time.DateOnly, parts[0]); err != nil {
		return SessionRef{}, fmt.Errorf("session %q: %w", s, err)
	}
	v, err := attendance.ParseVariant(parts[1])
	if err != nil {
		return SessionRef{}, err
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil || idx < 0 || idx >= attendance.SessionsPerDay {
		return SessionRef{}, fmt.Errorf("session %q: bad index", s)
	}
	return SessionRef{Date: parts[0], Variant: v, Index: idx}, nil
}

// SessionFilter is either unset or set to one session.
type SessionFilter struct {
	set bool
	ref SessionRef
}

// Click selects ref, or clears the filter when ref is already selected.
func (f SessionFilter) Click(ref SessionRef) SessionFilter {
	if f.set && f.ref == ref {
		return SessionFilter{}
	}
	return SessionFilter{set: true, ref: ref}
}

// Clear returns the unset filter.
func (f SessionFilter) Clear() SessionFilter { return SessionFilter{} }

// Active returns the selected session, if any.
func (f SessionFilter) Active() (SessionRef, bool) { return f.ref, f.set }

// SortMode is the state of the total sort control.
type SortMode int

const (
	SortNone SortMode = iota
	SortDesc
)

// Toggle cycles none → desc → none.
func (m SortMode) Toggle() SortMode {
	if m == SortDesc {
		return SortNone
	}
	return SortDesc
}

func (m SortMode) String() string {
	if m == SortDesc {
		return "desc"
	}
	return "none"
}

// ViewState is everything the presentation controls about the table.
type ViewState struct {
	Year   int
	Month  time.Month
	Search string
	Filter SessionFilter
	Sort   SortMode
}

// NewViewState starts at the month of now with no filter and no sort.
func NewViewState(now time.Time) ViewState {
	return ViewState{Year: now.Year(), Month: now.Month()}
}

// SetMonth changes the displayed month and drops any session filter.
func (s *ViewState) SetMonth(year int, month time.Month) {
	s.Year, s.Month = year, month
	s.Filter = s.Filter.Clear()
}

// ClickSession toggles the session filter on ref.
func (s *ViewState) ClickSession(ref SessionRef) {
	s.Filter = s.Filter.Click(ref)
}

// ToggleSort flips the total sort.
func (s *ViewState) ToggleSort() {
	s.Sort = s.Sort.Toggle()
}

// View runs the table pipeline: name search, then session filter, then the
// optional total sort. Unsorted rows keep canonical order.
func View(members []attendance.Member, src Sources, state ViewState) []Row {
	rows := Rollup(members, src, state.Year, state.Month)

	if state.Search != "" {
		rows = slices.DeleteFunc(rows, func(r Row) bool {
			return !fuzzy.Matches(r.Member.Name, state.Search)
		})
	}

	if ref, ok := state.Filter.Active(); ok {
		rows = slices.DeleteFunc(rows, func(r Row) bool {
			return !r.Attended(ref, state.Year, state.Month)
		})
	}

	if state.Sort == SortDesc {
		slices.SortStableFunc(rows, func(a, b Row) int {
			if c := cmp.Compare(b.Total(), a.Total()); c != 0 {
				return c
			}
			return cmp.Compare(b.TotalOffline, a.TotalOffline)
		})
	}
	return rows
}
