package services

import (
	"slices"
	"strings"
	"time"

	"github.com/Ashwin-0055/flowsync/database"
)

// CardFilter narrows a board's cards. Empty fields match everything; a card
// passes when it matches every non-empty field.
type CardFilter struct {
	Search     string              `json:"search"`
	Priorities []database.Priority `json:"priorities"`
	ListIDs    []string            `json:"listIds"`
	LabelIDs   []string            `json:"labelIds"`
}

// Matches reports whether card passes the filter. Labels match when the
// card carries any of the requested ones.
func (f CardFilter) Matches(card database.Card) bool {
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		if !strings.Contains(strings.ToLower(card.Title), term) &&
			!strings.Contains(strings.ToLower(card.Description), term) {
			return false
		}
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, card.Priority) {
		return false
	}
	if len(f.ListIDs) > 0 && !slices.Contains(f.ListIDs, card.ListID) {
		return false
	}
	if len(f.LabelIDs) > 0 && !slices.ContainsFunc(card.Labels, func(id string) bool {
		return slices.Contains(f.LabelIDs, id)
	}) {
		return false
	}
	return true
}

// FilterCards keeps the cards that pass f, preserving order
func FilterCards(cards []database.Card, f CardFilter) []database.Card {
	out := make([]database.Card, 0, len(cards))
	for _, c := range cards {
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	return out
}

// LiveLabelIDs drops label ids that no longer name a label on the board.
// Deleting a label does not touch the cards that reference it.
func LiveLabelIDs(ids []string, labels []database.Label) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if slices.ContainsFunc(labels, func(l database.Label) bool { return l.ID == id }) {
			out = append(out, id)
		}
	}
	return out
}

// WithLiveLabels returns a copy of the snapshot where every card only
// references labels that still exist
func WithLiveLabels(snap BoardSnapshot) BoardSnapshot {
	cards := make([]database.Card, len(snap.Cards))
	for i, c := range snap.Cards {
		c.Labels = LiveLabelIDs(c.Labels, snap.Labels)
		cards[i] = c
	}
	snap.Cards = cards
	return snap
}

// CalendarDay is one cell of a month grid
type CalendarDay struct {
	Date    time.Time       `json:"date"`
	InMonth bool            `json:"inMonth"`
	Cards   []database.Card `json:"cards"`
}

// CalendarMonth lays out the weeks covering month (Sunday first) and puts
// every card with a due date on its day. Days are compared in loc.
func CalendarMonth(cards []database.Card, year int, month time.Month, loc *time.Location) []CalendarDay {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)
	start := first.AddDate(0, 0, -int(first.Weekday()))
	end := last.AddDate(0, 0, int(time.Saturday-last.Weekday()))

	var days []CalendarDay
	index := make(map[string]int)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		index[d.Format(time.DateOnly)] = len(days)
		days = append(days, CalendarDay{
			Date:    d,
			InMonth: d.Month() == month,
			Cards:   []database.Card{},
		})
	}

	for _, c := range cards {
		if c.DueDate == nil {
			continue
		}
		if i, ok := index[c.DueDate.In(loc).Format(time.DateOnly)]; ok {
			days[i].Cards = append(days[i].Cards, c)
		}
	}
	return days
}
