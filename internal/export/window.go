package export

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Window is the inclusive range of calendar dates a run exports.
type Window struct {
	From time.Time
	To   time.Time
}

// PreviousMonth is the whole calendar month before now, in UTC.
func PreviousMonth(now time.Time) Window {
	now = now.UTC()
	firstOfCurrent := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Window{
		From: firstOfCurrent.AddDate(0, -1, 0),
		To:   firstOfCurrent.AddDate(0, 0, -1),
	}
}

// ParseWindow reads a back-fill range given as YYYY-MM-DD dates.
func ParseWindow(from, to string) (Window, error) {
	f, err := time.Parse(dateLayout, from)
	if err != nil {
		return Window{}, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	t, err := time.Parse(dateLayout, to)
	if err != nil {
		return Window{}, fmt.Errorf("invalid to date %q: %w", to, err)
	}
	if t.Before(f) {
		return Window{}, fmt.Errorf("to date %s is before from date %s", to, from)
	}
	return Window{From: f, To: t}, nil
}

func (w Window) FromDate() string { return w.From.Format(dateLayout) }
func (w Window) ToDate() string   { return w.To.Format(dateLayout) }
