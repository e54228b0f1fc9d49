package schedule

import "time"

// Calendar is the day-by-day delivery reconstruction of a month.
type Calendar struct {
	CustomerID int64               `json:"customer_id"`
	Year       int                 `json:"year"`
	Month      time.Month          `json:"month"`
	Days       []CalendarDay       `json:"days"`
	Warnings   []ResolutionWarning `json:"-"`
}

// Generator drives resolution and overlay across every date of a month.
type Generator struct {
	overlay *Overlay
}

// NewGenerator constructs a Generator. A nil overlay uses the default rules.
func NewGenerator(overlay *Overlay) *Generator {
	if overlay == nil {
		overlay = NewOverlay()
	}
	return &Generator{overlay: overlay}
}

// MonthInput carries everything fetched for one customer-month before computing.
type MonthInput struct {
	CustomerID int64
	Year       int
	Month      time.Month
	Versions   []PatternVersion
	Changes    []TemporaryChange
	Products   map[int64]Product
}

// Generate returns exactly one CalendarDay per date of the month in date order.
// It is pure over its input.
func (g *Generator) Generate(in MonthInput) Calendar {
	first, last := MonthBounds(in.Year, in.Month)
	cal := Calendar{
		CustomerID: in.CustomerID,
		Year:       in.Year,
		Month:      in.Month,
		Days:       make([]CalendarDay, 0, last.Day()),
	}

	changesByDate := make(map[time.Time][]TemporaryChange)
	for _, c := range in.Changes {
		if c.CustomerID != 0 && c.CustomerID != in.CustomerID {
			continue
		}
		d := DateOf(c.ChangeDate)
		changesByDate[d] = append(changesByDate[d], c)
	}
	products := productIDs(in.Versions)

	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		resolved := make([]ResolvedPattern, 0, len(products))
		for _, productID := range products {
			version, warning := Resolve(in.Versions, in.CustomerID, productID, day)
			if warning != nil {
				cal.Warnings = append(cal.Warnings, *warning)
			}
			if version != nil {
				resolved = append(resolved, ResolvedPattern{Version: *version})
			}
		}
		lines := g.overlay.Apply(day, resolved, changesByDate[day], in.Products)
		cal.Days = append(cal.Days, CalendarDay{
			Date:    day,
			Weekday: day.Weekday(),
			Lines:   lines,
		})
	}
	return cal
}
