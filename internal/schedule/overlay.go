package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ResolvedPattern is the version governing a product on a date.
type ResolvedPattern struct {
	Version PatternVersion
}

// Quantity returns the weekday quantity for date.
func (r ResolvedPattern) Quantity(date time.Time) int {
	return r.Version.Quantities.For(DateOf(date).Weekday())
}

type slotKey struct {
	productID int64
	kind      LineKind
}

// DayPlan is the mutable working set the overlay rules operate on.
type DayPlan struct {
	Date     time.Time
	resolved map[int64]ResolvedPattern
	products map[int64]Product
	lines    map[slotKey]*DeliveryLine
}

func (p *DayPlan) product(id int64) Product {
	if prod, ok := p.products[id]; ok {
		return prod
	}
	return Product{ID: id, Name: fmt.Sprintf("product #%d", id)}
}

// priceFor picks the override, then the governing version's price, then the product default.
func (p *DayPlan) priceFor(productID int64, override *decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	if r, ok := p.resolved[productID]; ok {
		return r.Version.UnitPrice
	}
	return p.product(productID).DefaultPrice
}

func (p *DayPlan) put(productID int64, kind LineKind, quantity int, price decimal.Decimal, modified bool) {
	prod := p.product(productID)
	name := prod.Name
	if kind == LineExtra {
		name = ExtraLabelPrefix + name
	}
	p.lines[slotKey{productID: productID, kind: kind}] = &DeliveryLine{
		ProductID:   productID,
		ProductName: name,
		Kind:        kind,
		Quantity:    quantity,
		UnitPrice:   price,
		Unit:        prod.Unit,
		Modified:    modified,
	}
}

func (p *DayPlan) drop(match func(slotKey) bool) {
	for key := range p.lines {
		if match(key) {
			delete(p.lines, key)
		}
	}
}

// OverlayRule mutates the day plan for one change type. Rules run in order,
// so a later rule overrides the effect of an earlier one.
type OverlayRule struct {
	Name  string
	Apply func(plan *DayPlan, changes []TemporaryChange)
}

// DefaultRules encodes the precedence skip > modify > add > pattern.
var DefaultRules = []OverlayRule{
	{Name: "pattern", Apply: applyPattern},
	{Name: "modify", Apply: applyModify},
	{Name: "add", Apply: applyAdd},
	{Name: "skip-all", Apply: applySkipAll},
	{Name: "skip-product", Apply: applySkipProduct},
	{Name: "positive-quantity", Apply: dropEmptyLines},
}

// Overlay merges temporary changes onto resolved patterns for a single date.
type Overlay struct {
	rules []OverlayRule
}

// NewOverlay builds an overlay engine; without rules DefaultRules are used.
func NewOverlay(rules ...OverlayRule) *Overlay {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Overlay{rules: rules}
}

// Apply returns the deduplicated delivery lines for date, ordered by product
// with contracted lines before extras. Lines never carry a zero quantity.
func (o *Overlay) Apply(date time.Time, resolved []ResolvedPattern, changes []TemporaryChange, products map[int64]Product) []DeliveryLine {
	day := DateOf(date)
	plan := &DayPlan{
		Date:     day,
		resolved: make(map[int64]ResolvedPattern, len(resolved)),
		products: products,
		lines:    make(map[slotKey]*DeliveryLine),
	}
	for _, r := range resolved {
		plan.resolved[r.Version.ProductID] = r
	}

	sameDay := make([]TemporaryChange, 0, len(changes))
	for _, c := range changes {
		if DateOf(c.ChangeDate).Equal(day) {
			sameDay = append(sameDay, c)
		}
	}
	sort.SliceStable(sameDay, func(i, j int) bool { return sameDay[i].ID < sameDay[j].ID })

	for _, rule := range o.rules {
		rule.Apply(plan, sameDay)
	}

	out := make([]DeliveryLine, 0, len(plan.lines))
	for _, line := range plan.lines {
		l := *line
		l.Amount = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Kind == LineContracted && out[j].Kind == LineExtra
	})
	return out
}

func applyPattern(plan *DayPlan, _ []TemporaryChange) {
	for productID, r := range plan.resolved {
		plan.put(productID, LineContracted, r.Quantity(plan.Date), r.Version.UnitPrice, false)
	}
}

func applyModify(plan *DayPlan, changes []TemporaryChange) {
	for _, c := range changes {
		if c.Type != ChangeModify || c.ProductID == nil || c.Quantity == nil {
			continue
		}
		plan.put(*c.ProductID, LineContracted, *c.Quantity, plan.priceFor(*c.ProductID, c.UnitPrice), true)
	}
}

func applyAdd(plan *DayPlan, changes []TemporaryChange) {
	for _, c := range changes {
		if c.Type != ChangeAdd || c.ProductID == nil || c.Quantity == nil {
			continue
		}
		plan.put(*c.ProductID, LineExtra, *c.Quantity, plan.priceFor(*c.ProductID, c.UnitPrice), false)
	}
}

func applySkipAll(plan *DayPlan, changes []TemporaryChange) {
	for _, c := range changes {
		if c.SkipsAll() {
			plan.drop(func(k slotKey) bool { return k.kind == LineContracted })
			return
		}
	}
}

func applySkipProduct(plan *DayPlan, changes []TemporaryChange) {
	for _, c := range changes {
		if c.Type != ChangeSkip || c.ProductID == nil {
			continue
		}
		productID := *c.ProductID
		plan.drop(func(k slotKey) bool { return k.productID == productID })
	}
}

func dropEmptyLines(plan *DayPlan, _ []TemporaryChange) {
	plan.drop(func(k slotKey) bool { return plan.lines[k].Quantity <= 0 })
}
