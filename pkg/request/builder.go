package request

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/analytics-loaders/bulkfetch/pkg/period"
)

// Builder produces the ordered specs of one logical fetch. Page IDs are
// assigned from 0 in build order.
type Builder interface {
	Build() ([]Spec, error)
}

// PeriodBuilder emits one spec per date window, writing the window bounds
// into the vendor's date parameters.
type PeriodBuilder struct {
	Template      Spec
	Start         time.Time
	End           time.Time
	MaxWindowDays int

	// FromParam and ToParam name the vendor's date query parameters
	// (e.g. date1/date2 for Metrika and Callibri).
	FromParam string
	ToParam   string

	// Layout formats the dates; time.DateOnly when empty.
	Layout string
}

// Build implements Builder.
func (b PeriodBuilder) Build() ([]Spec, error) {
	if b.FromParam == "" || b.ToParam == "" {
		return nil, fmt.Errorf("period builder: date parameter names are required")
	}
	windows, err := period.Split(b.Start, b.End, b.MaxWindowDays)
	if err != nil {
		return nil, err
	}

	layout := b.Layout
	if layout == "" {
		layout = time.DateOnly
	}

	specs := make([]Spec, 0, len(windows))
	for i, w := range windows {
		from, to := w.Format(layout)
		spec := b.Template.With(url.Values{
			b.FromParam: {from},
			b.ToParam:   {to},
		})
		spec.PageID = i
		specs = append(specs, spec)
	}
	return specs, nil
}

// OffsetBuilder emits offset/limit pages covering Total records.
type OffsetBuilder struct {
	Template    Spec
	OffsetParam string
	LimitParam  string
	Limit       int
	Total       int
}

// Build implements Builder.
func (b OffsetBuilder) Build() ([]Spec, error) {
	if b.Limit < 1 {
		return nil, fmt.Errorf("offset builder: limit must be >= 1 (got %d)", b.Limit)
	}
	if b.Total < 0 {
		return nil, fmt.Errorf("offset builder: total must be >= 0 (got %d)", b.Total)
	}
	offsetParam, limitParam := b.OffsetParam, b.LimitParam
	if offsetParam == "" {
		offsetParam = "offset"
	}
	if limitParam == "" {
		limitParam = "limit"
	}

	specs := make([]Spec, 0, (b.Total+b.Limit-1)/b.Limit)
	for offset, page := 0, 0; offset < b.Total; offset, page = offset+b.Limit, page+1 {
		spec := b.Template.With(url.Values{
			offsetParam: {strconv.Itoa(offset)},
			limitParam:  {strconv.Itoa(b.Limit)},
		})
		spec.PageID = page
		specs = append(specs, spec)
	}
	return specs, nil
}

// ListBuilder emits one spec per value of a single parameter, e.g. one
// issue query per assignee.
type ListBuilder struct {
	Template Spec
	Param    string
	Values   []string
}

// Build implements Builder.
func (b ListBuilder) Build() ([]Spec, error) {
	if b.Param == "" {
		return nil, fmt.Errorf("list builder: parameter name is required")
	}
	specs := make([]Spec, 0, len(b.Values))
	for i, v := range b.Values {
		spec := b.Template.With(url.Values{b.Param: {v}})
		spec.PageID = i
		specs = append(specs, spec)
	}
	return specs, nil
}
