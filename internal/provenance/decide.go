package provenance

// Source tells how the leading entry of a trail was chosen.
type Source string

const (
	SourceNone    Source = ""
	SourceManual  Source = "manual"
	SourceGuessed Source = "guessed"
)

// Input is everything the decision needs.
type Input struct {
	Marks Marks

	// ItemKnown is false while the current item has not been resolved.
	ItemKnown bool
	ItemID    string
	CreatorID string

	// UserID is empty for anonymous visitors.
	UserID string
}

// Decision is the outcome of Decide.
type Decision struct {
	Route  *RouteData
	Source Source

	// Invalidate is set when the stored marks were stale and must be
	// discarded by the caller.
	Invalidate bool
}

// Decide picks the default route a trail for in.ItemID starts from.
//
// A manual mark naming the current item, paired with a known default
// route, wins. A manual mark naming another item is stale and both marks
// are to be discarded. Otherwise the route is guessed from ownership:
// items created by the current user belong to My files, anything else is
// assumed to have been shared. The guess is never meant to be stored.
func Decide(in Input) Decision {
	if !in.ItemKnown {
		return Decision{}
	}

	var d Decision
	if in.Marks.ManualItemID != "" {
		if in.Marks.ManualItemID != in.ItemID {
			d.Invalidate = true
		} else if r, ok := Lookup(in.Marks.DefaultRoute); ok {
			d.Route = &r
			d.Source = SourceManual
			return d
		}
	}

	guess := MustLookup(SharedWithMe)
	if in.UserID != "" && in.CreatorID == in.UserID {
		guess = MustLookup(MyFiles)
	}
	d.Route = &guess
	d.Source = SourceGuessed
	return d
}

// Apply returns the marks to persist after d.
func (d Decision) Apply(m Marks) Marks {
	if d.Invalidate {
		return m.Invalidate()
	}
	return m
}
