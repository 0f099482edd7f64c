package provenance

// Marks is the navigation context kept per browsing session: the default
// route most recently entered and the item most recently reached by
// clicking through the tree. The zero value holds nothing.
type Marks struct {
	DefaultRoute DefaultRoute `json:"fromRoute,omitempty"`
	ManualItemID string       `json:"manualNavigationItemId,omitempty"`
}

// WithRoute returns m with the default route replaced.
func (m Marks) WithRoute(r DefaultRoute) Marks {
	m.DefaultRoute = r
	return m
}

// WithManualItem returns m with the manually reached item replaced.
func (m Marks) WithManualItem(id string) Marks {
	m.ManualItemID = id
	return m
}

// Invalidate discards both marks. They are only meaningful as a pair.
func (m Marks) Invalidate() Marks {
	return Marks{}
}

// IsZero reports whether nothing is recorded.
func (m Marks) IsZero() bool {
	return m == Marks{}
}
