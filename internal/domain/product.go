package domain

// Product is a search result as returned by the agent service. It has no
// identity beyond its fields and is replaced wholesale on each search.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Price       string   `json:"price"`
	Store       string   `json:"store"`
	Rating      *float64 `json:"rating,omitempty"`
	Description string   `json:"description,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// HasRating returns true if the product carries a positive rating.
func (p *Product) HasRating() bool {
	return p.Rating != nil && *p.Rating > 0
}
