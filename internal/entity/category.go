package entity

// Category represents a taxonomy bucket for data transfer between layers.
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
