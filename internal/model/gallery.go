package model

type Picture struct {
	ID           FlexID `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Created      string `json:"created"`
}

type Album struct {
	ID              FlexID    `json:"id"`
	Title           string    `json:"title"`
	InstitutionName string    `json:"institutionName,omitempty"`
	Pictures        []Picture `json:"pictures,omitempty"`
}
