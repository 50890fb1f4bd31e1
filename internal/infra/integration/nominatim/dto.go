package nominatim

// searchResult is one entry of the /search response in jsonv2 format.
// Coordinates arrive as strings.
type searchResult struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}
