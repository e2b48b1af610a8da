package catalogsync

// ApiItem is one provider as listed by the upstream catalog.
type ApiItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Phone     string  `json:"phone"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ApiResponse models the top-level structure of the upstream API's response.
type ApiResponse struct {
	Code int `json:"code"`
	Data struct {
		Page     int       `json:"page"`
		PageSize int       `json:"pageSize"`
		Total    int       `json:"total"`
		Items    []ApiItem `json:"items"`
	} `json:"data"`
}
