package models

// Requests for the capacity HTTP endpoints. Defined in domain for
// consistency and reuse.

type HistoryRequest struct {
	From  string `query:"from" json:"from"`
	To    string `query:"to" json:"to"`
	Limit int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type BottlenecksRequest struct {
	Top int `query:"top" json:"top" default:"10" validate:"gte=1,lte=500"`
}
