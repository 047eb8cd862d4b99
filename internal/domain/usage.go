package domain

// UsageCounter tracks how many sends a user has made on a calendar day.
// Day is formatted YYYY-MM-DD in the user's local zone. A stored counter
// whose Day is not "today" counts as zero (lazy reset, no background timer).
type UsageCounter struct {
	Count int    `json:"count"`
	Day   string `json:"day"`
}
