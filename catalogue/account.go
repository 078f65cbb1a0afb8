package catalogue

import "time"

// Whoami is the authority's view of the current session.
type Whoami struct {
	UserID      string   `json:"userId"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions"`
}

// User is an entry of the borrower directory.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"displayName"`
	Email string `json:"email,omitempty"`
}

// AnalyticsSummary is the dashboard digest for the last WindowDays days.
type AnalyticsSummary struct {
	WindowDays int              `json:"windowDays"`
	Metrics    AnalyticsMetrics `json:"metrics"`
	AI         Insights         `json:"ai"`
}

type AnalyticsMetrics struct {
	TotalItems           int            `json:"totalBooks"`
	TotalLendings        int            `json:"totalLoans"`
	ActiveLendings       int            `json:"activeLoans"`
	ReturnedLendings     int            `json:"returnedLoans"`
	TotalAvailableCopies int            `json:"totalAvailableCopies"`
	Trending             []ItemActivity `json:"trendingBooks"`
	LowStock             []ItemActivity `json:"lowStockAlerts"`
	Dormant              []DormantItem  `json:"dormantBooks"`
}

type ItemActivity struct {
	ItemID          string `json:"bookId"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	BorrowCount     int    `json:"borrowCount"`
	AvailableCopies int    `json:"availableCopies"`
}

type DormantItem struct {
	ItemID         string     `json:"bookId"`
	Title          string     `json:"title"`
	Author         string     `json:"author"`
	LastBorrowedAt *time.Time `json:"lastBorrowedAt,omitempty"`
}

type Insights struct {
	Summary            string   `json:"summary"`
	Insights           []string `json:"insights"`
	RecommendedActions []string `json:"recommendedActions"`
}

// Health is the authority's liveness report.
type Health struct {
	Status string `json:"status"`
}

// OK reports whether the authority declared itself healthy.
func (h Health) OK() bool {
	return h.Status == "ok"
}
