package web

// Metric is one labelled figure on a page card.
type Metric struct {
	Label string
	Value string
}

// Operational snapshot shown on /dashboard/:org. The figures are fixed until
// the reporting pipeline feeds them.
var dashboardMetrics = []Metric{
	{Label: "Avg days door-to-door", Value: "42"},
	{Label: "On-time % (last 90d)", Value: "91%"},
	{Label: "Cost per shipped box", Value: "$97.30"},
	{Label: "Recurring donors", Value: "37"},
}

// Headline figures shown on /reviewer/:org/briefing.
var briefingMetrics = []Metric{
	{Label: "Boxes Shipped (YTD)", Value: "128"},
	{Label: "On-time Delivery %", Value: "93%"},
	{Label: "Beneficiaries Served", Value: "412"},
}

// fundsByDesignation is listed in order on the briefing page.
var fundsByDesignation = []Metric{
	{Label: "Shipping Fund", Value: "$18,250"},
	{Label: "School Kits", Value: "$12,600"},
	{Label: "General Fund", Value: "$8,400"},
}

// DashboardMetrics returns a copy of the dashboard figures.
func DashboardMetrics() []Metric { return append([]Metric(nil), dashboardMetrics...) }

// BriefingMetrics returns a copy of the briefing figures.
func BriefingMetrics() []Metric { return append([]Metric(nil), briefingMetrics...) }

// FundsByDesignation returns a copy of the fund breakdown.
func FundsByDesignation() []Metric { return append([]Metric(nil), fundsByDesignation...) }
