package billing

// Plan is a monthly credit subscription tier.
type Plan struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MonthlyCredits int    `json:"monthly_credits"`
}

var plans = map[string]Plan{
	"starter":  {ID: "starter", Name: "STARTER", MonthlyCredits: 2000},
	"basic":    {ID: "basic", Name: "BASIC", MonthlyCredits: 5000},
	"pro":      {ID: "pro", Name: "PRO", MonthlyCredits: 12000},
	"ultimate": {ID: "ultimate", Name: "ULTIMATE", MonthlyCredits: 30000},
}

// GetPlan looks up a plan by id.
func GetPlan(id string) (Plan, bool) {
	p, ok := plans[id]
	return p, ok
}

// ListPlans returns the available tiers in ascending order.
func ListPlans() []Plan {
	return []Plan{plans["starter"], plans["basic"], plans["pro"], plans["ultimate"]}
}
