package models

import "time"

// FeedbackCategory is a top-level dormancy taxonomy category.
type FeedbackCategory string

const (
	CategorySystemIssues       FeedbackCategory = "system_issues"
	CategoryCommissionConcerns FeedbackCategory = "commission_concerns"
	CategoryMarketConditions   FeedbackCategory = "market_conditions"
	CategoryProductComplexity  FeedbackCategory = "product_complexity"
	CategoryPersonalReasons    FeedbackCategory = "personal_reasons"
	CategoryCompetition        FeedbackCategory = "competition"
	CategorySupportIssues      FeedbackCategory = "support_issues"
)

// CategoryNotApplicable is recorded when no category was captured.
const CategoryNotApplicable = "N/A"

// Subcategory is one leaf of the taxonomy.
type Subcategory struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
}

// TaxonomyCategory is one category together with its subcategories, in display order.
type TaxonomyCategory struct {
	Key           FeedbackCategory `json:"key"`
	Label         string           `json:"label"`
	Subcategories []Subcategory    `json:"subcategories"`
}

// Taxonomy is the fixed dormancy-reason taxonomy in display order.
var Taxonomy = []TaxonomyCategory{
	{Key: CategorySystemIssues, Label: "System Issues", Subcategories: []Subcategory{
		{"portal_down", "Portal Down"},
		{"login_issues", "Login Issues"},
		{"slow_performance", "Slow Performance"},
		{"app_crash", "App Crash"},
	}},
	{Key: CategoryCommissionConcerns, Label: "Commission Concerns", Subcategories: []Subcategory{
		{"delayed_payment", "Delayed Payment"},
		{"low_rate", "Low Rate"},
		{"unclear_structure", "Unclear Structure"},
	}},
	{Key: CategoryMarketConditions, Label: "Market Conditions", Subcategories: []Subcategory{
		{"low_demand", "Low Demand"},
		{"customer_resistance", "Customer Resistance"},
		{"competition", "Competition"},
	}},
	{Key: CategoryProductComplexity, Label: "Product Complexity", Subcategories: []Subcategory{
		{"too_many_products", "Too Many Products"},
		{"hard_to_explain", "Hard to Explain"},
		{"no_training", "No Training"},
	}},
	{Key: CategoryPersonalReasons, Label: "Personal Reasons", Subcategories: []Subcategory{
		{"health", "Health"},
		{"family", "Family"},
		{"other_job", "Other Job"},
		{"lost_interest", "Lost Interest"},
	}},
	{Key: CategoryCompetition, Label: "Competition", Subcategories: []Subcategory{
		{"lic", "LIC"},
		{"other_private", "Other Private"},
		{"banks", "Banks"},
	}},
	{Key: CategorySupportIssues, Label: "Support Issues", Subcategories: []Subcategory{
		{"no_adm_support", "No ADM Support"},
		{"late_responses", "Late Responses"},
		{"no_materials", "No Materials"},
	}},
}

// LookupCategory finds a taxonomy category by key.
func LookupCategory(key FeedbackCategory) (TaxonomyCategory, bool) {
	for _, c := range Taxonomy {
		if c.Key == key {
			return c, true
		}
	}
	return TaxonomyCategory{}, false
}

// LookupSubcategory finds a subcategory of the given category by key.
func LookupSubcategory(category FeedbackCategory, key string) (Subcategory, bool) {
	c, ok := LookupCategory(category)
	if !ok {
		return Subcategory{}, false
	}
	for _, s := range c.Subcategories {
		if s.Key == key {
			return s, true
		}
	}
	return Subcategory{}, false
}

// Sentiment is the derived tone of a feedback text.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Priority is the derived urgency of a feedback record.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// FeedbackStatus tracks how far a feedback record has been handled.
type FeedbackStatus string

const (
	FeedbackNew      FeedbackStatus = "new"
	FeedbackInReview FeedbackStatus = "in_review"
	FeedbackActioned FeedbackStatus = "actioned"
	FeedbackResolved FeedbackStatus = "resolved"
)

// Forward-only; skipping ahead is allowed, regressing is not.
var feedbackTransitions = transitionTable[FeedbackStatus]{
	FeedbackNew:      {FeedbackInReview, FeedbackActioned, FeedbackResolved},
	FeedbackInReview: {FeedbackActioned, FeedbackResolved},
	FeedbackActioned: {FeedbackResolved},
	FeedbackResolved: {},
}

// CheckFeedbackTransition returns ErrIllegalTransition when from may not move to to.
func CheckFeedbackTransition(from, to FeedbackStatus) error {
	return feedbackTransitions.check("feedback", from, to)
}

// Feedback is the captured reason behind an agent's dormancy.
type Feedback struct {
	ID            int64            `json:"id"`
	AgentID       int64            `json:"agent_id"`
	CoordinatorID int64            `json:"coordinator_id"`
	InteractionID *int64           `json:"interaction_id,omitempty"`
	Category      FeedbackCategory `json:"category"`
	Subcategory   string           `json:"subcategory"`
	RawText       string           `json:"raw_text,omitempty"`
	VoiceFileID   string           `json:"voice_file_id,omitempty"`
	Sentiment     Sentiment        `json:"sentiment"`
	Priority      Priority         `json:"priority"`
	Status        FeedbackStatus   `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewFeedback holds the fields required to create a Feedback record.
type NewFeedback struct {
	AgentID       int64            `json:"agent_id"`
	CoordinatorID int64            `json:"coordinator_id"`
	InteractionID *int64           `json:"interaction_id,omitempty"`
	Category      FeedbackCategory `json:"category"`
	Subcategory   string           `json:"subcategory"`
	RawText       string           `json:"raw_text,omitempty"`
	VoiceFileID   string           `json:"voice_file_id,omitempty"`
	Sentiment     Sentiment        `json:"sentiment"`
	Priority      Priority         `json:"priority"`
}
