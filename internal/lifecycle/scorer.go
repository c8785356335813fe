package lifecycle

import (
	"strings"

	"github.com/BTreeMap/ReEngage/internal/models"
)

// Scorer derives sentiment and priority for a feedback record.
type Scorer interface {
	Score(category models.FeedbackCategory, subcategory, text string) (models.Sentiment, models.Priority)
}

// RuleScorer is the keyword and category based Scorer used when no external oracle is configured.
type RuleScorer struct{}

var (
	positiveWords = []string{"interested", "happy", "ready", "will restart", "keen", "good", "agreed", "positive"}
	negativeWords = []string{"not interested", "not ", "no ", "never", "problem", "issue", "delay", "angry", "frustrat", "quit", "stop", "leave", "complain", "unpaid"}
	urgentWords   = []string{"urgent", "quit", "leaving", "resign", "legal", "fraud"}
)

// categoryPriority is the baseline priority for each dormancy category.
var categoryPriority = map[models.FeedbackCategory]models.Priority{
	models.CategorySystemIssues:       models.PriorityHigh,
	models.CategoryCommissionConcerns: models.PriorityHigh,
	models.CategorySupportIssues:      models.PriorityMedium,
	models.CategoryProductComplexity:  models.PriorityMedium,
	models.CategoryMarketConditions:   models.PriorityMedium,
	models.CategoryCompetition:        models.PriorityMedium,
	models.CategoryPersonalReasons:    models.PriorityLow,
}

func countMatches(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func (RuleScorer) Score(category models.FeedbackCategory, subcategory, text string) (models.Sentiment, models.Priority) {
	lower := " " + strings.ToLower(text) + " "

	sentiment := models.SentimentNeutral
	pos, neg := countMatches(lower, positiveWords), countMatches(lower, negativeWords)
	switch {
	case neg > pos:
		sentiment = models.SentimentNegative
	case pos > neg:
		sentiment = models.SentimentPositive
	}

	priority, ok := categoryPriority[category]
	if !ok {
		priority = models.PriorityMedium
	}
	if subcategory == "delayed_payment" || subcategory == "portal_down" {
		priority = models.PriorityHigh
	}
	if countMatches(lower, urgentWords) > 0 {
		priority = models.PriorityUrgent
	} else if sentiment == models.SentimentNegative && priority == models.PriorityLow {
		priority = models.PriorityMedium
	}
	return sentiment, priority
}
