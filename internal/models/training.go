package models

import (
	"math"
	"time"
)

// PassThreshold is the minimum score/total ratio for a passed quiz.
const PassThreshold = 0.7

// QuizPassed reports whether score out of total meets PassThreshold. A zero total never passes.
func QuizPassed(score, total int) bool {
	if total <= 0 {
		return false
	}
	return float64(score)/float64(total) >= PassThreshold
}

// ScorePercent returns score/total as a percentage rounded to one decimal.
func ScorePercent(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Round1(float64(score) / float64(total) * 100)
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ProductCategory groups products in the training catalog.
type ProductCategory struct {
	Key   string `json:"key" yaml:"key"`
	Label string `json:"label" yaml:"label"`
}

// Product is a sellable product with training material.
type Product struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category" yaml:"category"`
}

// Objection is a common customer objection with a suggested response.
type Objection struct {
	Objection string `json:"objection" yaml:"objection"`
	Response  string `json:"response" yaml:"response"`
}

// ProductSummary is the short training text shown before a quiz.
type ProductSummary struct {
	ProductID   string      `json:"product_id" yaml:"product_id"`
	Name        string      `json:"name" yaml:"name"`
	Category    string      `json:"category" yaml:"category"`
	KeyFeatures []string    `json:"key_features" yaml:"key_features"`
	Audience    string      `json:"target_audience" yaml:"target_audience"`
	USPs        []string    `json:"usps" yaml:"usps"`
	Objections  []Objection `json:"common_objections" yaml:"common_objections"`
}

// QuizQuestion is a multiple-choice question with exactly one correct option.
type QuizQuestion struct {
	Question string   `json:"question" yaml:"question"`
	Options  []string `json:"options" yaml:"options"`
	Correct  int      `json:"correct" yaml:"correct"`
}

// TrainingRecord tracks a coordinator's training progress on one product.
type TrainingRecord struct {
	ID            int64      `json:"id"`
	CoordinatorID int64      `json:"coordinator_id"`
	ProductID     string     `json:"product_id"`
	ProductName   string     `json:"product_name,omitempty"`
	QuizScore     float64    `json:"quiz_score"` // percentage, one decimal
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TrainingUpsert holds the fields for creating or updating a TrainingRecord.
type TrainingUpsert struct {
	CoordinatorID int64      `json:"coordinator_id"`
	ProductID     string     `json:"product_id"`
	ProductName   string     `json:"product_name,omitempty"`
	QuizScore     float64    `json:"quiz_score"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
