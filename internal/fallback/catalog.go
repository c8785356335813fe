// Package fallback supplies the demo data used when the record store is unreachable.
//
// Every flow step that needs an option list asks the store first and falls back to a
// Provider. The default catalog is embedded; an operator can point at a YAML file with
// the same shape, which a Watcher reloads on change.
package fallback

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BTreeMap/ReEngage/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Provider serves demo data per data kind.
type Provider interface {
	Agents() []models.Agent
	ProductCategories() []models.ProductCategory
	Products(category string) []models.Product
	// Summary returns a product's summary, or a generic one when none is defined.
	Summary(productID string) models.ProductSummary
	// Quiz returns a product's questions, or the default quiz when none is defined.
	Quiz(productID string) []models.QuizQuestion
	Tips() []string
}

type catalogAgent struct {
	ID             int64                 `yaml:"id"`
	Name           string                `yaml:"name"`
	Phone          string                `yaml:"phone"`
	LifecycleState models.LifecycleState `yaml:"lifecycle_state"`
	Score          float64               `yaml:"engagement_score"`
	DormantDays    int                   `yaml:"dormant_days"`
}

// Catalog is an immutable set of demo data.
type Catalog struct {
	AgentList      []catalogAgent                   `yaml:"agents"`
	Categories     []models.ProductCategory         `yaml:"product_categories"`
	ProductList    []models.Product                 `yaml:"products"`
	Summaries      map[string]models.ProductSummary `yaml:"summaries"`
	GenericSummary models.ProductSummary            `yaml:"generic_summary"`
	Quizzes        map[string][]models.QuizQuestion `yaml:"quizzes"`
	DefaultQuiz    []models.QuizQuestion            `yaml:"default_quiz"`
	TipList        []string                         `yaml:"tips"`
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("fallback: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every list a flow depends on is present and consistent.
func (c *Catalog) Validate() error {
	if len(c.AgentList) == 0 {
		return fmt.Errorf("catalog has no agents")
	}
	for _, a := range c.AgentList {
		if a.ID <= 0 || a.Name == "" {
			return fmt.Errorf("catalog agent %q needs a positive id and a name", a.Name)
		}
		if !models.IsValidLifecycleState(a.LifecycleState) {
			return fmt.Errorf("catalog agent %d has unknown lifecycle state %q", a.ID, a.LifecycleState)
		}
	}
	if len(c.Categories) == 0 || len(c.ProductList) == 0 {
		return fmt.Errorf("catalog needs product categories and products")
	}
	if len(c.DefaultQuiz) == 0 {
		return fmt.Errorf("catalog has no default quiz")
	}
	check := func(id string, qs []models.QuizQuestion) error {
		for i, q := range qs {
			if q.Correct < 0 || q.Correct >= len(q.Options) {
				return fmt.Errorf("quiz %s question %d: correct index %d out of range", id, i+1, q.Correct)
			}
		}
		return nil
	}
	if err := check("default", c.DefaultQuiz); err != nil {
		return err
	}
	for id, qs := range c.Quizzes {
		if err := check(id, qs); err != nil {
			return err
		}
	}
	if len(c.TipList) == 0 {
		return fmt.Errorf("catalog has no tips")
	}
	return nil
}

// Agents returns the demo agents.
func (c *Catalog) Agents() []models.Agent {
	out := make([]models.Agent, 0, len(c.AgentList))
	for _, a := range c.AgentList {
		out = append(out, models.Agent{
			ID:                   a.ID,
			Name:                 a.Name,
			Phone:                a.Phone,
			LifecycleState:       a.LifecycleState,
			EngagementScore:      a.Score,
			DormancyDurationDays: a.DormantDays,
		})
	}
	return out
}

func (c *Catalog) ProductCategories() []models.ProductCategory {
	return append([]models.ProductCategory(nil), c.Categories...)
}

func (c *Catalog) Products(category string) []models.Product {
	var out []models.Product
	for _, p := range c.ProductList {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

func (c *Catalog) categoryLabel(key string) string {
	for _, cat := range c.Categories {
		if cat.Key == key {
			return cat.Label
		}
	}
	return key
}

func (c *Catalog) product(id string) (models.Product, bool) {
	for _, p := range c.ProductList {
		if p.ID == id {
			return p, true
		}
	}
	return models.Product{}, false
}

func (c *Catalog) Summary(productID string) models.ProductSummary {
	if s, ok := c.Summaries[productID]; ok {
		s.ProductID = productID
		return s
	}
	s := c.GenericSummary
	s.ProductID = productID
	s.Name = productID
	if p, ok := c.product(productID); ok {
		s.Name = p.Name
		s.Category = c.categoryLabel(p.Category)
	}
	if s.Audience == "" && s.Category != "" {
		s.Audience = fmt.Sprintf("Customers looking for reliable %s solutions with good returns and security.", strings.ToLower(s.Category))
	}
	return s
}

func (c *Catalog) Quiz(productID string) []models.QuizQuestion {
	if q, ok := c.Quizzes[productID]; ok && len(q) > 0 {
		return q
	}
	return c.DefaultQuiz
}

func (c *Catalog) Tips() []string {
	return append([]string(nil), c.TipList...)
}
