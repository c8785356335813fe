package flow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/store"
)

const (
	optStart  = "start"
	optRetake = "retake"
	optDone   = "done"
)

// QuestionView is the display data for one quiz question.
type QuestionView struct {
	Number   int      `json:"number"`
	Total    int      `json:"total"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// ResultView is the display data for a finished quiz.
type ResultView struct {
	Score   int     `json:"score"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Passed  bool    `json:"passed"`
}

// quizDefinition walks a coordinator through a product summary and its quiz. The product
// catalog is always served by the fallback provider.
func quizDefinition() *Definition {
	return &Definition{
		Flow:    models.FlowTypeQuiz,
		Initial: models.StateSelectProductCategory,
		Enter:   resolveCoordinator,
		Steps: map[models.StateType]Step{
			models.StateSelectProductCategory: {
				Prompt: productCategoryPrompt,
				Handle: pick(models.DataKeyProductCat, models.StateSelectProduct),
			},
			models.StateSelectProduct: {
				Prompt: productPrompt,
				Handle: handleProduct,
			},
			models.StateViewSummary: {
				Prompt: summaryPrompt,
				Handle: handleSummary,
			},
			models.StateAnswerQuiz: {
				Prompt: questionPrompt,
				Handle: handleAnswer,
			},
			models.StateQuizResult: {
				Prompt: resultPrompt,
				Handle: handleResult,
			},
		},
		Build: buildQuizScore,
	}
}

func productCategoryPrompt(ctx context.Context, t *Turn) (RenderInstruction, error) {
	cats := listOrDemo(ctx, t, "product_categories",
		func(ctx context.Context, gw store.Gateway) ([]models.ProductCategory, error) {
			return gw.ListProductCategories(ctx)
		},
		t.Demo().ProductCategories)
	if len(cats) == 0 {
		return RenderInstruction{}, ErrBackendUnavailable
	}
	opts := make([]models.Option, 0, len(cats))
	for _, c := range cats {
		opts = append(opts, models.Option{Value: c.Key, Label: c.Label})
	}
	t.Session.Options = opts
	return RenderInstruction{Message: MsgSelectProductCategory, Options: opts}, nil
}

func productPrompt(ctx context.Context, t *Turn) (RenderInstruction, error) {
	category := t.Fields().Value(models.DataKeyProductCat)
	products := listOrDemo(ctx, t, "products",
		func(ctx context.Context, gw store.Gateway) ([]models.Product, error) {
			return gw.ListProducts(ctx, category)
		},
		func() []models.Product { return t.Demo().Products(category) })
	opts := make([]models.Option, 0, len(products)+1)
	for _, p := range products {
		opts = append(opts, models.Option{Value: p.ID, Label: p.Name})
	}
	opts = append(opts, models.Option{Value: optBack, Label: "Back"})
	t.Session.Options = opts
	msg := MsgSelectProduct
	if len(products) == 0 {
		msg = MsgNoProducts
	}
	return RenderInstruction{Message: msg, Options: opts}, nil
}

func handleProduct(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
	o, err := t.choose(ev)
	if err != nil {
		return "", err
	}
	if o.Value == optBack {
		t.Fields().Delete(models.DataKeyProductCat)
		return models.StateSelectProductCategory, nil
	}
	t.Fields().Set(models.DataKeyProductID, o.Value)
	t.Fields().Set(models.DataKeyProductName, o.Label)
	return models.StateViewSummary, nil
}

var summaryOptions = []models.Option{
	{Value: optStart, Label: "Start quiz"},
	{Value: optBack, Label: "Back"},
}

func summaryPrompt(ctx context.Context, t *Turn) (RenderInstruction, error) {
	r, err := static(MsgProductSummary, summaryOptions)(ctx, t)
	r.Data = t.Demo().Summary(t.Fields().Value(models.DataKeyProductID))
	return r, err
}

func handleSummary(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
	o, err := t.choose(ev)
	if err != nil {
		return "", err
	}
	if o.Value == optBack {
		t.Fields().Delete(models.DataKeyProductID)
		t.Fields().Delete(models.DataKeyProductName)
		return models.StateSelectProduct, nil
	}
	questions := t.Demo().Quiz(t.Fields().Value(models.DataKeyProductID))
	if len(questions) == 0 {
		return "", invalid("no_quiz")
	}
	t.resetQuiz(len(questions))
	return models.StateAnswerQuiz, nil
}

func (t *Turn) resetQuiz(total int) {
	t.setInt(models.DataKeyQuizIndex, 0)
	t.setInt(models.DataKeyQuizScore, 0)
	t.setInt(models.DataKeyQuizTotal, total)
}

// question re-reads the quiz and reports the current index. ok is false once the index
// has run past the end.
func (t *Turn) question() (q models.QuizQuestion, index, total int, ok bool) {
	questions := t.Demo().Quiz(t.Fields().Value(models.DataKeyProductID))
	index = t.intField(models.DataKeyQuizIndex)
	total = len(questions)
	if index < 0 || index >= total {
		return models.QuizQuestion{}, index, total, false
	}
	return questions[index], index, total, true
}

func questionPrompt(_ context.Context, t *Turn) (RenderInstruction, error) {
	q, index, total, ok := t.question()
	if !ok {
		return RenderInstruction{}, fmt.Errorf("quiz index %d out of range [0,%d)", index, total)
	}
	opts := make([]models.Option, 0, len(q.Options))
	for i, label := range q.Options {
		opts = append(opts, models.Option{Value: strconv.Itoa(i), Label: label})
	}
	t.Session.Options = opts
	return RenderInstruction{
		Message: MsgQuizQuestion,
		Params:  map[string]string{"number": strconv.Itoa(index + 1), "total": strconv.Itoa(total)},
		Options: opts,
		Data:    QuestionView{Number: index + 1, Total: total, Question: q.Question, Options: q.Options},
	}, nil
}

func handleAnswer(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
	q, index, total, ok := t.question()
	if !ok {
		return models.StateQuizResult, nil
	}
	o, err := t.choose(ev)
	if err != nil {
		return "", err
	}
	answer, err := strconv.Atoi(o.Value)
	if err != nil || answer < 0 || answer >= len(q.Options) {
		return "", invalid("answer")
	}
	correct := ""
	if q.Correct >= 0 && q.Correct < len(q.Options) {
		correct = q.Options[q.Correct]
	}
	if answer == q.Correct {
		t.setInt(models.DataKeyQuizScore, t.intField(models.DataKeyQuizScore)+1)
		t.notify(Info(MsgAnswerCorrect, nil))
	} else {
		t.notify(Info(MsgAnswerIncorrect, map[string]string{"correct": correct}))
	}
	t.setInt(models.DataKeyQuizIndex, index+1)
	t.setInt(models.DataKeyQuizTotal, total)
	if index+1 >= total {
		return models.StateQuizResult, nil
	}
	return models.StateAnswerQuiz, nil
}

var resultOptions = []models.Option{
	{Value: optRetake, Label: "Retake"},
	{Value: optBack, Label: "Another product"},
	{Value: optDone, Label: "Done"},
}

func (t *Turn) quizResult() ResultView {
	score := t.intField(models.DataKeyQuizScore)
	total := t.intField(models.DataKeyQuizTotal)
	return ResultView{
		Score:   score,
		Total:   total,
		Percent: models.ScorePercent(score, total),
		Passed:  models.QuizPassed(score, total),
	}
}

func resultPrompt(ctx context.Context, t *Turn) (RenderInstruction, error) {
	r, err := static(MsgQuizResult, resultOptions)(ctx, t)
	v := t.quizResult()
	r.Params = map[string]string{
		"score":   strconv.Itoa(v.Score),
		"total":   strconv.Itoa(v.Total),
		"percent": strconv.FormatFloat(v.Percent, 'f', 1, 64),
		"passed":  strconv.FormatBool(v.Passed),
		"product": t.Fields().Value(models.DataKeyProductName),
	}
	r.Data = v
	return r, err
}

func handleResult(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
	o, err := t.choose(ev)
	if err != nil {
		return "", err
	}
	switch o.Value {
	case optRetake:
		t.resetQuiz(t.intField(models.DataKeyQuizTotal))
		return models.StateAnswerQuiz, nil
	case optBack:
		for _, k := range []models.DataKey{models.DataKeyProductCat, models.DataKeyProductID, models.DataKeyProductName,
			models.DataKeyQuizIndex, models.DataKeyQuizScore, models.DataKeyQuizTotal} {
			t.Fields().Delete(k)
		}
		return models.StateSelectProductCategory, nil
	default:
		return models.StateComplete, nil
	}
}

func buildQuizScore(t *Turn) (models.Command, error) {
	v := t.quizResult()
	if v.Total <= 0 {
		return nil, fmt.Errorf("quiz finished without questions")
	}
	return models.SubmitQuizScore{
		ConversantID: t.Session.ConversantID,
		ProductID:    t.Fields().Value(models.DataKeyProductID),
		ProductName:  t.Fields().Value(models.DataKeyProductName),
		Score:        v.Score,
		Total:        v.Total,
		FinishedAt:   t.Now(),
	}, nil
}
