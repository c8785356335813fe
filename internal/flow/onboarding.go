package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ReEngage/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Onboarding field limits, in characters.
const (
	MinNameLength       = 2
	MaxNameLength       = 100
	MinEmployeeIDLength = 3
	MaxEmployeeIDLength = 20
	MinRegionLength     = 2
	MaxRegionLength     = 100
)

// onboardingDefinition registers a new coordinator. A conversant who is already
// registered is greeted and no session is started.
func onboardingDefinition() *Definition {
	return &Definition{
		Flow:    models.FlowTypeOnboarding,
		Initial: models.StateEnterName,
		Enter:   welcomeBack,
		Steps: map[models.StateType]Step{
			models.StateEnterName: {
				Prompt: ask(MsgEnterName),
				Handle: textField(models.DataKeyName, MinNameLength, MaxNameLength, strings.TrimSpace, models.StateEnterEmployeeID),
			},
			models.StateEnterEmployeeID: {
				Prompt: ask(MsgEnterEmployeeID),
				Handle: textField(models.DataKeyEmployeeID, MinEmployeeIDLength, MaxEmployeeIDLength, normalizeEmployeeID, models.StateEnterRegion),
			},
			models.StateEnterRegion: {
				Prompt: ask(MsgEnterRegion),
				Handle: textField(models.DataKeyRegion, MinRegionLength, MaxRegionLength, normalizeRegion, models.StateConfirm),
			},
			models.StateConfirm: confirmStep(),
		},
		Build: buildRegistration,
	}
}

func welcomeBack(ctx context.Context, t *Turn) (*RenderInstruction, error) {
	c, found, err := t.lookupCoordinator(ctx)
	if err != nil {
		slog.Warn("Turn.welcomeBack: lookup failed, starting registration", "conversantID", t.Session.ConversantID, "error", err)
		return nil, nil
	}
	if !found {
		return nil, nil
	}
	r := Done("", MsgWelcomeBack, map[string]string{"name": c.Name, "employee_id": c.EmployeeID, "region": c.Region})
	return &r, nil
}

func ask(msg MessageKey) func(context.Context, *Turn) (RenderInstruction, error) {
	return func(_ context.Context, t *Turn) (RenderInstruction, error) {
		t.Session.Options = nil
		return RenderInstruction{Message: msg}, nil
	}
}

// textField validates typed text by rune length after normalize, stores it and moves to next.
func textField(key models.DataKey, lo, hi int, normalize func(string) string, next models.StateType) func(context.Context, *Turn, Event) (models.StateType, error) {
	return func(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
		text, ok := ev.(Text)
		if !ok {
			return "", unexpected(t.Session.State, ev)
		}
		v := normalize(text.Body)
		if n := len([]rune(v)); n < lo || n > hi {
			return "", invalid(string(key) + "_length")
		}
		t.Fields().Set(key, v)
		return next, nil
	}
}

func normalizeEmployeeID(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// normalizeRegion title-cases a region. A Caser keeps state while transforming, so each call
// builds its own.
func normalizeRegion(s string) string {
	return cases.Title(language.English).String(strings.Join(strings.Fields(s), " "))
}

func buildRegistration(t *Turn) (models.Command, error) {
	f := t.Fields()
	return models.RegisterCoordinator{
		ConversantID: t.Session.ConversantID,
		Name:         f.Value(models.DataKeyName),
		EmployeeID:   f.Value(models.DataKeyEmployeeID),
		Region:       f.Value(models.DataKeyRegion),
	}, nil
}
