package flow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/ReEngage/internal/fallback"
	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/session"
	"github.com/BTreeMap/ReEngage/internal/store"
)

// Turn is the working context of one engine call.
type Turn struct {
	Session *session.Session

	engine   *Engine
	now      time.Time
	notes    []RenderInstruction
	override *RenderInstruction
}

func (e *Engine) turn(sess *session.Session) *Turn {
	return &Turn{Session: sess, engine: e, now: e.Now()}
}

// Fields returns the session's collected fields.
func (t *Turn) Fields() *session.Fields {
	return t.Session.Fields
}

// Now is the time the turn started.
func (t *Turn) Now() time.Time {
	return t.now
}

// Location is the engine's time zone.
func (t *Turn) Location() *time.Location {
	return t.engine.opts.Location
}

// Today is the start of the current day in the engine's time zone.
func (t *Turn) Today() time.Time {
	return models.StartOfDay(t.now, t.Location())
}

// Gateway is the record store.
func (t *Turn) Gateway() store.Gateway {
	return t.engine.gw
}

// Demo is the fallback data provider.
func (t *Turn) Demo() fallback.Provider {
	return t.engine.fallback
}

// notify queues an instruction rendered before the next prompt.
func (t *Turn) notify(r RenderInstruction) {
	t.notes = append(t.notes, r)
}

// hold replaces the next prompt with r and keeps the cached option list.
func (t *Turn) hold(r RenderInstruction) {
	t.override = &r
}

func (t *Turn) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.engine.opts.GatewayTimeout)
}

func (t *Turn) intField(key models.DataKey) int {
	n, _ := strconv.Atoi(t.Fields().Value(key))
	return n
}

func (t *Turn) setInt(key models.DataKey, n int) {
	t.Fields().Set(key, strconv.Itoa(n))
}

func (t *Turn) coordinatorID() (int64, bool) {
	id, err := strconv.ParseInt(t.Fields().Value(models.DataKeyCoordinatorID), 10, 64)
	return id, err == nil && id > 0
}

// lookupCoordinator reads the coordinator registered for the session's conversant.
// found is false on ErrNotFound; other errors are returned.
func (t *Turn) lookupCoordinator(ctx context.Context) (c *models.Coordinator, found bool, err error) {
	if t.engine.gw == nil {
		return nil, false, ErrBackendUnavailable
	}
	gctx, cancel := t.gatewayContext(ctx)
	defer cancel()
	c, err = t.engine.gw.GetCoordinatorByConversant(gctx, t.Session.ConversantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// resolveCoordinator records the conversant's coordinator id. An unregistered conversant
// or an unreachable store leaves it unset and the pickers serve demo data.
func resolveCoordinator(ctx context.Context, t *Turn) (*RenderInstruction, error) {
	c, found, err := t.lookupCoordinator(ctx)
	switch {
	case err != nil:
		slog.Warn("Turn.resolveCoordinator: lookup failed, continuing with demo data", "conversantID", t.Session.ConversantID, "error", err)
	case found:
		t.Fields().Set(models.DataKeyCoordinatorID, strconv.FormatInt(c.ID, 10))
	}
	return nil, nil
}

// choose matches a Selection, or Text naming an option by value, label or 1-based
// position, against the cached option list.
func (t *Turn) choose(ev Event) (models.Option, error) {
	var raw string
	switch ev := ev.(type) {
	case Selection:
		raw = ev.Value
		for _, o := range t.Session.Options {
			if o.Value == raw {
				return o, nil
			}
		}
		return models.Option{}, invalid("unknown_option")
	case Text:
		raw = strings.TrimSpace(ev.Body)
	default:
		return models.Option{}, unexpected(t.Session.State, ev)
	}
	for _, o := range t.Session.Options {
		if strings.EqualFold(o.Value, raw) || strings.EqualFold(o.Label, raw) {
			return o, nil
		}
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= len(t.Session.Options) {
		return t.Session.Options[n-1], nil
	}
	return models.Option{}, invalid("unknown_option")
}

// static renders a fixed option list.
func static(msg MessageKey, opts []models.Option) func(context.Context, *Turn) (RenderInstruction, error) {
	return func(_ context.Context, t *Turn) (RenderInstruction, error) {
		t.Session.Options = append([]models.Option(nil), opts...)
		return RenderInstruction{Message: msg, Options: t.Session.Options}, nil
	}
}

// pick stores the chosen option's value under key and moves to next.
func pick(key models.DataKey, next models.StateType) func(context.Context, *Turn, Event) (models.StateType, error) {
	return func(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
		o, err := t.choose(ev)
		if err != nil {
			return "", err
		}
		t.Fields().Set(key, o.Value)
		return next, nil
	}
}

const (
	optYes    = "yes"
	optNo     = "no"
	optBack   = "back"
	optSkip   = "skip"
	optType   = "type"
	optVoice  = "voice"
	optNone   = "none"
	optSearch = "search"
	optAll    = "all"
)

// NoNotes is recorded when the user skips the notes step.
const NoNotes = "No additional notes"

// MaxNotesLength bounds typed notes.
const MaxNotesLength = 2000

var notesOptions = []models.Option{
	{Value: optSkip, Label: "Skip"},
	{Value: optType, Label: "Type notes"},
	{Value: optVoice, Label: "Voice note"},
}

// notesStep collects free text or a voice note, then moves to next.
func notesStep(next models.StateType) Step {
	return Step{
		Prompt: static(MsgAddNotes, notesOptions),
		Handle: func(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
			switch ev := ev.(type) {
			case Selection:
				switch ev.Value {
				case optSkip:
					t.Fields().Set(models.DataKeyNotes, NoNotes)
					return next, nil
				case optType:
					t.hold(RenderInstruction{Message: MsgTypeNotes})
					return t.Session.State, nil
				case optVoice:
					t.hold(RenderInstruction{Message: MsgSendVoice})
					return t.Session.State, nil
				}
				return "", invalid("unknown_option")
			case Text:
				body := strings.TrimSpace(ev.Body)
				if body == "" {
					return "", invalid("empty_notes")
				}
				if len([]rune(body)) > MaxNotesLength {
					return "", invalid("notes_too_long")
				}
				t.Fields().Set(models.DataKeyNotes, body)
				return next, nil
			case Voice:
				t.Fields().Set(models.DataKeyNotes, "[Voice note: "+strconv.Itoa(ev.Duration)+"s]")
				t.Fields().Set(models.DataKeyVoiceFileID, ev.FileID)
				t.notify(Info(MsgVoiceReceived, map[string]string{"duration": strconv.Itoa(ev.Duration)}))
				return next, nil
			}
			return "", unexpected(t.Session.State, ev)
		},
	}
}

// Follow-up dates are stored as ISO days and typed or shown in DisplayDateFormat.
const (
	FieldDateFormat   = "2006-01-02"
	DisplayDateFormat = "02 Jan 2006"
)

// MaxFollowUpDays bounds how far ahead a typed follow-up date may be.
const MaxFollowUpDays = 90

var followUpOffsets = map[string]int{"tomorrow": 1, "3days": 3, "1week": 7, "2weeks": 14}

var followUpOptions = []models.Option{
	{Value: "tomorrow", Label: "Tomorrow"},
	{Value: "3days", Label: "In 3 days"},
	{Value: "1week", Label: "In 1 week"},
	{Value: "2weeks", Label: "In 2 weeks"},
	{Value: optNone, Label: "No follow-up"},
}

// followUpStep offers relative follow-up dates or accepts a typed date.
func followUpStep(next models.StateType) Step {
	return Step{
		Prompt: func(ctx context.Context, t *Turn) (RenderInstruction, error) {
			r, err := static(MsgSetFollowUp, followUpOptions)(ctx, t)
			r.Params = map[string]string{"format": DisplayDateFormat, "today": t.Today().Format(DisplayDateFormat)}
			return r, err
		},
		Handle: func(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
			switch ev := ev.(type) {
			case Selection:
				if ev.Value == optNone {
					t.Fields().Set(models.DataKeyFollowUpDate, "")
					return next, nil
				}
				days, ok := followUpOffsets[ev.Value]
				if !ok {
					return "", invalid("unknown_option")
				}
				t.Fields().Set(models.DataKeyFollowUpDate, t.Today().AddDate(0, 0, days).Format(FieldDateFormat))
				return next, nil
			case Text:
				day, err := t.parseFollowUp(ev.Body)
				if err != nil {
					return "", err
				}
				t.Fields().Set(models.DataKeyFollowUpDate, day.Format(FieldDateFormat))
				return next, nil
			}
			return "", unexpected(t.Session.State, ev)
		},
	}
}

// parseFollowUp accepts DisplayDateFormat or ISO dates from today up to MaxFollowUpDays ahead.
func (t *Turn) parseFollowUp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var day time.Time
	var err error
	for _, layout := range []string{DisplayDateFormat, FieldDateFormat} {
		day, err = time.ParseInLocation(layout, raw, t.Location())
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, invalid("date_format")
	}
	today := t.Today()
	if day.Before(today) {
		return time.Time{}, invalid("date_in_past")
	}
	if day.After(today.AddDate(0, 0, MaxFollowUpDays)) {
		return time.Time{}, invalid("date_too_far")
	}
	return day, nil
}

// followUpDate returns the stored follow-up date, or nil for none.
func (t *Turn) followUpDate() (*time.Time, error) {
	raw := t.Fields().Value(models.DataKeyFollowUpDate)
	if raw == "" {
		return nil, nil
	}
	day, err := time.ParseInLocation(FieldDateFormat, raw, t.Location())
	if err != nil {
		return nil, err
	}
	return &day, nil
}

var confirmOptions = []models.Option{
	{Value: optYes, Label: "Submit"},
	{Value: optNo, Label: "Cancel"},
}

// internalKeys are bookkeeping fields left out of confirmation summaries.
var internalKeys = map[models.DataKey]bool{
	models.DataKeySearch:        true,
	models.DataKeyDataSource:    true,
	models.DataKeyCoordinatorID: true,
	models.DataKeyQuizIndex:     true,
	models.DataKeyVoiceFileID:   true,
}

// confirmStep shows the collected fields and completes on yes.
func confirmStep() Step {
	return Step{
		Prompt: func(ctx context.Context, t *Turn) (RenderInstruction, error) {
			r, err := static(MsgConfirm, confirmOptions)(ctx, t)
			r.Params = summaryParams(t)
			return r, err
		},
		Handle: func(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
			o, err := t.choose(ev)
			if err != nil {
				return "", err
			}
			if o.Value == optYes {
				return models.StateComplete, nil
			}
			return models.StateCancelled, nil
		},
	}
}

func summaryParams(t *Turn) map[string]string {
	params := map[string]string{"flow": string(t.Session.Flow)}
	for _, f := range t.Fields().Pairs() {
		if internalKeys[f.Key] {
			continue
		}
		params[string(f.Key)] = f.Value
	}
	if day, err := t.followUpDate(); err == nil && day != nil {
		params[string(models.DataKeyFollowUpDate)] = day.Format(DisplayDateFormat)
	}
	return params
}
