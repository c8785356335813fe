package flow

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/ReEngage/internal/models"
	"github.com/BTreeMap/ReEngage/internal/store"
)

// Values recorded under models.DataKeyDataSource.
const (
	SourceGateway  = "gateway"
	SourceFallback = "fallback"
)

// MinSearchLength is the shortest accepted agent search.
const MinSearchLength = 2

// AgentChoice is the display data for one agent in the picker.
type AgentChoice struct {
	ID     int64              `json:"id"`
	Code   string             `json:"code"`
	Name   string             `json:"name"`
	Status models.AgentStatus `json:"status"`
	Score  float64            `json:"engagement_score"`
}

// listOrDemo reads an option list from the record store once and falls back to the demo
// list when that read fails or returns nothing.
func listOrDemo[T any](ctx context.Context, t *Turn, kind string, read func(context.Context, store.Gateway) ([]T, error), demo func() []T) []T {
	if t.engine.gw != nil {
		gctx, cancel := t.gatewayContext(ctx)
		items, err := read(gctx, t.engine.gw)
		cancel()
		switch {
		case err != nil:
			slog.Warn("Turn.listOrDemo: store read failed, serving demo data", "kind", kind, "error", err)
		case len(items) > 0:
			return items
		default:
			slog.Debug("Turn.listOrDemo: store has no entries, serving demo data", "kind", kind)
		}
	}
	return demo()
}

// agentPage reads one page of the coordinator's agents. The demo agents are served when
// no coordinator is known, the store fails, or the coordinator has no agents at all.
func (t *Turn) agentPage(ctx context.Context, page int, search string) (models.AgentPage, string, error) {
	if cid, ok := t.coordinatorID(); ok && t.engine.gw != nil {
		gctx, cancel := t.gatewayContext(ctx)
		p, err := t.engine.gw.GetAgentsByCoordinator(gctx, cid, page, search)
		cancel()
		switch {
		case err != nil:
			slog.Warn("Turn.agentPage: store read failed, serving demo agents", "coordinatorID", cid, "error", err)
		case p.Total > 0 || search != "":
			return p, SourceGateway, nil
		default:
			slog.Debug("Turn.agentPage: coordinator has no agents, serving demo agents", "coordinatorID", cid)
		}
	}

	demo := t.engine.fallback.Agents()
	if len(demo) == 0 {
		return models.AgentPage{}, "", ErrBackendUnavailable
	}
	matched := make([]models.Agent, 0, len(demo))
	for _, a := range demo {
		if store.MatchesAgentSearch(a, search) {
			matched = append(matched, a)
		}
	}
	store.SortAgentsByScore(matched)
	return store.PaginateAgents(matched, page), SourceFallback, nil
}

func agentPrompt(ctx context.Context, t *Turn) (RenderInstruction, error) {
	search := t.Fields().Value(models.DataKeySearch)
	p, source, err := t.agentPage(ctx, t.Session.Page, search)
	if err != nil {
		return RenderInstruction{}, err
	}
	if p.Total == 0 && search != "" {
		t.notify(Failure(MsgNoAgentsFound, map[string]string{"search": search}))
		t.Fields().Delete(models.DataKeySearch)
		search = ""
		if p, source, err = t.agentPage(ctx, 1, ""); err != nil {
			return RenderInstruction{}, err
		}
	}
	if source == SourceFallback {
		t.notify(Info(MsgDemoData, nil))
	}
	t.Fields().Set(models.DataKeyDataSource, source)
	t.Session.Page = p.Page

	opts := make([]models.Option, 0, len(p.Agents)+1)
	choices := make([]AgentChoice, 0, len(p.Agents))
	for _, a := range p.Agents {
		opts = append(opts, models.Option{Value: strconv.FormatInt(a.ID, 10), Label: a.Name})
		choices = append(choices, AgentChoice{ID: a.ID, Code: a.Code(), Name: a.Name, Status: a.LifecycleState.Status(), Score: a.EngagementScore})
	}
	if search != "" {
		opts = append(opts, models.Option{Value: optAll, Label: "Show all"})
	} else {
		opts = append(opts, models.Option{Value: optSearch, Label: "Search"})
	}
	t.Session.Options = opts

	params := map[string]string{
		"page":        strconv.Itoa(p.Page),
		"total_pages": strconv.Itoa(p.TotalPages),
		"total":       strconv.Itoa(p.Total),
		"source":      source,
	}
	if search != "" {
		params["search"] = search
	}
	return RenderInstruction{Message: MsgSelectAgent, Params: params, Options: opts, Data: choices}, nil
}

// agentStep picks an agent by selection, text search or paging, then moves to next.
func agentStep(next models.StateType) Step {
	return Step{
		Prompt: agentPrompt,
		Handle: func(_ context.Context, t *Turn, ev Event) (models.StateType, error) {
			switch ev := ev.(type) {
			case Selection:
				switch ev.Value {
				case optSearch:
					t.hold(RenderInstruction{Message: MsgSearchAgent, Params: map[string]string{"min_length": strconv.Itoa(MinSearchLength)}})
					return t.Session.State, nil
				case optAll:
					t.Fields().Delete(models.DataKeySearch)
					t.Session.Page = 1
					return t.Session.State, nil
				}
				o, err := t.choose(ev)
				if err != nil {
					return "", err
				}
				if _, err := strconv.ParseInt(o.Value, 10, 64); err != nil {
					return "", invalid("agent_id")
				}
				t.Fields().Set(models.DataKeyAgentID, o.Value)
				t.Fields().Set(models.DataKeyAgentName, o.Label)
				t.Fields().Delete(models.DataKeySearch)
				return next, nil
			case Text:
				q := strings.TrimSpace(ev.Body)
				if len([]rune(q)) < MinSearchLength {
					return "", invalid("search_too_short")
				}
				t.Fields().Set(models.DataKeySearch, q)
				t.Session.Page = 1
				return t.Session.State, nil
			case Page:
				if ev.Number < 1 {
					return "", invalid("page")
				}
				t.Session.Page = ev.Number
				return t.Session.State, nil
			}
			return "", unexpected(t.Session.State, ev)
		},
	}
}
