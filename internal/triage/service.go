package triage

import (
	"context"
	"time"

	"github.com/BTreeMap/ReEngage/internal/store"
)

// TipSource supplies the rotating daily tips.
type TipSource interface {
	Tips() []string
}

// Service loads snapshots and computes the triage views.
type Service struct {
	loader *Loader
	tips   TipSource
	loc    *time.Location
}

// NewService creates a Service reading from gw.
func NewService(gw store.Gateway, tips TipSource, opts ...Option) *Service {
	l := NewLoader(gw, opts...)
	return &Service{loader: l, tips: tips, loc: l.opts.Location}
}

// Location returns the time zone the views are computed in.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) Priority(ctx context.Context, coordinatorID int64, asOf time.Time, limit int) ([]PriorityItem, error) {
	snap, err := s.loader.Load(ctx, coordinatorID, asOf)
	if err != nil {
		return nil, err
	}
	return PriorityRanking(snap, asOf, s.loc, limit), nil
}

func (s *Service) Briefing(ctx context.Context, coordinatorID int64, asOf time.Time) (Briefing, error) {
	snap, err := s.loader.Load(ctx, coordinatorID, asOf)
	if err != nil {
		return Briefing{}, err
	}
	var tips []string
	if s.tips != nil {
		tips = s.tips.Tips()
	}
	return BuildBriefing(snap, tips, asOf, s.loc), nil
}

func (s *Service) Stats(ctx context.Context, coordinatorID int64, asOf time.Time) (Stats, error) {
	snap, err := s.loader.Load(ctx, coordinatorID, asOf)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(snap, asOf, s.loc), nil
}

func (s *Service) Diary(ctx context.Context, coordinatorID int64, asOf time.Time) (DiaryView, error) {
	snap, err := s.loader.Load(ctx, coordinatorID, asOf)
	if err != nil {
		return DiaryView{}, err
	}
	return BuildDiaryView(snap.Diary, asOf, s.loc), nil
}
