package services

import (
	"context"
	"fmt"
	"time"

	"car-marketplace/internal/domain"
	"car-marketplace/pkg/logger"

	"github.com/robfig/cron/v3"
)

// TierSource reloads the shared tier table and reports whether it changed.
type TierSource interface {
	Refresh(ctx context.Context) (bool, error)
}

type ReserveRecalculator interface {
	RecalculateReserves(ctx context.Context) (int, error)
}

// TierRefresher keeps the local tier table in step with the shared one.
// Every instance reloads; only the leader reprices stored listings.
type TierRefresher struct {
	cron       *cron.Cron
	tiers      TierSource
	listings   ReserveRecalculator
	leader     domain.LeaderElection
	instanceID string
	interval   time.Duration
	log        logger.Logger
}

func NewTierRefresher(tiers TierSource, listings ReserveRecalculator, leader domain.LeaderElection,
	instanceID string, interval time.Duration, log logger.Logger) *TierRefresher {
	return &TierRefresher{
		cron:       cron.New(),
		tiers:      tiers,
		listings:   listings,
		leader:     leader,
		instanceID: instanceID,
		interval:   interval,
		log:        log,
	}
}

func (r *TierRefresher) Start(ctx context.Context) error {
	r.log.Info("Starting tier refresher", "interval", r.interval)

	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), func() {
		r.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	return nil
}

func (r *TierRefresher) Stop() error {
	r.log.Info("Stopping tier refresher")
	<-r.cron.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.leader.ReleaseLeadership(ctx, r.instanceID)
}

// RunOnce performs one refresh cycle.
func (r *TierRefresher) RunOnce(ctx context.Context) {
	changed, err := r.tiers.Refresh(ctx)
	if err != nil {
		r.log.Error("Failed to refresh tier table", "error", err)
		return
	}
	if !changed {
		return
	}

	isLeader, err := r.leader.BecomeLeader(ctx, r.instanceID)
	if err != nil {
		r.log.Error("Leader election failed", "error", err)
		return
	}
	if !isLeader {
		r.log.Debug("Tier table changed; repricing left to the leader")
		return
	}

	if _, err := r.listings.RecalculateReserves(ctx); err != nil {
		r.log.Error("Failed to recalculate reserves", "error", err)
	}
}
