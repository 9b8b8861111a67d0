package calendar

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/jonyboev-wq/calendarv2/internal/leadership"
)

// LeaderAwareSync gates the sync loop behind leader election so only one
// instance writes to the remote calendar at a time.
type LeaderAwareSync struct {
	sync     *SyncService
	election *leadership.Election
	logger   zerolog.Logger

	ctx         context.Context
	cancelFunc  context.CancelFunc
	loopRunning bool
}

// NewLeaderAware wraps the sync service in a leadership gate.
func NewLeaderAware(sync *SyncService, election *leadership.Election, logger zerolog.Logger) *LeaderAwareSync {
	return &LeaderAwareSync{
		sync:     sync,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_sync").Logger(),
	}
}

// Start begins the election and manages the sync loop as leadership moves.
func (las *LeaderAwareSync) Start(ctx context.Context) error {
	las.ctx = ctx

	las.logger.Info().Msg("starting leader-aware calendar sync")
	if err := las.election.Start(ctx); err != nil {
		return err
	}

	go las.monitorLeadership()
	return nil
}

// Stop stops the sync loop and releases leadership.
func (las *LeaderAwareSync) Stop() error {
	las.logger.Info().Msg("stopping leader-aware calendar sync")

	if las.loopRunning && las.cancelFunc != nil {
		las.cancelFunc()
		las.loopRunning = false
	}
	return las.election.Stop()
}

// IsLeader returns whether this instance currently holds leadership.
func (las *LeaderAwareSync) IsLeader() bool {
	return las.election.IsLeader()
}

func (las *LeaderAwareSync) monitorLeadership() {
	leaderCh := las.election.LeaderCh()

	if las.election.IsLeader() {
		las.startLoop()
	}

	for {
		select {
		case <-las.ctx.Done():
			return
		case isLeader := <-leaderCh:
			if isLeader {
				las.logger.Info().Msg("became leader, starting sync loop")
				las.startLoop()
			} else {
				las.logger.Warn().Msg("lost leadership, stopping sync loop")
				las.stopLoop()
			}
		}
	}
}

func (las *LeaderAwareSync) startLoop() {
	if las.loopRunning {
		return
	}

	ctx, cancel := context.WithCancel(las.ctx)
	las.cancelFunc = cancel
	las.loopRunning = true

	go func() {
		las.logger.Info().Msg("sync loop started")
		if err := las.sync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			las.logger.Error().Err(err).Msg("sync loop error")
		}
		las.loopRunning = false
		las.logger.Info().Msg("sync loop stopped")
	}()
}

func (las *LeaderAwareSync) stopLoop() {
	if !las.loopRunning {
		return
	}
	if las.cancelFunc != nil {
		las.cancelFunc()
		las.cancelFunc = nil
	}
	las.loopRunning = false
}
