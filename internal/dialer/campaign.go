package dialer

import (
	"context"

	"telecom-dialer/internal/calls"
	"telecom-dialer/internal/campaign"
	"telecom-dialer/internal/device"
	"telecom-dialer/internal/notify"
	"telecom-dialer/internal/outcome"
)

// line is the campaign's view of the engine. It runs on the loop.
type line struct{ e *Engine }

func (l line) ActiveCall() (calls.Session, bool) { return l.e.calls.Active() }

func (l line) PlaceCall(ctx context.Context, phone string) (calls.Session, error) {
	return l.e.place(ctx, phone)
}

func (l line) HangupCall() error         { return l.e.calls.Hangup() }
func (l line) DeviceState() device.State { return l.e.device.State() }
func (l line) DeviceError() error        { return l.e.device.LastError() }

// StartCampaign creates and starts a campaign over targets. Zero-valued
// options fall back to the engine configuration. Only one campaign runs at
// a time; a finished one is replaced.
func (e *Engine) StartCampaign(ctx context.Context, targets []campaign.Target, opts campaign.Options) (campaign.Snapshot, error) {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = e.cfg.SettleDelay
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = e.cfg.RetryBackoff
	}
	if opts.DefaultDisposition == "" {
		opts.DefaultDisposition = e.cfg.DefaultDisposition
	}
	if opts.DefaultCountryCode == "" {
		opts.DefaultCountryCode = e.cfg.DefaultCountryCode
	}

	var snap campaign.Snapshot
	err := e.do(ctx, func() error {
		if e.campaign != nil && !e.campaign.Finished() {
			return ErrCampaignActive
		}
		c, err := campaign.New(targets, opts, campaign.Deps{
			Line:     line{e},
			Recorder: e,
			Loop:     e.loop,
			Clock:    e.clk,
			Log:      e.log,
			Hooks: campaign.Hooks{
				TargetFinished: e.onTargetFinished,
				Halted:         e.onCampaignHalted,
				Finished:       e.onCampaignFinished,
			},
		})
		if err != nil {
			return err
		}
		e.campaign = c
		if err := c.Start(); err != nil {
			return err
		}
		snap = c.Snapshot()
		return nil
	})
	return snap, err
}

func (e *Engine) withCampaign(ctx context.Context, fn func(c *campaign.Campaign) error) error {
	return e.do(ctx, func() error {
		if e.campaign == nil {
			return ErrNoCampaign
		}
		return fn(e.campaign)
	})
}

func (e *Engine) PauseCampaign(ctx context.Context) error {
	return e.withCampaign(ctx, (*campaign.Campaign).Pause)
}

func (e *Engine) ResumeCampaign(ctx context.Context) error {
	return e.withCampaign(ctx, (*campaign.Campaign).Resume)
}

func (e *Engine) SkipTarget(ctx context.Context) error {
	return e.withCampaign(ctx, (*campaign.Campaign).Skip)
}

// SetDisposition records the operator's choice for the current campaign
// call and hangs it up.
func (e *Engine) SetDisposition(ctx context.Context, d outcome.Disposition, notes string) error {
	return e.withCampaign(ctx, func(c *campaign.Campaign) error {
		return c.Disposition(d, notes)
	})
}

func (e *Engine) SetNotes(ctx context.Context, notes string) error {
	return e.withCampaign(ctx, func(c *campaign.Campaign) error {
		return c.SetNotes(notes)
	})
}

// StopCampaign ends the campaign and returns once no campaign call is live.
func (e *Engine) StopCampaign(ctx context.Context) (campaign.Snapshot, error) {
	stopped := make(chan struct{})
	err := e.withCampaign(ctx, func(c *campaign.Campaign) error {
		c.Stop(func() { close(stopped) })
		return nil
	})
	if err != nil {
		return campaign.Snapshot{}, err
	}
	select {
	case <-stopped:
	case <-ctx.Done():
		return campaign.Snapshot{}, ctx.Err()
	}
	return e.CampaignSnapshot(ctx)
}

func (e *Engine) CampaignSnapshot(ctx context.Context) (campaign.Snapshot, error) {
	var snap campaign.Snapshot
	err := e.withCampaign(ctx, func(c *campaign.Campaign) error {
		snap = c.Snapshot()
		return nil
	})
	return snap, err
}

// WaitCampaign blocks until the current campaign finishes.
func (e *Engine) WaitCampaign(ctx context.Context) (campaign.Snapshot, error) {
	ch := make(chan campaign.Snapshot, 1)
	err := e.withCampaign(ctx, func(c *campaign.Campaign) error {
		if c.Finished() {
			ch <- c.Snapshot()
			return nil
		}
		e.campaignWaiters = append(e.campaignWaiters, ch)
		return nil
	})
	if err != nil {
		return campaign.Snapshot{}, err
	}
	select {
	case snap := <-ch:
		return snap, nil
	case <-ctx.Done():
		return campaign.Snapshot{}, ctx.Err()
	}
}

func (e *Engine) onTargetFinished(t campaign.Target, rec outcome.Record) {
	e.notify(notify.CodeTargetFinished, notify.LevelInfo, "target finished", map[string]any{
		"campaign_id": rec.CampaignID,
		"target_id":   t.ID,
		"status":      t.Status,
		"call_id":     t.CallID,
	})
}

func (e *Engine) onCampaignHalted(err error) {
	e.notify(notify.CodeCampaignHalted, notify.LevelError, "campaign halted", map[string]any{
		"campaign_id": e.campaign.ID(),
		"error":       errString(err),
	})
}

func (e *Engine) onCampaignFinished(s campaign.Snapshot) {
	e.notify(notify.CodeCampaignFinished, notify.LevelInfo, "campaign finished", map[string]any{
		"campaign_id": s.ID,
		"done":        s.Done(),
		"total":       s.Total,
	})
	waiters := e.campaignWaiters
	e.campaignWaiters = nil
	for _, ch := range waiters {
		ch <- s
	}
}
