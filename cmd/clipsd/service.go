package main

import (
	"context"
	"sync/atomic"
	"time"

	"clipsd/internal/checkpoint"
	"clipsd/internal/config"
	"clipsd/internal/monitor"
	"clipsd/internal/protocol"
	"clipsd/internal/quant"
	"clipsd/internal/tracker"
	"clipsd/pkg/types"
)

// daemon owns the wired component graph and implements httpapi.Service.
type daemon struct {
	startedAt time.Time
	cfg       config.Config

	tracker   *tracker.Tracker
	validator *tracker.Validator
	ctrl      *quant.Controller
	mon       *monitor.Monitor
	proto     *protocol.Protocol
	ckpt      *checkpoint.Manager

	ready atomic.Bool
}

// Start launches the periodic loops and marks the daemon ready.
func (d *daemon) Start() {
	d.ckpt.Start()
	d.mon.Start()
	d.ready.Store(true)
}

// Stop winds the loops down and flushes checkpoints.
func (d *daemon) Stop(ctx context.Context) {
	d.ready.Store(false)
	d.mon.Stop()
	d.validator.Wait()
	if err := d.ckpt.Stop(ctx); err != nil {
		// Flush errors are logged inside the manager; nothing to do here.
		_ = err
	}
}

func (d *daemon) Status() types.StatusResponse {
	now := time.Now()
	return types.StatusResponse{
		Level:          d.mon.Level().String(),
		Memory:         d.mon.LastReading(),
		Models:         d.ctrl.Models(),
		Resources:      d.tracker.Counts(),
		Checkpoints:    d.ckpt.Summaries(),
		UptimeSeconds:  int64(now.Sub(d.startedAt).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}

func (d *daemon) PressureLevel() int { return int(d.mon.Level()) }

func (d *daemon) Resources() []types.ResourceStatus { return d.tracker.List() }

func (d *daemon) ReleaseStats() types.ReleaseStats { return d.validator.Stats() }

func (d *daemon) SwitchHistory() []types.SwitchRecord { return d.ctrl.History() }

func (d *daemon) ProtocolHistory() []types.ProtocolExecution { return d.proto.Executions() }

func (d *daemon) Checkpoints() []types.CheckpointSummary { return d.ckpt.Summaries() }

func (d *daemon) SwitchModel(name, level string) error {
	_, err := d.ctrl.Switch(name, level)
	return err
}

func (d *daemon) ReleaseExpired(force bool) int {
	return d.tracker.ReleaseExpired(false, force)
}

func (d *daemon) Counters() types.CounterTotals {
	return types.CounterTotals{
		Switches:           d.ctrl.SwitchesTotal(),
		ProtocolExecutions: d.proto.ExecutionsTotal(),
		CheckpointSaves:    d.ckpt.SavesTotal(),
	}
}

func (d *daemon) Ready() bool { return d.ready.Load() }
