package volume

import "context"

// passthroughController delegates volume control to the platform audio
// service. Built when the vehicle audio module does not support volume
// control: the platform mixer stays the single owner and this
// controller only forwards.
type passthroughController struct {
	svc    AudioService
	logger Logger
}

var _ Controller = (*passthroughController)(nil)

// Start is a no-op; the platform audio service has its own lifecycle.
func (p *passthroughController) Start(_ context.Context) error {
	p.logger.Info("volume pass-through active, hardware volume unsupported")
	return nil
}

// Stop is a no-op.
func (p *passthroughController) Stop() error {
	return nil
}

// StreamVolume delegates to the platform audio service.
func (p *passthroughController) StreamVolume(stream Stream) int {
	return p.svc.StreamVolume(stream)
}

// SetStreamVolume delegates to the platform audio service.
func (p *passthroughController) SetStreamVolume(stream Stream, index int, flags Flag) {
	p.svc.SetStreamVolume(stream, index, flags)
}

// StreamMaxVolume delegates to the platform audio service.
func (p *passthroughController) StreamMaxVolume(stream Stream) int {
	return p.svc.StreamMaxVolume(stream)
}

// StreamMinVolume delegates to the platform audio service.
func (p *passthroughController) StreamMinVolume(stream Stream) int {
	return p.svc.StreamMinVolume(stream)
}

// HandleKeyEvent maps volume keys onto the platform's suggested-stream
// adjustment. Key-down adjusts; the event is always consumed.
func (p *passthroughController) HandleKeyEvent(ev KeyEvent) bool {
	if ev.Action != KeyActionDown {
		return true
	}

	dir := AdjustLower
	if ev.Code == KeyVolumeUp {
		dir = AdjustRaise
	}
	p.svc.AdjustSuggested(dir, defaultUpdateFlags()|FlagFromKey)
	return true
}

// RegisterObserver delegates to the platform audio service.
func (p *passthroughController) RegisterObserver(o Observer) int64 {
	return p.svc.RegisterObserver(o)
}

// UnregisterObserver delegates to the platform audio service.
func (p *passthroughController) UnregisterObserver(id int64) {
	p.svc.UnregisterObserver(id)
}
