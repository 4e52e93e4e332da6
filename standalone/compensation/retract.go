package compensation

import (
	"gomotion/standalone"
)

// Retraction tracks firmware retraction (G10/G11). While retracted the
// nozzle is lifted by the Z hop and the filament pulled back; the offsets
// are applied to every target so logical coordinates stay unchanged.
type Retraction struct {
	cfg       standalone.RetractConfig
	retracted bool
	zOffset   float64
	eOffset   float64
}

// NewRetraction creates the retraction modifier
func NewRetraction(cfg standalone.RetractConfig) *Retraction {
	return &Retraction{cfg: cfg}
}

// Config returns the current retraction settings
func (r *Retraction) Config() standalone.RetractConfig {
	return r.cfg
}

// SetConfig replaces the retraction settings (M207/M208)
func (r *Retraction) SetConfig(cfg standalone.RetractConfig) {
	r.cfg = cfg
}

// Retracted reports whether filament is currently retracted
func (r *Retraction) Retracted() bool {
	return r.retracted
}

// Retract enters the retracted state. It returns the feedrate the caller
// should use for the move and false if already retracted.
func (r *Retraction) Retract() (float64, bool) {
	if r.retracted {
		return 0, false
	}
	r.retracted = true
	r.zOffset = r.cfg.ZHop
	r.eOffset -= r.cfg.Length
	return r.cfg.Feedrate, true
}

// Recover leaves the retracted state, pushing back the retracted length
// plus the configured extra.
func (r *Retraction) Recover() (float64, bool) {
	if !r.retracted {
		return 0, false
	}
	r.retracted = false
	r.zOffset = 0
	r.eOffset += r.cfg.Length + r.cfg.RecoverExtra
	return r.cfg.RecoverFeedrate, true
}

// Reset clears retraction state and accumulated offsets
func (r *Retraction) Reset() {
	r.retracted = false
	r.zOffset = 0
	r.eOffset = 0
}

// Apply adds the current Z and E offsets
func (r *Retraction) Apply(p standalone.Position) standalone.Position {
	p[standalone.AxisZ] += r.zOffset
	p[standalone.AxisE] += r.eOffset
	return p
}

// Unapply removes the current Z and E offsets
func (r *Retraction) Unapply(p standalone.Position) standalone.Position {
	p[standalone.AxisZ] -= r.zOffset
	p[standalone.AxisE] -= r.eOffset
	return p
}
