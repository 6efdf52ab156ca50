package gfx

import (
	"sync"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Pass indices double as timestamp slots: pass i writes queries 2i and 2i+1.
type Pass uint32

const (
	PassGeometry Pass = iota
	PassSkybox
	PassLights
	PassBloom
	// Spans the composite, the depth of field and the final tone map.
	PassComposite
	PassCount
)

var passNames = [PassCount]string{"geometry", "skybox", "lights", "bloom", "composite"}

func (p Pass) String() string { return passNames[p] }

const timingHistory = 30

// Profiler brackets passes with GPU timestamps, one query pool per frame
// slot, and keeps rolling averages in milliseconds.
type Profiler struct {
	pools  []gpu.QueryPool
	period float64

	mu      sync.RWMutex
	history [PassCount]*containers.RingQueue[float64]
}

// NewProfiler returns a disabled profiler when timestamps are turned off
// or unsupported. A disabled profiler records nothing.
func NewProfiler(c *Context) (*Profiler, error) {
	p := &Profiler{period: float64(c.features.TimestampPeriod)}
	for i := range p.history {
		p.history[i] = containers.NewRingQueue[float64](timingHistory)
	}
	if !c.Config.Timestamps || !c.features.Timestamps {
		return p, nil
	}
	for i := 0; i < c.FramesInFlight; i++ {
		pool, err := c.Device.CreateQueryPool(uint32(PassCount) * 2)
		if err != nil {
			p.Destroy()
			return nil, err
		}
		p.pools = append(p.pools, pool)
	}
	return p, nil
}

func (p *Profiler) Enabled() bool { return len(p.pools) > 0 }

// Reset clears the slot's queries. Recorded once at the start of a frame.
func (p *Profiler) Reset(cmd gpu.CommandBuffer, slot int) {
	if !p.Enabled() {
		return
	}
	cmd.ResetQueries(p.pools[slot], 0, uint32(PassCount)*2)
}

func (p *Profiler) Begin(cmd gpu.CommandBuffer, slot int, pass Pass) {
	if !p.Enabled() {
		return
	}
	cmd.WriteTimestamp(p.pools[slot], uint32(pass)*2, gpu.StageTop)
}

func (p *Profiler) End(cmd gpu.CommandBuffer, slot int, pass Pass) {
	if !p.Enabled() {
		return
	}
	cmd.WriteTimestamp(p.pools[slot], uint32(pass)*2+1, gpu.StageBottom)
}

// Collect reads the slot's previous results. Call after the slot's fence
// has been waited on and before Reset.
func (p *Profiler) Collect(slot int) {
	if !p.Enabled() {
		return
	}
	values, ok, err := p.pools[slot].Results(0, uint32(PassCount)*2)
	if err != nil {
		core.LogWarn("failed to read timestamp queries of slot %d: %s", slot, err)
		return
	}
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for pass := Pass(0); pass < PassCount; pass++ {
		begin, end := values[pass*2], values[pass*2+1]
		if end < begin {
			continue
		}
		p.history[pass].Push(float64(end-begin) * p.period / 1e6)
	}
}

// Timings returns the average duration of each pass in milliseconds.
func (p *Profiler) Timings() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, PassCount)
	for pass := Pass(0); pass < PassCount; pass++ {
		out[pass.String()] = containers.Average(p.history[pass])
	}
	return out
}

func (p *Profiler) Destroy() {
	for _, pool := range p.pools {
		pool.Destroy()
	}
	p.pools = nil
}
