package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore gives every level with a rule its own sampler. Levels
// without a rule, and Error and above, pass through untouched.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled || len(cfg.Rules) == 0 {
		return core
	}

	sampled := make(map[zapcore.Level]bool, len(cfg.Rules))
	cores := make([]zapcore.Core, 0, len(cfg.Rules)+1)
	for lvl, rule := range cfg.Rules {
		if lvl >= zapcore.ErrorLevel || rule.Initial == 0 {
			continue
		}
		sampled[lvl] = true
		only := lvl
		cores = append(cores, zapcore.NewSamplerWithOptions(
			filterLevels(core, func(l zapcore.Level) bool { return l == only }),
			cfg.Tick.Duration(), rule.Initial, rule.Thereafter,
		))
	}
	cores = append(cores, filterLevels(core, func(l zapcore.Level) bool { return !sampled[l] }))
	return zapcore.NewTee(cores...)
}

// levelFilterCore passes only the levels accept allows.
type levelFilterCore struct {
	zapcore.Core
	accept func(zapcore.Level) bool
}

func filterLevels(core zapcore.Core, accept func(zapcore.Level) bool) zapcore.Core {
	return &levelFilterCore{Core: core, accept: accept}
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return c.accept(lvl) && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.accept(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), accept: c.accept}
}
