package config

import "time"

// ApplyDefaults fills every unset value with its default.
func (c *Config) ApplyDefaults() {
	c.Common.Debug.applyDefaults()
	c.Common.FastStore.applyDefaults()
	c.Common.Presence.applyDefaults()
	c.Common.Geo.applyDefaults()
	c.Common.Find.applyDefaults()
	c.Server.applyDefaults()
	c.Worker.applyDefaults()
}

func (d *Debug) applyDefaults() {
	setDefault(&d.LogLevel, "info")
	setDefault(&d.MaxLogsToKeep, 10)
	setDefault(&d.MaxLogLines, 100000)
}

func (f *FastStore) applyDefaults() {
	setDefault(&f.Mode, FastStoreModeRedis)
	setDefault(&f.Host, "localhost")
	setDefault(&f.Port, 6379)
}

func (p *Presence) applyDefaults() {
	setDefault(&p.CacheTTL, 60*time.Second)
	setDefault(&p.StaleThreshold, 2*time.Minute)
	setDefault(&p.ReapInterval, 60*time.Second)
	setDefault(&p.SyncInterval, 30*time.Second)
	setDefault(&p.ReapBatchSize, 500)
}

func (g *Geo) applyDefaults() {
	setDefault(&g.MaxRadiusKm, 10)
	setDefault(&g.DefaultRadiusKm, 5)
	setDefault(&g.MinPrecision, 1)
	setDefault(&g.MaxPrecision, 9)
	setDefault(&g.LocationTTL, 300*time.Second)
	setDefault(&g.MaxCandidates, 500)
	setDefault(&g.DefaultLimit, 50)
	setDefault(&g.ProfileConcurrency, 8)
}

func (f *Find) applyDefaults() {
	setDefault(&f.SessionTTL, 5*time.Minute)
	setDefault(&f.IdleExpiry, 30*time.Minute)
	setDefault(&f.SweepInterval, 60*time.Second)
	setDefault(&f.SweepBatchSize, 200)
}

func (s *ServerConfig) applyDefaults() {
	setDefault(&s.Host, "0.0.0.0")
	setDefault(&s.Port, 8080)
	setDefault(&s.RateLimit.RequestsPerSecond, 20)
	setDefault(&s.RateLimit.BurstSize, 40)
	setDefault(&s.RateLimit.StrikeLimit, 5)
	setDefault(&s.RateLimit.BlockDuration, time.Minute)
	setDefault(&s.Realtime.EventsPerSecond, 10)
	setDefault(&s.Realtime.EventBurst, 20)
	setDefault(&s.Realtime.MaxMessageBytes, 64*1024)
}

func (w *WorkerConfig) applyDefaults() {
	setDefault(&w.CycleTimeout, 2*time.Minute)
}

// setDefault assigns def when the value is the zero value.
func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}
