package setup

import (
	"github.com/robalyx/resonance/internal/find"
	"github.com/robalyx/resonance/internal/geoindex"
	"github.com/robalyx/resonance/internal/location"
	"github.com/robalyx/resonance/internal/presence"
	"github.com/robalyx/resonance/internal/proximity"
)

// Services are the domain components shared by the server and the workers.
// They are constructed once per process and passed to whoever needs them.
type Services struct {
	Index     *geoindex.Index
	Location  *location.Service
	Presence  *presence.Store
	Proximity *proximity.Engine
	Find      *find.Machine
}

// NewServices wires the domain components on top of the app infrastructure.
func NewServices(app *App) *Services {
	cfg := &app.Config.Common
	models := app.DB.Model()

	index := geoindex.New(app.FastStore, geoindex.Config{
		LocationTTL:   cfg.Geo.LocationTTL,
		MaxCandidates: cfg.Geo.MaxCandidates,
		MinPrecision:  cfg.Geo.MinPrecision,
		MaxPrecision:  cfg.Geo.MaxPrecision,
	}, app.Logger)

	locations := location.NewService(index, models.Locations(), location.Config{
		MinPrecision: cfg.Geo.MinPrecision,
		MaxPrecision: cfg.Geo.MaxPrecision,
	}, app.Logger)

	presenceStore := presence.NewStore(app.FastStore, models.LiveStatuses(), locations, models.Listening(), presence.Config{
		CacheTTL:       cfg.Presence.CacheTTL,
		StaleThreshold: cfg.Presence.StaleThreshold,
		SyncInterval:   cfg.Presence.SyncInterval,
		ReapBatchSize:  cfg.Presence.ReapBatchSize,
		MaxRadiusKm:    cfg.Geo.MaxRadiusKm,
	}, app.Logger)

	engine := proximity.NewEngine(presenceStore, index, locations, models.Profiles(), proximity.Config{
		MaxRadiusKm:        cfg.Geo.MaxRadiusKm,
		DefaultRadiusKm:    cfg.Geo.DefaultRadiusKm,
		DefaultLimit:       cfg.Geo.DefaultLimit,
		MaxCandidates:      cfg.Geo.MaxCandidates,
		ProfileConcurrency: cfg.Geo.ProfileConcurrency,
	}, app.Logger)

	machine := find.NewMachine(
		models.FindSessions(), presenceStore, locations, models.Profiles(), app.FastStore, find.Config{
			SessionTTL:     cfg.Find.SessionTTL,
			IdleExpiry:     cfg.Find.IdleExpiry,
			SweepBatchSize: cfg.Find.SweepBatchSize,
		}, app.Logger)

	return &Services{
		Index:     index,
		Location:  locations,
		Presence:  presenceStore,
		Proximity: engine,
		Find:      machine,
	}
}
