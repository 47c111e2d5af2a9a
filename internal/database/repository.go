package database

import (
	"github.com/robalyx/resonance/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	liveStatus   *models.LiveStatusModel
	location     *models.LocationModel
	findSession  *models.FindSessionModel
	profile      *models.ProfileModel
	listening    *models.ListeningModel
	notification *models.NotificationModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		liveStatus:   models.NewLiveStatus(db, logger),
		location:     models.NewLocation(db, logger),
		findSession:  models.NewFindSession(db, logger),
		profile:      models.NewProfile(db, logger),
		listening:    models.NewListening(db, logger),
		notification: models.NewNotification(db, logger),
	}
}

// LiveStatuses returns the live status model repository.
func (r *Repository) LiveStatuses() *models.LiveStatusModel {
	return r.liveStatus
}

// Locations returns the location snapshot model repository.
func (r *Repository) Locations() *models.LocationModel {
	return r.location
}

// FindSessions returns the Find session model repository.
func (r *Repository) FindSessions() *models.FindSessionModel {
	return r.findSession
}

// Profiles returns the profile model repository.
func (r *Repository) Profiles() *models.ProfileModel {
	return r.profile
}

// Listening returns the listening history model repository.
func (r *Repository) Listening() *models.ListeningModel {
	return r.listening
}

// Notifications returns the notification model repository.
func (r *Repository) Notifications() *models.NotificationModel {
	return r.notification
}
