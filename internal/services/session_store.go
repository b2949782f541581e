package services

import (
	"errors"

	"gorm.io/gorm"

	"flick_kiosk/internal/models"
)

// The kiosk carries at most one payment session, persisted under a fixed row.
const paymentSessionRowID = 1

// GormSessionStore is the durable session repository backing PaymentService.
type GormSessionStore struct {
	db *gorm.DB
}

func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

func (s *GormSessionStore) Load() (*models.PaymentSession, error) {
	var sess models.PaymentSession
	err := s.db.First(&sess, paymentSessionRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *GormSessionStore) Save(session *models.PaymentSession) error {
	session.ID = paymentSessionRowID
	return s.db.Save(session).Error
}

func (s *GormSessionStore) Clear() error {
	return s.db.Delete(&models.PaymentSession{}, paymentSessionRowID).Error
}
