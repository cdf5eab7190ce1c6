package models

import (
	"time"

	"github.com/getmentor/airtable-connector/pkg/airtable"
)

// ActivateTriggerRequest starts a poll trigger. New records are posted to CallbackURL.
type ActivateTriggerRequest struct {
	Credentials         *airtable.Credentials `json:"credentials"`
	BaseID              string                `json:"baseId" binding:"required"`
	Table               string                `json:"table" binding:"required"`
	FilterFormula       string                `json:"filterFormula"`
	PollIntervalSeconds int                   `json:"pollIntervalSeconds" binding:"omitempty,min=0,max=604800"`
	CallbackURL         string                `json:"callbackUrl" binding:"required,url"`
}

// TriggerInfo describes an active trigger
type TriggerInfo struct {
	ID              string    `json:"id"`
	BaseID          string    `json:"baseId"`
	Table           string    `json:"table"`
	FilterFormula   string    `json:"filterFormula,omitempty"`
	IntervalSeconds int       `json:"intervalSeconds"`
	CallbackURL     string    `json:"callbackUrl"`
	ActivatedAt     time.Time `json:"activatedAt"`
	LastCheck       time.Time `json:"lastCheck"`
}

// ActivateTriggerResponse is returned on activation
type ActivateTriggerResponse struct {
	ID              string `json:"id"`
	IntervalSeconds int    `json:"intervalSeconds"`
}

// TriggerListResponse lists active triggers
type TriggerListResponse struct {
	Triggers []TriggerInfo `json:"triggers"`
}
