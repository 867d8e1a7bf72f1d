package models

import "time"

// ProviderSetting is the stored selection policy for one provider.
type ProviderSetting struct {
	Provider   string    `gorm:"column:provider;type:text;primaryKey" json:"provider"`
	FreeOnly   bool      `gorm:"column:free_only;not null;default:false" json:"free_only"`
	AutoChoose bool      `gorm:"column:auto_choose;not null;default:false" json:"auto_choose"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (ProviderSetting) TableName() string { return "provider_settings" }

// EffectiveSelection is the resolved provider+model for one request, together
// with the policy flags that produced it. Computed fresh per request.
type EffectiveSelection struct {
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	FreeOnlyApplied bool   `json:"free_only_applied"`
	AutoChosen      bool   `json:"auto_chosen"`
}
