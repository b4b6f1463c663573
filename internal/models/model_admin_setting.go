package models

import "time"

const SettingTaxPercentage = "tax_percentage"

type AdminSetting struct {
	Key       string    `gorm:"column:key;type:varchar(128);primary_key" json:"key"`
	Value     string    `gorm:"column:value;type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AdminSetting) TableName() string {
	return "admin_setting"
}
