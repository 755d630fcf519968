package users

import (
	"strings"
	"time"
)

const (
	PlanFree = "free"
	PlanPro  = "pro"

	freeSmartLinkQuota = 5
	proSmartLinkQuota  = 1000
)

// Account is the per-user record carrying the plan and the SmartLink counter used for quotas.
type Account struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email            string `gorm:"column:email;size:320;not null;default:''"`
	DisplayName      string `gorm:"column:display_name;size:320;not null;default:''"`
	Plan             string `gorm:"column:plan;size:32;not null;default:'free'"`
	IsAdmin          bool   `gorm:"column:is_admin;not null;default:false"`
	SmartLinkCount   int64  `gorm:"column:smartlinks_count;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// UpdatedAt returns the last modification instant.
func (a Account) UpdatedAt() time.Time {
	return time.Unix(a.UpdatedAtSeconds, 0).UTC()
}

// QuotaFor returns the maximum number of SmartLinks allowed for plan. Unknown plans get the
// free quota.
func QuotaFor(plan string) int64 {
	if NormalizePlan(plan) == PlanPro {
		return proSmartLinkQuota
	}
	return freeSmartLinkQuota
}

// NormalizePlan lowercases plan and maps anything unrecognised to the free plan.
func NormalizePlan(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case PlanPro:
		return PlanPro
	default:
		return PlanFree
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
