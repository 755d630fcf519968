package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mdmcmusicads/smartlink/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrAccountNotFound indicates no account exists for the identifier.
	ErrAccountNotFound = errors.New("users: account not found")
)

// ServiceConfig describes the dependencies required for account resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maps session claims onto accounts.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// ResolveAccount returns the account for the provided session claims, creating a free-plan
// account on first sight. Profile fields, the admin flag and a plan carried by the claims are
// synchronised on every call.
func (s *Service) ResolveAccount(ctx context.Context, claims auth.SessionClaims) (Account, error) {
	userID := deriveUserID(claims)
	if userID == "" {
		return Account{}, ErrInvalidIdentity
	}
	now := s.now().UTC().Unix()
	isAdmin := claims.HasRole(auth.RoleAdmin)

	candidate := Account{
		UserID:           userID,
		Email:            normalize(claims.UserEmail),
		DisplayName:      normalize(claims.UserDisplayName),
		Plan:             PlanFree,
		IsAdmin:          isAdmin,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if plan := normalize(claims.UserPlan); plan != "" {
		candidate.Plan = NormalizePlan(plan)
	}

	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate).Error; err != nil {
		s.logger.Error("account insert failed", zap.String("user_id", userID), zap.Error(err))
		return Account{}, err
	}

	var account Account
	if err := db.Where("user_id = ?", userID).Take(&account).Error; err != nil {
		return Account{}, err
	}

	updates := map[string]interface{}{}
	if email := normalize(claims.UserEmail); email != "" && email != account.Email {
		updates["email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" && display != account.DisplayName {
		updates["display_name"] = display
	}
	if isAdmin != account.IsAdmin {
		updates["is_admin"] = isAdmin
	}
	if plan := normalize(claims.UserPlan); plan != "" && NormalizePlan(plan) != account.Plan {
		updates["plan"] = NormalizePlan(plan)
	}
	if len(updates) > 0 {
		updates["updated_at_s"] = now
		if err := db.Model(&Account{}).Where("user_id = ?", userID).Updates(updates).Error; err != nil {
			s.logger.Warn("account profile sync failed", zap.String("user_id", userID), zap.Error(err))
		} else if err := db.Where("user_id = ?", userID).Take(&account).Error; err != nil {
			return Account{}, err
		}
	}
	return account, nil
}

// GetAccount loads an account by id.
func (s *Service) GetAccount(ctx context.Context, userID string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", normalize(userID)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	return account, err
}

// SetPlan changes the plan of an existing account.
func (s *Service) SetPlan(ctx context.Context, userID, plan string) (Account, error) {
	normalizedPlan := strings.ToLower(normalize(plan))
	if normalizedPlan != PlanFree && normalizedPlan != PlanPro {
		return Account{}, fmt.Errorf("users: unknown plan %q", plan)
	}
	result := s.db.WithContext(ctx).
		Model(&Account{}).
		Where("user_id = ?", normalize(userID)).
		Updates(map[string]interface{}{"plan": normalizedPlan, "updated_at_s": s.now().UTC().Unix()})
	if result.Error != nil {
		return Account{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Account{}, ErrAccountNotFound
	}
	s.logger.Info("account plan changed", zap.String("user_id", userID), zap.String("plan", normalizedPlan))
	return s.GetAccount(ctx, userID)
}

// deriveUserID prefers the user_id claim, stripping a provider prefix such as "google:",
// then the subject, then the email.
func deriveUserID(claims auth.SessionClaims) string {
	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				return normalize(segments[1])
			}
		}
		return raw
	}
	if subject := normalize(claims.Subject); subject != "" {
		return subject
	}
	return strings.ToLower(normalize(claims.UserEmail))
}
