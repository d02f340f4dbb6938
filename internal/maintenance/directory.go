package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProviderStatus string

const (
	ProviderActive    ProviderStatus = "ACTIVE"
	ProviderAvailable ProviderStatus = "AVAILABLE"
	ProviderBusy      ProviderStatus = "BUSY"
	ProviderInactive  ProviderStatus = "INACTIVE"
	ProviderSuspended ProviderStatus = "SUSPENDED"
)

type Provider struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	BusinessName string
	IsVerified   bool
	Status       ProviderStatus
}

// Assignable reports whether the provider may take new work.
func (p *Provider) Assignable() bool {
	if !p.IsVerified {
		return false
	}
	s := ProviderStatus(strings.ToUpper(string(p.Status)))
	return s == ProviderActive || s == ProviderAvailable
}

// Property holds the parties of a property. BrokerIDs merges the direct
// broker assignment with every active management record.
type Property struct {
	ID        uuid.UUID
	Title     string
	OwnerID   uuid.UUID
	BrokerIDs []uuid.UUID
}

func (p *Property) ManagedBy(userID uuid.UUID) bool {
	for _, b := range p.BrokerIDs {
		if b == userID {
			return true
		}
	}
	return false
}

// Directory reads the parties the engine does not own. Lookups that find
// nothing return ErrNotFound.
type Directory interface {
	Property(ctx context.Context, id uuid.UUID) (*Property, error)
	Provider(ctx context.Context, id uuid.UUID) (*Provider, error)
	HasActiveLease(ctx context.Context, propertyID, tenantID uuid.UUID) (bool, error)
}

type propertyRow struct {
	ID       uuid.UUID  `gorm:"column:id"`
	Title    string     `gorm:"column:title"`
	OwnerID  uuid.UUID  `gorm:"column:owner_id"`
	BrokerID *uuid.UUID `gorm:"column:broker_id"`
}

func (propertyRow) TableName() string { return "properties" }

type managementRow struct {
	BrokerID   uuid.UUID `gorm:"column:broker_id"`
	PropertyID uuid.UUID `gorm:"column:property_id"`
	Status     string    `gorm:"column:status"`
}

func (managementRow) TableName() string { return "broker_property_managements" }

type providerRow struct {
	ID           uuid.UUID `gorm:"column:id"`
	UserID       uuid.UUID `gorm:"column:user_id"`
	BusinessName string    `gorm:"column:business_name"`
	IsVerified   bool      `gorm:"column:is_verified"`
	Status       string    `gorm:"column:status"`
}

func (providerRow) TableName() string { return "maintenance_providers" }

func (r providerRow) provider() *Provider {
	return &Provider{
		ID:           r.ID,
		UserID:       r.UserID,
		BusinessName: r.BusinessName,
		IsVerified:   r.IsVerified,
		Status:       ProviderStatus(r.Status),
	}
}

type leaseRow struct {
	PropertyID uuid.UUID `gorm:"column:property_id"`
	TenantID   uuid.UUID `gorm:"column:tenant_id"`
	Status     string    `gorm:"column:status"`
}

func (leaseRow) TableName() string { return "contracts" }

// GormDirectory reads the property, management, provider and contract tables
// maintained by the rest of the platform.
type GormDirectory struct {
	DB *gorm.DB
}

func (d *GormDirectory) Property(ctx context.Context, id uuid.UUID) (*Property, error) {
	var row propertyRow
	if err := d.DB.WithContext(ctx).Where("id=?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "property %s", id)
	}

	var managers []managementRow
	if err := d.DB.WithContext(ctx).
		Where("property_id=? AND status=?", id, "ACTIVE").
		Find(&managers).Error; err != nil {
		return nil, err
	}

	p := &Property{ID: row.ID, Title: row.Title, OwnerID: row.OwnerID}
	if row.BrokerID != nil {
		p.BrokerIDs = append(p.BrokerIDs, *row.BrokerID)
	}
	for _, m := range managers {
		if !p.ManagedBy(m.BrokerID) {
			p.BrokerIDs = append(p.BrokerIDs, m.BrokerID)
		}
	}
	return p, nil
}

func (d *GormDirectory) Provider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var row providerRow
	if err := d.DB.WithContext(ctx).Where("id=?", id).First(&row).Error; err != nil {
		return nil, notFound(err, "provider %s", id)
	}
	return row.provider(), nil
}

func (d *GormDirectory) HasActiveLease(ctx context.Context, propertyID, tenantID uuid.UUID) (bool, error) {
	var n int64
	err := d.DB.WithContext(ctx).Model(&leaseRow{}).
		Where("property_id=? AND tenant_id=? AND status=?", propertyID, tenantID, "ACTIVE").
		Count(&n).Error
	return n > 0, err
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}
