// Package notify persists in-app notifications. Delivery to devices happens
// elsewhere and reads from this table.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

type Notification struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null" json:"user_id"`
	Type      string         `gorm:"type:text;not null" json:"type"`
	Title     string         `gorm:"type:text;not null" json:"title"`
	Message   string         `gorm:"type:text;not null" json:"message"`
	Link      *string        `gorm:"type:text" json:"link,omitempty"`
	Metadata  datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'::jsonb" json:"metadata"`
	Priority  string         `gorm:"type:text;not null;default:'medium'" json:"priority"`
	IsRead    bool           `gorm:"not null;default:false" json:"is_read"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

type Store struct {
	DB  *gorm.DB
	Log logrus.FieldLogger
}

// Notify stores one notification for userID. A "link" entry in metadata is
// promoted to the link column.
func (s *Store) Notify(ctx context.Context, userID uuid.UUID, typ, title, message string, metadata map[string]any) error {
	n, err := Build(userID, typ, title, message, metadata)
	if err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Create(&n).Error; err != nil {
		return err
	}
	if s.Log != nil {
		s.Log.WithFields(logrus.Fields{
			"notification_id": n.ID,
			"user_id":         userID,
			"type":            typ,
			"priority":        n.Priority,
		}).Debug("notification stored")
	}
	return nil
}

// Build assembles the row Notify would insert.
func Build(userID uuid.UUID, typ, title, message string, metadata map[string]any) (Notification, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return Notification{}, err
	}

	n := Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Metadata:  datatypes.JSON(raw),
		Priority:  PriorityFor(typ),
		CreatedAt: time.Now(),
	}
	if link, ok := metadata["link"].(string); ok && link != "" {
		n.Link = &link
	}
	return n, nil
}

// PriorityFor ranks notification types: anything about money or a pending
// confirmation is high.
func PriorityFor(typ string) string {
	t := strings.ToUpper(typ)
	switch {
	case strings.Contains(t, "PAYMENT"), strings.Contains(t, "CONFIRM"), strings.Contains(t, "COMPLETION"):
		return PriorityHigh
	case strings.Contains(t, "CANCEL"), strings.Contains(t, "ASSIGNED"), strings.Contains(t, "QUOTE"), strings.Contains(t, "VISIT"):
		return PriorityMedium
	}
	return PriorityLow
}
