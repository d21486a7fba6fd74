package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const ProtocolVLESS = "vless"

type User struct {
	ID            uint           `gorm:"primaryKey"`
	TgID          int64          `gorm:"uniqueIndex;not null"`
	UUID          string         `gorm:"type:uuid;uniqueIndex;not null"`
	Role          string         `gorm:"size:16;not null"`
	IsActive      bool           `gorm:"not null"`
	Subscriptions []Subscription `gorm:"constraint:OnDelete:CASCADE"`
}

// BeforeCreate назначает постоянный uuid клиента для панели и ссылок.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UUID == "" {
		u.UUID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

type Subscription struct {
	ID               uint      `gorm:"primaryKey"`
	UserID           uint      `gorm:"not null;index"`
	Token            string    `gorm:"size:255;uniqueIndex;not null"`
	ExpiresAt        time.Time `gorm:"not null;index"`
	IsActive         bool      `gorm:"not null"`
	NotifiedExpiring bool      `gorm:"not null"`
	User             *User
}

type Server struct {
	ID          uint    `gorm:"primaryKey" json:"id"`
	CountryCode string  `gorm:"size:8;not null;index" json:"country_code"`
	Name        *string `gorm:"size:255" json:"name"`
	Host        string  `gorm:"size:255;not null" json:"host"`
	Port        int     `gorm:"not null" json:"port"`
	Protocol    string  `gorm:"size:32;not null" json:"protocol"`
	Network     string  `gorm:"size:16;not null" json:"network"`
	PublicKey   string  `gorm:"size:255;not null" json:"public_key"`
	SNI         *string `gorm:"size:255" json:"sni"`
	ShortID     string  `gorm:"size:64" json:"short_id"`
	Enabled     bool    `gorm:"not null;index" json:"enabled"`
	InboundID   *int    `json:"inbound_id"`
}

// ServerPatch поля, которые может менять админ. Nil-поля не меняются.
type ServerPatch struct {
	CountryCode *string `json:"country_code" validate:"omitempty,max=8"`
	Name        *string `json:"name" validate:"omitempty,max=255"`
	Host        *string `json:"host" validate:"omitempty,min=1"`
	Port        *int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Protocol    *string `json:"protocol" validate:"omitempty,eq=vless"`
	Network     *string `json:"network" validate:"omitempty,oneof=tcp ws xhttp"`
	PublicKey   *string `json:"public_key" validate:"omitempty,min=1"`
	SNI         *string `json:"sni"`
	ShortID     *string `json:"short_id"`
	Enabled     *bool   `json:"enabled"`
	InboundID   *int    `json:"inbound_id" validate:"omitempty,min=1"`
}

// Apply возвращает копию s с заменёнными переданными полями.
func (p ServerPatch) Apply(s Server) Server {
	out := s
	if p.CountryCode != nil {
		out.CountryCode = *p.CountryCode
	}
	if p.Name != nil {
		name := *p.Name
		out.Name = &name
	}
	if p.Host != nil {
		out.Host = *p.Host
	}
	if p.Port != nil {
		out.Port = *p.Port
	}
	if p.Protocol != nil {
		out.Protocol = *p.Protocol
	}
	if p.Network != nil {
		out.Network = *p.Network
	}
	if p.PublicKey != nil {
		out.PublicKey = *p.PublicKey
	}
	if p.SNI != nil {
		sni := *p.SNI
		out.SNI = &sni
	}
	if p.ShortID != nil {
		out.ShortID = *p.ShortID
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.InboundID != nil {
		id := *p.InboundID
		out.InboundID = &id
	}
	return out
}
