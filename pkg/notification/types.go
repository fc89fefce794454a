package notification

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeEmail Type = "EMAIL"
	TypeKafka Type = "KAFKA"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Message is the notification payload carried on the wire. The type decides
// which handler delivers it: EMAIL goes to SMTP, KAFKA is forwarded to the
// recipient topic.
type Message struct {
	Type       Type      `json:"type"`
	CustomerID string    `json:"customer_id"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Fingerprint derives the dedup identity of a message from its content. Two
// messages with the same customer, type, content, recipient and creation
// time are the same notification, no matter how often the broker redelivers
// them.
func (m Message) Fingerprint() string {
	recipient := ""
	if m.Recipient != "" {
		recipient = m.Recipient + ":"
	}
	sum := md5.Sum([]byte(
		m.CustomerID + ":" + string(m.Type) + ":" + m.Content + ":" + recipient + m.CreatedAt.UTC().Format(time.RFC3339Nano),
	))
	return hex.EncodeToString(sum[:])
}

// Notification is the delivery audit row written after a message is handled.
type Notification struct {
	ID             uint64            `gorm:"primaryKey" json:"id"`
	Type           Type              `gorm:"type:varchar(8);not null" json:"type"`
	CustomerID     string            `gorm:"index;not null" json:"customer_id"`
	Recipient      string            `json:"recipient"`
	Subject        string            `json:"subject"`
	Content        string            `gorm:"not null" json:"content"`
	Status         Status            `gorm:"type:varchar(8);not null" json:"status"`
	RetryCount     int               `gorm:"not null;default:0" json:"retry_count"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	AdditionalData datatypes.JSONMap `gorm:"type:jsonb" json:"additional_data,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	SentAt         *time.Time        `json:"sent_at,omitempty"`
}

func (Notification) TableName() string { return "notifications" }
