package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Record mirrors the monetization_records table: one JSON document per key.
type Record struct {
	Key       string         `gorm:"column:record_key;primaryKey"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (Record) TableName() string { return "monetization_records" }

// Video mirrors the videos table.
type Video struct {
	VideoID         string    `gorm:"primaryKey"`
	ChannelID       string    `gorm:"not null;index:idx_videos_channel"`
	DurationSeconds float64   `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Video) TableName() string { return "videos" }

// Models lists every table the store needs, in migration order.
func Models() []any {
	return []any{&Record{}, &Video{}}
}
