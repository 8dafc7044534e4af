package model

import "time"

// Story is a serial on the site. Title is the natural key: notifications
// with the same subject line belong to the same story.
type Story struct {
	ID          uint   `gorm:"column:story_id;primaryKey"`
	Title       string `gorm:"column:title;not null;index"`
	AuthorName  string `gorm:"column:author_name;not null"`
	URL         string `gorm:"column:url;not null"`
	Description string `gorm:"column:description;not null"`
}

// Chapter is one "new chapter" notification. Description holds the
// notification body as received.
type Chapter struct {
	ID          uint      `gorm:"column:chapter_id;primaryKey"`
	StoryID     uint      `gorm:"column:story_id;not null;index"`
	Story       *Story    `gorm:"foreignKey:StoryID;references:ID"`
	URL         string    `gorm:"column:url;not null"`
	Title       string    `gorm:"column:title;not null"`
	Description string    `gorm:"column:description;not null"`
	Published   time.Time `gorm:"column:published;not null"`
}
