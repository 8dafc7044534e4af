package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"rr2atom/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store holds stories and chapters. Rows are only ever inserted.
type Store struct {
	db *gorm.DB
}

// Dialector picks the gorm driver for a connection string.
//
//	sqlite:///relative.db    sqlite file relative to the working directory
//	sqlite:////abs/path.db   absolute sqlite file
//	sqlite://                in-memory sqlite
//	postgres://...           PostgreSQL
//	anything else            path of a sqlite file
func Dialector(dsn string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" || path == "/" || path == "/:memory:" {
			return sqlite.Open(":memory:"), nil
		}
		path = strings.TrimPrefix(path, "/")
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		return sqlite.Open(path), nil
	case strings.Contains(dsn, "://"):
		return nil, fmt.Errorf("unsupported database url %q", dsn)
	default:
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database dir: %w", err)
	}
	return nil
}

// Open connects to dsn and creates the schema if it is missing.
func Open(dsn string) (*Store, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting connection pool: %w", err)
	}
	// One writer; also keeps an in-memory sqlite database on one connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.Story{}, &model.Chapter{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// gormWriter sends gorm's slow-query and error lines to zerolog.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	log.Warn().Str("component", "gorm").Msgf(format, args...)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AddStory(ctx context.Context, story *model.Story) (uint, error) {
	if err := s.db.WithContext(ctx).Create(story).Error; err != nil {
		return 0, fmt.Errorf("adding story %q: %w", story.Title, err)
	}
	return story.ID, nil
}

func (s *Store) AddChapter(ctx context.Context, storyID uint, chapter *model.Chapter) (uint, error) {
	chapter.StoryID = storyID
	chapter.Published = chapter.Published.UTC()
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(chapter).Error; err != nil {
		return 0, fmt.Errorf("adding chapter %q: %w", chapter.Title, err)
	}
	return chapter.ID, nil
}

// StoryIDByTitle looks a story up by exact title.
func (s *Store) StoryIDByTitle(ctx context.Context, title string) (uint, bool, error) {
	var story model.Story
	err := s.db.WithContext(ctx).
		Select("story_id").
		Where("title = ?", title).
		Order("story_id").
		Take(&story).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up story %q: %w", title, err)
	}
	return story.ID, true, nil
}

func (s *Store) Story(ctx context.Context, id uint) (*model.Story, error) {
	var story model.Story
	err := s.db.WithContext(ctx).Where("story_id = ?", id).Take(&story).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("story %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting story %d: %w", id, err)
	}
	return &story, nil
}

func (s *Store) Stories(ctx context.Context) ([]model.Story, error) {
	var stories []model.Story
	if err := s.db.WithContext(ctx).Order("story_id").Find(&stories).Error; err != nil {
		return nil, fmt.Errorf("listing stories: %w", err)
	}
	return stories, nil
}

// Chapters returns the chapters of a story, oldest first.
func (s *Store) Chapters(ctx context.Context, storyID uint) ([]model.Chapter, error) {
	var chapters []model.Chapter
	err := s.db.WithContext(ctx).
		Where("story_id = ?", storyID).
		Order("published, chapter_id").
		Find(&chapters).Error
	if err != nil {
		return nil, fmt.Errorf("listing chapters of story %d: %w", storyID, err)
	}
	for i := range chapters {
		chapters[i].Published = chapters[i].Published.UTC()
	}
	return chapters, nil
}
