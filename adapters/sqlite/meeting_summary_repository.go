package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/domain/repositories"
)

const schema = `
CREATE TABLE IF NOT EXISTS meeting_summaries (
	meeting_id   TEXT PRIMARY KEY,
	theme        TEXT NOT NULL,
	meeting_time TEXT NOT NULL,
	summary      TEXT NOT NULL,
	key_points   TEXT NOT NULL DEFAULT '[]',
	attendees    TEXT NOT NULL DEFAULT '[]'
)`

// MeetingSummaryRepository stores meeting summaries in a SQLite file.
type MeetingSummaryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ repositories.MeetingSummaryRepository = (*MeetingSummaryRepository)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*MeetingSummaryRepository, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// In-memory databases exist per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &MeetingSummaryRepository{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (r *MeetingSummaryRepository) Close() error {
	return r.db.Close()
}

// SeedDefaults inserts the built-in summaries when the table is empty.
func (r *MeetingSummaryRepository) SeedDefaults(ctx context.Context) error {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meeting_summaries`).Scan(&n); err != nil {
		return fmt.Errorf("count summaries: %w", err)
	}
	if n > 0 {
		r.logger.Info("Meeting summaries already present, skipping seed", zap.Int("count", n))
		return nil
	}
	for _, s := range DefaultSummaries() {
		if err := r.Save(ctx, s); err != nil {
			return err
		}
	}
	r.logger.Info("Seeded default meeting summaries", zap.Int("count", len(DefaultSummaries())))
	return nil
}

// Save inserts or replaces a summary.
func (r *MeetingSummaryRepository) Save(ctx context.Context, s *entities.MeetingSummary) error {
	if s == nil || s.MeetingID == "" {
		return errors.New("meeting id is required")
	}
	keyPoints, err := json.Marshal(nonNil(s.KeyPoints))
	if err != nil {
		return fmt.Errorf("encode key points: %w", err)
	}
	attendees, err := json.Marshal(nonNil(s.Attendees))
	if err != nil {
		return fmt.Errorf("encode attendees: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO meeting_summaries (meeting_id, theme, meeting_time, summary, key_points, attendees)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(meeting_id) DO UPDATE SET
			theme = excluded.theme,
			meeting_time = excluded.meeting_time,
			summary = excluded.summary,
			key_points = excluded.key_points,
			attendees = excluded.attendees
	`, s.MeetingID, s.Theme, s.MeetingTime, s.Summary, string(keyPoints), string(attendees))
	if err != nil {
		return fmt.Errorf("save summary %s: %w", s.MeetingID, err)
	}
	return nil
}

// GetByID returns the summary with meetingID or repositories.ErrNotFound.
func (r *MeetingSummaryRepository) GetByID(ctx context.Context, meetingID string) (*entities.MeetingSummary, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT meeting_id, theme, meeting_time, summary, key_points, attendees
		FROM meeting_summaries
		WHERE meeting_id = ?
	`, meetingID)
	return scanSummary(row)
}

// FindByTheme returns the first summary whose theme contains theme or is
// contained in it, ignoring ASCII case.
func (r *MeetingSummaryRepository) FindByTheme(ctx context.Context, theme string) (*entities.MeetingSummary, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return nil, repositories.ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT meeting_id, theme, meeting_time, summary, key_points, attendees
		FROM meeting_summaries
		WHERE instr(lower(theme), lower(?1)) > 0 OR instr(lower(?1), lower(theme)) > 0
		ORDER BY meeting_id ASC
		LIMIT 1
	`, theme)
	s, err := scanSummary(row)
	if err == nil {
		r.logger.Info("Found related meeting summary",
			zap.String("theme", theme),
			zap.String("meetingID", s.MeetingID))
	}
	return s, err
}

// List returns every summary ordered by meeting id.
func (r *MeetingSummaryRepository) List(ctx context.Context) ([]*entities.MeetingSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT meeting_id, theme, meeting_time, summary, key_points, attendees
		FROM meeting_summaries
		ORDER BY meeting_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*entities.MeetingSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (*entities.MeetingSummary, error) {
	var s entities.MeetingSummary
	var keyPoints, attendees string
	if err := row.Scan(&s.MeetingID, &s.Theme, &s.MeetingTime, &s.Summary, &keyPoints, &attendees); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	if err := json.Unmarshal([]byte(keyPoints), &s.KeyPoints); err != nil {
		return nil, fmt.Errorf("decode key points of %s: %w", s.MeetingID, err)
	}
	if err := json.Unmarshal([]byte(attendees), &s.Attendees); err != nil {
		return nil, fmt.Errorf("decode attendees of %s: %w", s.MeetingID, err)
	}
	return &s, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
