package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/httprunner/DeviceAgent/internal/config"
)

const (
	envDBPath         = "DEVICEAGENT_DB_PATH"
	defaultDBDirName  = ".deviceagent"
	defaultDBFileName = "recordings.sqlite"
	recordingsTable   = "recordings"
)

// RecordingStore archives exported recordings in a local sqlite database so
// they survive process restarts and can be re-imported later.
type RecordingStore struct {
	db *sql.DB
}

// ArchivedRecording is one stored row. Payload is the transport-neutral JSON
// export of the recording.
type ArchivedRecording struct {
	RecordingID string
	DeviceID    string
	CreatedAt   time.Time
	Payload     string
}

func resolveDatabasePath() (string, error) {
	if path := config.String(envDBPath, ""); path != "" {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", pkgerrors.Wrap(err, "storage: resolve working directory")
	}
	return filepath.Join(wd, defaultDBDirName, defaultDBFileName), nil
}

// Open opens (creating if necessary) the recording archive at the configured
// path.
func Open() (*RecordingStore, error) {
	path, err := resolveDatabasePath()
	if err != nil {
		return nil, err
	}
	return OpenPath(path)
}

// OpenPath opens a recording archive at an explicit path.
func OpenPath(path string) (*RecordingStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, "storage: create db directory")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open sqlite db")
	}
	store := &RecordingStore{db: db}
	if err := store.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("recording archive opened")
	return store, nil
}

func (s *RecordingStore) ensureSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS "` + recordingsTable + `" (
		"recording_id" TEXT PRIMARY KEY,
		"device_id" TEXT NOT NULL,
		"created_at" TEXT NOT NULL,
		"payload" TEXT NOT NULL
	)`)
	return pkgerrors.Wrap(err, "storage: ensure recordings table")
}

// Save upserts one exported recording.
func (s *RecordingStore) Save(rec ArchivedRecording) error {
	if rec.RecordingID == "" {
		return pkgerrors.New("storage: recording id is required")
	}
	_, err := s.db.Exec(`INSERT INTO "`+recordingsTable+`"
		("recording_id", "device_id", "created_at", "payload") VALUES (?, ?, ?, ?)
		ON CONFLICT("recording_id") DO UPDATE SET
		"device_id" = excluded."device_id",
		"created_at" = excluded."created_at",
		"payload" = excluded."payload"`,
		rec.RecordingID, rec.DeviceID, rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.Payload)
	if err != nil {
		return pkgerrors.Wrapf(err, "storage: save recording %s", rec.RecordingID)
	}
	log.Debug().Str("recording", rec.RecordingID).Msg("recording archived")
	return nil
}

// Load returns the archived payload for one recording.
func (s *RecordingStore) Load(recordingID string) (*ArchivedRecording, error) {
	row := s.db.QueryRow(`SELECT "recording_id", "device_id", "created_at", "payload"
		FROM "`+recordingsTable+`" WHERE "recording_id" = ?`, recordingID)
	var rec ArchivedRecording
	var createdAt string
	if err := row.Scan(&rec.RecordingID, &rec.DeviceID, &createdAt, &rec.Payload); err != nil {
		if pkgerrors.Is(err, sql.ErrNoRows) {
			return nil, pkgerrors.Errorf("storage: recording not found: %s", recordingID)
		}
		return nil, pkgerrors.Wrapf(err, "storage: load recording %s", recordingID)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		rec.CreatedAt = parsed
	}
	return &rec, nil
}

// List returns all archived recordings, newest first.
func (s *RecordingStore) List() ([]ArchivedRecording, error) {
	rows, err := s.db.Query(`SELECT "recording_id", "device_id", "created_at", "payload"
		FROM "` + recordingsTable + `" ORDER BY "created_at" DESC`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: list recordings")
	}
	defer rows.Close()
	var out []ArchivedRecording
	for rows.Next() {
		var rec ArchivedRecording
		var createdAt string
		if err := rows.Scan(&rec.RecordingID, &rec.DeviceID, &createdAt, &rec.Payload); err != nil {
			return nil, pkgerrors.Wrap(err, "storage: scan recording row")
		}
		if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = parsed
		}
		out = append(out, rec)
	}
	return out, pkgerrors.Wrap(rows.Err(), "storage: iterate recordings")
}

// Delete removes one archived recording. Missing rows are not an error.
func (s *RecordingStore) Delete(recordingID string) error {
	_, err := s.db.Exec(`DELETE FROM "`+recordingsTable+`" WHERE "recording_id" = ?`, recordingID)
	return pkgerrors.Wrapf(err, "storage: delete recording %s", recordingID)
}

// Close releases the underlying database handle.
func (s *RecordingStore) Close() error {
	return s.db.Close()
}
