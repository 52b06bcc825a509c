package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"voicebox/internal/config"
)

// ErrUnknownField indicates a field name not eligible for single-field updates.
var ErrUnknownField = errors.New("unknown field")

// Store manages item persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the item database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "items.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the database file.
func (s *Store) Path() string {
	return s.path
}

// InsertIfAbsent persists a new item unless one with the same identifier
// already exists. It reports whether a row was inserted, making repeated
// deliveries of the same message a no-op.
func (s *Store) InsertIfAbsent(ctx context.Context, item *Item) (bool, error) {
	if item == nil {
		return false, errors.New("item is nil")
	}
	if strings.TrimSpace(item.ID) == "" {
		return false, errors.New("item id is empty")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	if item.Status == "" {
		item.Status = StatusReceived
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO items (
            id, sender, subject, phone, received_at, status, failure_reason,
            error_message, audio_path, transcript, model_used, duration,
            first_name, last_name, request_type, medication, dosage,
            specialty, referral_reason, note, birthdate, rating,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		nullableString(item.Sender),
		nullableString(item.Subject),
		nullableString(item.Phone),
		nullableTime(item.ReceivedAt),
		item.Status,
		nullableString(string(item.FailureReason)),
		nullableString(item.ErrorMessage),
		nullableString(item.AudioPath),
		nullableString(item.Transcript),
		nullableString(item.ModelUsed),
		item.Duration,
		nullableString(item.Fields.FirstName),
		nullableString(item.Fields.LastName),
		nullableString(item.Fields.RequestType),
		nullableString(item.Fields.Medication),
		nullableString(item.Fields.Dosage),
		nullableString(item.Fields.Specialty),
		nullableString(item.Fields.ReferralReason),
		nullableString(item.Fields.Note),
		nullableString(item.Fields.Birthdate),
		item.Rating,
		timestamp,
		timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		item.CreatedAt = now
		item.UpdatedAt = now
	}
	return affected > 0, nil
}

// GetByID fetches an item by identifier. It returns nil without error when
// no item matches.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing item.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE items
         SET sender = ?, subject = ?, phone = ?, received_at = ?, status = ?,
             failure_reason = ?, error_message = ?, audio_path = ?, transcript = ?,
             model_used = ?, duration = ?, first_name = ?, last_name = ?,
             request_type = ?, medication = ?, dosage = ?, specialty = ?,
             referral_reason = ?, note = ?, birthdate = ?, rating = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(item.Sender),
		nullableString(item.Subject),
		nullableString(item.Phone),
		nullableTime(item.ReceivedAt),
		item.Status,
		nullableString(string(item.FailureReason)),
		nullableString(item.ErrorMessage),
		nullableString(item.AudioPath),
		nullableString(item.Transcript),
		nullableString(item.ModelUsed),
		item.Duration,
		nullableString(item.Fields.FirstName),
		nullableString(item.Fields.LastName),
		nullableString(item.Fields.RequestType),
		nullableString(item.Fields.Medication),
		nullableString(item.Fields.Dosage),
		nullableString(item.Fields.Specialty),
		nullableString(item.Fields.ReferralReason),
		nullableString(item.Fields.Note),
		nullableString(item.Fields.Birthdate),
		item.Rating,
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// updatableFields maps externally visible field names onto columns eligible
// for single-field edits. Status, timestamps and pipeline output stay under
// the pipeline's control.
var updatableFields = map[string]string{
	"vorname":           "first_name",
	"nachname":          "last_name",
	"anfragetyp":        "request_type",
	"nameMedikament":    "medication",
	"dosis":             "dosage",
	"fachrichtung":      "specialty",
	"grundUeberweisung": "referral_reason",
	"extraInformation":  "note",
	"geburtsdatum":      "birthdate",
	"rating":            "rating",
	"phone":             "phone",
}

// UpdateField sets a single editable field on an item. It reports whether a
// row was updated.
func (s *Store) UpdateField(ctx context.Context, id, field, value string) (bool, error) {
	column, ok := updatableFields[field]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	var typedValue any = nullableString(strings.TrimSpace(value))
	if column == "rating" {
		rating, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return false, fmt.Errorf("parse rating: %w", err)
		}
		typedValue = rating
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE items SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		typedValue,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("update field: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ItemsByStatus returns items matching a status ordered by receipt time.
func (s *Store) ItemsByStatus(ctx context.Context, status Status) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE status = ? ORDER BY received_at, id`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns items filtered by status set (or all items when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM items`
	orderClause := ` ORDER BY received_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ResetStuckProcessing resets items left in processing states back to
// received, typically after an unclean shutdown.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE items
         SET status = ?, failure_reason = NULL, error_message = NULL, updated_at = ?
         WHERE status IN (?, ?)`,
		StatusReceived,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusTranscribing,
		StatusExtracting,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck items: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("item stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates item state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusReceived:
			health.Received += count
		case StatusDone:
			health.Done += count
		case StatusFailed:
			health.Failed += count
		default:
			if _, ok := processingStatuses[status]; ok {
				health.Processing += count
			}
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the item database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("item database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat item database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("item database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("item database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping item database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'items'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM items")
		if err := row.Scan(&health.TotalItems); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count items: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearDone removes only completed items.
func (s *Store) ClearDone(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE status = ?`, StatusDone)
	if err != nil {
		return 0, fmt.Errorf("clear done: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed items.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

const itemColumns = "id, sender, subject, phone, received_at, status, failure_reason, error_message, audio_path, transcript, model_used, duration, first_name, last_name, request_type, medication, dosage, specialty, referral_reason, note, birthdate, rating, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id             string
		sender         sql.NullString
		subject        sql.NullString
		phone          sql.NullString
		receivedRaw    sql.NullString
		statusStr      string
		failureReason  sql.NullString
		errorMessage   sql.NullString
		audioPath      sql.NullString
		transcript     sql.NullString
		modelUsed      sql.NullString
		duration       sql.NullFloat64
		firstName      sql.NullString
		lastName       sql.NullString
		requestType    sql.NullString
		medication     sql.NullString
		dosage         sql.NullString
		specialty      sql.NullString
		referralReason sql.NullString
		note           sql.NullString
		birthdate      sql.NullString
		rating         sql.NullInt64
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sender,
		&subject,
		&phone,
		&receivedRaw,
		&statusStr,
		&failureReason,
		&errorMessage,
		&audioPath,
		&transcript,
		&modelUsed,
		&duration,
		&firstName,
		&lastName,
		&requestType,
		&medication,
		&dosage,
		&specialty,
		&referralReason,
		&note,
		&birthdate,
		&rating,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:            id,
		Sender:        sender.String,
		Subject:       subject.String,
		Phone:         phone.String,
		Status:        Status(statusStr),
		FailureReason: FailureReason(failureReason.String),
		ErrorMessage:  errorMessage.String,
		AudioPath:     audioPath.String,
		Transcript:    transcript.String,
		ModelUsed:     modelUsed.String,
		Duration:      duration.Float64,
		Fields: ExtractedFields{
			FirstName:      firstName.String,
			LastName:       lastName.String,
			RequestType:    requestType.String,
			Medication:     medication.String,
			Dosage:         dosage.String,
			Specialty:      specialty.String,
			ReferralReason: referralReason.String,
			Note:           note.String,
			Birthdate:      birthdate.String,
		},
		Rating: int(rating.Int64),
	}

	if received, err := parseTimeString(receivedRaw.String); err == nil {
		item.ReceivedAt = received
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
