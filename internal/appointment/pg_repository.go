package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by PgRepository.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var appointmentColumns = []string{
	"id", "protocol", "citizen_id", "citizen_name", "citizen_phone", "citizen_email",
	"location_id", "slot_date", "slot_time", "status", "priority",
	"cancellation_category", "cancellation_reason", "version", "created_at", "updated_at",
}

var historyColumns = []string{
	"id", "appointment_id", "from_status", "to_status", "changed_by", "changed_at", "reason", "metadata",
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.Protocol,
		&a.CitizenID,
		&a.CitizenName,
		&a.CitizenPhone,
		&a.CitizenEmail,
		&a.LocationID,
		&a.Date,
		&a.Time,
		&a.Status,
		&a.Priority,
		&a.CancellationCategory,
		&a.CancellationReason,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanHistoryEntry(row pgx.Row) (uuid.UUID, HistoryEntry, error) {
	var (
		e             HistoryEntry
		appointmentID uuid.UUID
		metadata      []byte
	)

	err := row.Scan(
		&e.ID,
		&appointmentID,
		&e.From,
		&e.To,
		&e.ChangedBy,
		&e.ChangedAt,
		&e.Reason,
		&metadata,
	)
	if err != nil {
		return uuid.Nil, HistoryEntry{}, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return uuid.Nil, HistoryEntry{}, fmt.Errorf("decode history metadata: %w", err)
		}
	}
	return appointmentID, e, nil
}

// Interface methods

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (id, protocol, citizen_id, citizen_name, citizen_phone, citizen_email,
			location_id, slot_date, slot_time, status, priority,
			cancellation_category, cancellation_reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, a.ID, a.Protocol, a.CitizenID, a.CitizenName, a.CitizenPhone, a.CitizenEmail,
		a.LocationID, a.Date, a.Time, a.Status, a.Priority,
		a.CancellationCategory, a.CancellationReason, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) LoadAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	query, args, err := psql.Select(appointmentColumns...).
		From("appointments").
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build load query: %w", err)
	}

	a, err := scanAppointment(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	histories, err := r.loadHistories(ctx, []uuid.UUID{a.ID})
	if err != nil {
		return nil, err
	}
	a.History = histories[a.ID]
	return a, nil
}

func (r *PgRepository) AppendHistory(ctx context.Context, a *Appointment, expectedVersion int64) error {
	entry, ok := a.LastEntry()
	if !ok {
		return errors.New("append history: appointment has no history entry")
	}

	metadata, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append history: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    priority = $3,
		    slot_date = $4,
		    slot_time = $5,
		    cancellation_category = $6,
		    cancellation_reason = $7,
		    version = version + 1,
		    updated_at = $8
		WHERE id = $1
		  AND version = $9
	`, a.ID, a.Status, a.Priority, a.Date, a.Time,
		a.CancellationCategory, a.CancellationReason, entry.ChangedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointment_status_history
			(id, appointment_id, seq, from_status, to_status, changed_by, changed_at, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, a.ID, len(a.History)-1, entry.From, entry.To, entry.ChangedBy, entry.ChangedAt, entry.Reason, metadata)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConcurrentModification
		}
		return fmt.Errorf("insert history entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append history: %w", err)
	}

	a.Version = expectedVersion + 1
	return nil
}

func (r *PgRepository) ListSlotAppointments(ctx context.Context, locationID, date string) ([]Appointment, error) {
	return r.list(ctx, sq.Eq{"location_id": locationID, "slot_date": date})
}

func (r *PgRepository) ListCitizenAppointments(ctx context.Context, citizenID string) ([]Appointment, error) {
	return r.list(ctx, sq.Eq{"citizen_id": citizenID})
}

func (r *PgRepository) ListByStatusBefore(ctx context.Context, status Status, date string) ([]Appointment, error) {
	return r.list(ctx, sq.And{sq.Eq{"status": string(status)}, sq.Lt{"slot_date": date}})
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *uuid.UUID
	if ev.AppointmentID != nil {
		appID = ev.AppointmentID
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) list(ctx context.Context, where sq.Sqlizer) ([]Appointment, error) {
	query, args, err := psql.Select(appointmentColumns...).
		From("appointments").
		Where(where).
		OrderBy("slot_date", "slot_time", "created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	var ids []uuid.UUID
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
		ids = append(ids, a.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return result, nil
	}

	histories, err := r.loadHistories(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].History = histories[result[i].ID]
	}
	return result, nil
}

func (r *PgRepository) loadHistories(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]HistoryEntry, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	query, args, err := psql.Select(historyColumns...).
		From("appointment_status_history").
		Where(sq.Eq{"appointment_id": keys}).
		OrderBy("appointment_id", "seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]HistoryEntry, len(ids))
	for rows.Next() {
		appointmentID, e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		out[appointmentID] = append(out[appointmentID], e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeMetadata(md map[string]string) ([]byte, error) {
	if len(md) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode history metadata: %w", err)
	}
	return data, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
