package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"guestlist/internal/model"
)

// admissionLockKey is the pg_advisory_xact_lock key shared by every admission decision.
const admissionLockKey int64 = 0x52535650

const (
	guestColumns = `id, phone, name, COALESCE(email, ''), created_at, last_login`
	rsvpColumns  = `id, guest_id, attending, is_waitlisted, note, dietary_needs, pledge_amount, hotel_choice, created_at, updated_at`
)

type Postgres struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewPostgres(db *dbpg.DB, log *zerolog.Logger) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &Postgres{db: db, log: log}, nil
}

func (r *Postgres) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.Master.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *Postgres) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}

		if _, err := r.db.Master.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

func (r *Postgres) Close() error {
	return r.db.Master.Close()
}

func (r *Postgres) View(ctx context.Context, fn func(Tx) error) error {
	return r.run(ctx, &sql.TxOptions{ReadOnly: true}, false, fn)
}

func (r *Postgres) Tx(ctx context.Context, fn func(Tx) error) error {
	return r.run(ctx, nil, false, fn)
}

func (r *Postgres) AdmissionTx(ctx context.Context, fn func(Tx) error) error {
	return r.run(ctx, nil, true, fn)
}

func (r *Postgres) run(ctx context.Context, opts *sql.TxOptions, lock bool, fn func(Tx) error) error {
	tx, err := r.db.Master.BeginTx(ctx, opts)
	if err != nil {
		return classify(fmt.Errorf("failed to start transaction: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if lock {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, admissionLockKey); err != nil {
			_ = tx.Rollback()
			return classify(fmt.Errorf("failed to take admission lock: %w", err))
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) IsWhitelisted(ctx context.Context, phone string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM phone_whitelist WHERE phone = $1)`, phone,
	).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("failed to check whitelist: %w", err))
	}
	return exists, nil
}

func (t *pgTx) AddWhitelist(ctx context.Context, e *model.WhitelistEntry) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO phone_whitelist (phone, name, notes, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING created_at
	`, e.Phone, e.Name, e.Notes).Scan(&e.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("failed to insert whitelist entry: %w", err))
	}
	return nil
}

func (t *pgTx) RemoveWhitelist(ctx context.Context, phone string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM phone_whitelist WHERE phone = $1`, phone)
	if err != nil {
		return classify(fmt.Errorf("failed to delete whitelist entry: %w", err))
	}
	return expectAffected(res)
}

func (t *pgTx) ListWhitelist(ctx context.Context) ([]model.WhitelistEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT phone, name, notes, created_at
		FROM phone_whitelist
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list whitelist: %w", err))
	}
	defer rows.Close()

	var entries []model.WhitelistEntry
	for rows.Next() {
		var e model.WhitelistEntry
		if err := rows.Scan(&e.Phone, &e.Name, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *pgTx) UpsertGuest(ctx context.Context, g *model.Guest) (*model.Guest, error) {
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO guests (phone, name, email, created_at, last_login)
		VALUES ($1, $2, NULLIF($3, ''), NOW(), NOW())
		ON CONFLICT (phone) DO UPDATE
		SET name = COALESCE(NULLIF(EXCLUDED.name, ''), guests.name),
		    email = COALESCE(EXCLUDED.email, guests.email),
		    last_login = NOW()
		RETURNING `+guestColumns,
		g.Phone, g.Name, g.Email,
	)
	out, err := scanGuest(row)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to upsert guest: %w", err))
	}
	return out, nil
}

func (t *pgTx) GetGuestByPhone(ctx context.Context, phone string) (*model.Guest, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+guestColumns+` FROM guests WHERE phone = $1`, phone)
	g, err := scanGuest(row)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get guest by phone: %w", err))
	}
	return g, nil
}

func (t *pgTx) GetGuestByID(ctx context.Context, id int64) (*model.Guest, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+guestColumns+` FROM guests WHERE id = $1`, id)
	g, err := scanGuest(row)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get guest: %w", err))
	}
	return g, nil
}

func (t *pgTx) DeleteGuest(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM guests WHERE id = $1`, id)
	if err != nil {
		return classify(fmt.Errorf("failed to delete guest: %w", err))
	}
	return expectAffected(res)
}

func (t *pgTx) GetRSVPByGuestID(ctx context.Context, guestID int64) (*model.RSVP, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+rsvpColumns+` FROM rsvps WHERE guest_id = $1`, guestID)
	r, err := scanRSVP(row)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get rsvp: %w", err))
	}
	return r, nil
}

func (t *pgTx) UpsertRSVP(ctx context.Context, r *model.RSVP) (*model.RSVP, error) {
	r.Normalize()
	row := t.tx.QueryRowContext(ctx, `
		INSERT INTO rsvps (guest_id, attending, is_waitlisted, note, dietary_needs, pledge_amount, hotel_choice, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (guest_id) DO UPDATE
		SET attending = EXCLUDED.attending,
		    is_waitlisted = EXCLUDED.is_waitlisted,
		    note = EXCLUDED.note,
		    dietary_needs = EXCLUDED.dietary_needs,
		    pledge_amount = EXCLUDED.pledge_amount,
		    hotel_choice = EXCLUDED.hotel_choice,
		    updated_at = NOW()
		RETURNING `+rsvpColumns,
		r.GuestID, r.Attending, r.IsWaitlisted, r.Note, r.DietaryNeeds, r.PledgeAmount, r.HotelChoice,
	)
	out, err := scanRSVP(row)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to upsert rsvp: %w", err))
	}
	return out, nil
}

func (t *pgTx) SetWaitlisted(ctx context.Context, rsvpID int64, waitlisted bool) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE rsvps
		SET is_waitlisted = $1, updated_at = NOW()
		WHERE id = $2 AND attending
	`, waitlisted, rsvpID)
	if err != nil {
		return classify(fmt.Errorf("failed to update waitlist flag: %w", err))
	}
	return expectAffected(res)
}

func (t *pgTx) CountConfirmed(ctx context.Context) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM rsvps
		WHERE attending AND NOT is_waitlisted
	`).Scan(&count)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to count confirmed: %w", err))
	}
	return count, nil
}

func (t *pgTx) CountByStatus(ctx context.Context) (model.Counts, error) {
	var c model.Counts
	err := t.tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE attending AND NOT is_waitlisted),
			COUNT(*) FILTER (WHERE attending AND is_waitlisted),
			COUNT(*) FILTER (WHERE NOT attending)
		FROM rsvps
	`).Scan(&c.Confirmed, &c.Waitlisted, &c.Declined)
	if err != nil {
		return c, classify(fmt.Errorf("failed to count rsvps: %w", err))
	}
	return c, nil
}

func (t *pgTx) OldestWaitlisted(ctx context.Context) (*model.RSVP, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+rsvpColumns+`
		FROM rsvps
		WHERE attending AND is_waitlisted
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE
	`)
	r, err := scanRSVP(row)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to select waitlisted rsvp: %w", err))
	}
	return r, nil
}

func (t *pgTx) ListRSVPs(ctx context.Context) ([]model.GuestRSVP, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT g.id, g.phone, g.name, COALESCE(g.email, ''), g.created_at, g.last_login,
		       r.id, r.guest_id, r.attending, r.is_waitlisted, r.note, r.dietary_needs,
		       r.pledge_amount, r.hotel_choice, r.created_at, r.updated_at
		FROM rsvps r
		JOIN guests g ON g.id = r.guest_id
		ORDER BY r.created_at ASC, r.id ASC
	`)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list rsvps: %w", err))
	}
	defer rows.Close()

	var out []model.GuestRSVP
	for rows.Next() {
		var gr model.GuestRSVP
		g, r := &gr.Guest, &gr.RSVP
		if err := rows.Scan(
			&g.ID, &g.Phone, &g.Name, &g.Email, &g.CreatedAt, &g.LastLogin,
			&r.ID, &r.GuestID, &r.Attending, &r.IsWaitlisted, &r.Note, &r.DietaryNeeds,
			&r.PledgeAmount, &r.HotelChoice, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rsvp: %w", err)
		}
		out = append(out, gr)
	}
	return out, rows.Err()
}

func scanGuest(row *sql.Row) (*model.Guest, error) {
	var g model.Guest
	if err := row.Scan(&g.ID, &g.Phone, &g.Name, &g.Email, &g.CreatedAt, &g.LastLogin); err != nil {
		return nil, err
	}
	return &g, nil
}

func scanRSVP(row *sql.Row) (*model.RSVP, error) {
	var r model.RSVP
	if err := row.Scan(
		&r.ID, &r.GuestID, &r.Attending, &r.IsWaitlisted, &r.Note, &r.DietaryNeeds,
		&r.PledgeAmount, &r.HotelChoice, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// classify maps driver errors onto the package sentinels, keeping the original in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		case pqErr.Code == "23503":
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case pqErr.Code == "40001", pqErr.Code == "40P01":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
