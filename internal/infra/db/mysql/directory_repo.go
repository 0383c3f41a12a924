package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/patients"
)

const identityColumns = `p.id, p.name, p.phone, p.status, p.temperature, p.last_contact_at`

// maxSuffixCandidates bounds a fuzzy lookup; the resolver only needs the most recent one.
const maxSuffixCandidates = 50

// DirectoryRepository reads patients through the canonical patient_phones index.
// Implements patients.Directory, PhoneIndexer and ProfileUpdater.
type DirectoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDirectoryRepository(db *sql.DB, now func() time.Time) *DirectoryRepository {
	if now == nil {
		now = utcNow
	}
	return &DirectoryRepository{db: db, now: now}
}

func scanIdentity(row rowScanner) (*patients.Identity, error) {
	var (
		p           patients.Identity
		lastContact sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Name, &p.PrimaryPhone, &p.Status, &p.Temperature, &lastContact); err != nil {
		return nil, err
	}
	if lastContact.Valid {
		t := lastContact.Time
		p.LastContactAt = &t
	}
	return &p, nil
}

func (r *DirectoryRepository) findOne(ctx context.Context, q string, args ...any) (*patients.Identity, error) {
	p, err := scanIdentity(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *DirectoryRepository) FindByPrimaryPhone(ctx context.Context, digits string) (*patients.Identity, error) {
	q := `SELECT ` + identityColumns + `
FROM patient_phones ph JOIN patients p ON p.id = ph.patient_id
WHERE ph.kind=? AND ph.digits=?
ORDER BY p.id LIMIT 1`
	return r.findOne(ctx, q, patients.PhonePrimary, digits)
}

func (r *DirectoryRepository) FindByAuxiliaryPhone(ctx context.Context, digits string) (*patients.Identity, error) {
	q := `SELECT ` + identityColumns + `
FROM patient_phones ph JOIN patients p ON p.id = ph.patient_id
WHERE ph.kind IN (?,?,?) AND ph.digits=?
ORDER BY p.id LIMIT 1`
	return r.findOne(ctx, q, patients.PhoneMobile, patients.PhoneHome, patients.PhoneWork, digits)
}

// FindByPhoneSuffix matches the reversed-digits prefix so the lookup can use an index.
func (r *DirectoryRepository) FindByPhoneSuffix(ctx context.Context, suffix string) ([]patients.Identity, error) {
	q := `SELECT DISTINCT ` + identityColumns + `
FROM patient_phones ph JOIN patients p ON p.id = ph.patient_id
WHERE ph.digits_rev LIKE ?
ORDER BY p.id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, patients.Reverse(suffix)+"%", maxSuffixCandidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []patients.Identity
	for rows.Next() {
		p, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// IndexPhones replaces the index rows of one patient.
func (r *DirectoryRepository) IndexPhones(ctx context.Context, id patients.PatientID, phones patients.PhoneSet) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM patient_phones WHERE patient_id=?`, id); err != nil {
		return eris.Wrapf(err, "clear phone index of %s", id)
	}
	for _, ph := range phones.Index(id) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO patient_phones (patient_id, kind, digits, digits_rev) VALUES (?,?,?,?)`,
			ph.PatientID, ph.Kind, ph.Digits, patients.Reverse(ph.Digits),
		); err != nil {
			return eris.Wrapf(err, "index %s phone of %s", ph.Kind, id)
		}
	}
	return tx.Commit()
}

// ReindexAll rebuilds the phone index from the patients table.
func (r *DirectoryRepository) ReindexAll(ctx context.Context) (int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, phone, mobile, home_phone, work_phone FROM patients ORDER BY id`)
	if err != nil {
		return 0, err
	}
	type entry struct {
		id     patients.PatientID
		phones patients.PhoneSet
	}
	var all []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.phones.Primary, &e.phones.Mobile, &e.phones.Home, &e.phones.Work); err != nil {
			rows.Close()
			return 0, err
		}
		all = append(all, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for i, e := range all {
		if err := r.IndexPhones(ctx, e.id, e.phones); err != nil {
			return i, err
		}
	}
	return len(all), nil
}

// ApplyAnalysis writes non-empty fields; the name is only filled when blank.
func (r *DirectoryRepository) ApplyAnalysis(ctx context.Context, id patients.PatientID, u patients.ProfileUpdate) error {
	const q = `
UPDATE patients SET
 temperature     = COALESCE(NULLIF(?, ''), temperature),
 interest        = COALESCE(NULLIF(?, ''), interest),
 interest_detail = COALESCE(NULLIF(?, ''), interest_detail),
 status          = COALESCE(NULLIF(?, ''), status),
 name            = IF(name = '', ?, name),
 last_contact_at = ?,
 updated_at      = ?
WHERE id=?`
	now := r.now()
	_, err := r.db.ExecContext(ctx, q,
		u.Temperature, u.Interest, u.InterestDetail, u.Status, u.Name, now, now, id)
	return err
}
