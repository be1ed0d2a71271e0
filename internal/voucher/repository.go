package voucher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

const docNoConstraint = "vouchers_doc_no_key"

const voucherColumns = `id, doc_no, doc_date, post_date, description, type, currency, fx_rate, COALESCE(fund_ref, ''),
total_amount, status, created_at, created_by, updated_at, posted_at, posted_by, voided_at, voided_by`

// Pool is what the repository needs from *pgxpool.Pool.
type Pool interface {
	db.Beginner
	db.DBTX
}

// PgRepository implements Repository on Postgres.
type PgRepository struct {
	pool     Pool
	attempts int
}

// NewRepository constructs the Postgres repository. attempts bounds the
// serialization-failure retries of each transaction.
func NewRepository(pool Pool, attempts int) *PgRepository {
	return &PgRepository{pool: pool, attempts: attempts}
}

// WithTx runs fn inside a retried RepeatableRead transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.attempts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// Get loads a voucher with its lines.
func (r *PgRepository) Get(ctx context.Context, id int64) (Voucher, error) {
	return getVoucher(ctx, r.pool, id, false)
}

// List loads voucher headers matching filter, newest document date first.
func (r *PgRepository) List(ctx context.Context, filter ListFilter) ([]Voucher, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.FromDate != nil {
		add("doc_date >= $%d", *filter.FromDate)
	}
	if filter.ToDate != nil {
		add("doc_date <= $%d", *filter.ToDate)
	}
	sql := `SELECT ` + voucherColumns + `, COUNT(*) OVER() FROM vouchers`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	sql += fmt.Sprintf(" ORDER BY doc_date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		items []Voucher
		total int
	)
	for rows.Next() {
		var v Voucher
		dest := append(voucherDest(&v), &total)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

// LedgerEntries returns the ledger rows of a voucher in line order.
func (r *PgRepository) LedgerEntries(ctx context.Context, voucherID int64) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, voucher_id, line_no, trx_date, posted_at, doc_no, description, account_code,
COALESCE(reciprocal_acc, ''), debit_amount, credit_amount, COALESCE(partner_code, ''),
COALESCE(department, ''), COALESCE(cost_center, ''), COALESCE(project, '')
FROM general_ledger WHERE voucher_id = $1 ORDER BY line_no, id`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.VoucherID, &e.LineNo, &e.TrxDate, &e.PostedAt, &e.DocNo, &e.Description, &e.AccountCode,
			&e.ReciprocalAcc, &e.Debit, &e.Credit, &e.PartnerCode,
			&e.Dimensions.Department, &e.Dimensions.CostCenter, &e.Dimensions.Project); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// IntegrityViolations lists posted vouchers whose on-balance ledger rows do
// not net to zero and unposted vouchers that still own ledger rows.
func (r *PgRepository) IntegrityViolations(ctx context.Context) ([]IntegrityRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT v.id, v.doc_no, v.status,
COALESCE(SUM(g.debit_amount) FILTER (WHERE g.account_code NOT LIKE '0%'), 0),
COALESCE(SUM(g.credit_amount) FILTER (WHERE g.account_code NOT LIKE '0%'), 0),
COUNT(g.id)
FROM vouchers v
LEFT JOIN general_ledger g ON g.voucher_id = v.id
GROUP BY v.id, v.doc_no, v.status
HAVING (v.status = 'POSTED' AND COALESCE(SUM(g.debit_amount) FILTER (WHERE g.account_code NOT LIKE '0%'), 0)
        <> COALESCE(SUM(g.credit_amount) FILTER (WHERE g.account_code NOT LIKE '0%'), 0))
    OR (v.status <> 'POSTED' AND COUNT(g.id) > 0)
ORDER BY v.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IntegrityRow
	for rows.Next() {
		var row IntegrityRow
		var status string
		if err := rows.Scan(&row.VoucherID, &row.DocNo, &status, &row.TotalDebit, &row.TotalCredit, &row.Rows); err != nil {
			return nil, err
		}
		row.Status = Status(status)
		out = append(out, row)
	}
	return out, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) DB() db.DBTX {
	return t.tx
}

func (t *txRepository) NextDocSequence(ctx context.Context, typ Type, fiscalYear int) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `INSERT INTO doc_sequences (type, fiscal_year, last_seq) VALUES ($1, $2, 1)
ON CONFLICT (type, fiscal_year) DO UPDATE SET last_seq = doc_sequences.last_seq + 1
RETURNING last_seq`, string(typ), fiscalYear).Scan(&seq)
	return seq, err
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Voucher, error) {
	return getVoucher(ctx, t.tx, id, true)
}

func (t *txRepository) InsertVoucher(ctx context.Context, v Voucher) (Voucher, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO vouchers (doc_no, doc_date, post_date, description, type, currency, fx_rate, fund_ref,
total_amount, status, created_at, created_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13)
RETURNING id`,
		v.DocNo, v.DocDate, v.PostDate, v.Description, string(v.Type), v.Currency, v.FXRate, v.FundRef,
		v.TotalAmount, string(v.Status), v.CreatedAt, v.CreatedBy, v.UpdatedAt).Scan(&v.ID)
	if err != nil {
		if db.IsUniqueViolation(err, docNoConstraint) {
			return Voucher{}, fmt.Errorf("%w: %s", ErrDocNoConflict, v.DocNo)
		}
		return Voucher{}, err
	}
	return v, nil
}

func (t *txRepository) UpdateDraft(ctx context.Context, v Voucher) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE vouchers SET doc_no = $2, doc_date = $3, post_date = $4, description = $5, type = $6,
currency = $7, fx_rate = $8, fund_ref = NULLIF($9, ''), total_amount = $10, updated_at = $11
WHERE id = $1 AND status = 'DRAFT'`,
		v.ID, v.DocNo, v.DocDate, v.PostDate, v.Description, string(v.Type), v.Currency, v.FXRate, v.FundRef, v.TotalAmount, v.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, docNoConstraint) {
			return false, fmt.Errorf("%w: %s", ErrDocNoConflict, v.DocNo)
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) ReplaceLines(ctx context.Context, voucherID int64, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM voucher_items WHERE voucher_id = $1`, voucherID); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO voucher_items (voucher_id, line_no, description, debit_acc, credit_acc, amount, partner_code,
department, cost_center, project)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''))`,
			voucherID, line.LineNo, line.Description, line.DebitAcc, line.CreditAcc, line.Amount, line.PartnerCode,
			line.Dimensions.Department, line.Dimensions.CostCenter, line.Dimensions.Project)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepository) DeleteDraft(ctx context.Context, id int64) (bool, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM voucher_items WHERE voucher_id = $1`, id); err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM vouchers WHERE id = $1 AND status = 'DRAFT'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) TransitionStatus(ctx context.Context, id int64, from, to Status, actor string, at time.Time) (bool, error) {
	var sql string
	switch to {
	case StatusPosted:
		sql = `UPDATE vouchers SET status = $3, posted_at = $4, posted_by = $5, updated_at = $4 WHERE id = $1 AND status = $2`
	case StatusVoided:
		sql = `UPDATE vouchers SET status = $3, voided_at = $4, voided_by = $5, updated_at = $4 WHERE id = $1 AND status = $2`
	default:
		return false, fmt.Errorf("voucher: unsupported transition to %s", to)
	}
	tag, err := t.tx.Exec(ctx, sql, id, string(from), string(to), at, actor)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO general_ledger (voucher_id, line_no, trx_date, posted_at, doc_no, description, account_code,
reciprocal_acc, debit_amount, credit_amount, partner_code, department, cost_center, project)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''))`,
			e.VoucherID, e.LineNo, e.TrxDate, e.PostedAt, e.DocNo, e.Description, e.AccountCode,
			e.ReciprocalAcc, e.Debit, e.Credit, e.PartnerCode,
			e.Dimensions.Department, e.Dimensions.CostCenter, e.Dimensions.Project)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepository) DeleteLedgerEntries(ctx context.Context, voucherID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM general_ledger WHERE voucher_id = $1`, voucherID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func getVoucher(ctx context.Context, q db.DBTX, id int64, forUpdate bool) (Voucher, error) {
	sql := `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var v Voucher
	if err := q.QueryRow(ctx, sql, id).Scan(voucherDest(&v)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrNotFound
		}
		return Voucher{}, err
	}
	lines, err := loadLines(ctx, q, id)
	if err != nil {
		return Voucher{}, err
	}
	v.Lines = lines
	return v, nil
}

func loadLines(ctx context.Context, q db.DBTX, voucherID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, voucher_id, line_no, description, COALESCE(debit_acc, ''), COALESCE(credit_acc, ''), amount,
COALESCE(partner_code, ''), COALESCE(department, ''), COALESCE(cost_center, ''), COALESCE(project, '')
FROM voucher_items WHERE voucher_id = $1 ORDER BY line_no`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.VoucherID, &l.LineNo, &l.Description, &l.DebitAcc, &l.CreditAcc, &l.Amount,
			&l.PartnerCode, &l.Dimensions.Department, &l.Dimensions.CostCenter, &l.Dimensions.Project); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func voucherDest(v *Voucher) []any {
	return []any{
		&v.ID, &v.DocNo, &v.DocDate, &v.PostDate, &v.Description, (*string)(&v.Type), &v.Currency, &v.FXRate, &v.FundRef,
		&v.TotalAmount, (*string)(&v.Status), &v.CreatedAt, &v.CreatedBy, &v.UpdatedAt, &v.PostedAt, &v.PostedBy, &v.VoidedAt, &v.VoidedBy,
	}
}
