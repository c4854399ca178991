package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/domain/subrecord"
	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/db"
)

const patientTable = "patient"

type repoPG struct {
	pool    *pgxpool.Pool
	schema  string
	dialect goqu.DialectWrapper
}

// NewRepo creates a repository that runs on the tenant connection carried
// by the request context.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool, dialect: goqu.Dialect("postgres")}
}

// NewRepoForTenant creates a repository bound to one tenant schema. It uses
// schema-qualified table names on the pool instead of a single tenant
// connection, so it is safe for concurrent use by background jobs.
func NewRepoForTenant(pool *pgxpool.Pool, tenantID string) (Repository, error) {
	if !db.ValidTenantID(tenantID) {
		return nil, fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	return &repoPG{pool: pool, schema: db.TenantSchema(tenantID), dialect: goqu.Dialect("postgres")}, nil
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if r.schema == "" {
		if c := db.ConnFromContext(ctx); c != nil {
			return c
		}
	}
	return r.pool
}

func (r *repoPG) table() string {
	if r.schema == "" {
		return patientTable
	}
	return r.schema + "." + patientTable
}

func (r *repoPG) tableExpr() exp.IdentifierExpression {
	if r.schema == "" {
		return goqu.T(patientTable)
	}
	return goqu.S(r.schema).Table(patientTable)
}

var patientColumns = []string{
	"id", "name", "guardian_name", "address", "age", "sex", "occupation",
	"mobile_number", "chief_complaints", "branch_id", "created_by",
	"medical_history", "physical_generals", "menstrual_history", "food_and_habit",
	"created_at", "updated_at",
}

var patientCols = strings.Join(patientColumns, ", ")

func selectColumns(cols []string) []interface{} {
	out := make([]interface{}, len(cols))
	for i, c := range cols {
		out[i] = goqu.C(c)
	}
	return out
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO `+r.table()+` (
			name, guardian_name, address, age, sex, occupation,
			mobile_number, chief_complaints, branch_id, created_by,
			medical_history, physical_generals, menstrual_history, food_and_habit
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, created_at, updated_at`,
		p.Name, p.GuardianName, p.Address, p.Age, string(p.Sex), p.Occupation,
		p.MobileNumber, p.ChiefComplaints, p.BranchID, p.CreatedBy,
		p.MedicalHistory, p.PhysicalGenerals, p.MenstrualHistory, p.FoodAndHabit,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	return r.get(ctx, `SELECT `+patientCols+` FROM `+r.table()+` WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id int64) (*Patient, error) {
	return r.get(ctx, `SELECT `+patientCols+` FROM `+r.table()+` WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) get(ctx context.Context, query string, id int64) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patient get %d: %w", id, err)
	}
	return p, nil
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE `+r.table()+` SET
			name=$2, guardian_name=$3, address=$4, age=$5, sex=$6, occupation=$7,
			mobile_number=$8, chief_complaints=$9, branch_id=$10,
			medical_history=$11, physical_generals=$12, menstrual_history=$13, food_and_habit=$14,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.GuardianName, p.Address, p.Age, string(p.Sex), p.Occupation,
		p.MobileNumber, p.ChiefComplaints, p.BranchID,
		p.MedicalHistory, p.PhysicalGenerals, p.MenstrualHistory, p.FoodAndHabit,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("patient update %d: %w", p.ID, err)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+r.table()+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patient delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	ds := r.dialect.From(r.tableExpr()).Prepared(true)
	if f.Name != "" {
		ds = ds.Where(goqu.C("name").ILike("%" + escapeLike(f.Name) + "%"))
	}
	if f.Sex != "" {
		ds = ds.Where(goqu.C("sex").Eq(string(f.Sex)))
	}
	if f.BranchID != nil {
		ds = ds.Where(goqu.C("branch_id").Eq(*f.BranchID))
	}

	countSQL, countArgs, err := ds.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build patient count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("patient count: %w", err)
	}

	listSQL, args, err := ds.Select(selectColumns(patientColumns)...).
		Order(goqu.C("name").Asc(), goqu.C("id").Asc()).
		Limit(uint(limit)).
		Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build patient list: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("patient list: %w", err)
	}
	return patients, total, nil
}

var encodedColumns = []string{
	"id", "name", "sex",
	"medical_history", "physical_generals", "menstrual_history", "food_and_habit",
}

// ListEncodedFields returns up to limit patients with id > afterID in id
// order, carrying only what the integrity auditor reads.
func (r *repoPG) ListEncodedFields(ctx context.Context, afterID int64, limit int) ([]EncodedRow, error) {
	query, args, err := r.dialect.From(r.tableExpr()).Prepared(true).
		Select(selectColumns(encodedColumns)...).
		Where(goqu.C("id").Gt(afterID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build encoded field listing: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list encoded fields: %w", err)
	}
	defer rows.Close()

	var out []EncodedRow
	for rows.Next() {
		var (
			row        EncodedRow
			sex        string
			mh, pg, ms *string
			fh         *string
		)
		if err := rows.Scan(&row.ID, &row.Name, &sex, &mh, &pg, &ms, &fh); err != nil {
			return nil, fmt.Errorf("scan encoded fields: %w", err)
		}
		row.Sex = subrecord.Sex(sex)
		row.Fields = map[subrecord.Kind]*string{
			subrecord.MedicalHistory:   mh,
			subrecord.PhysicalGenerals: pg,
			subrecord.MenstrualHistory: ms,
			subrecord.FoodAndHabit:     fh,
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list encoded fields: %w", err)
	}
	return out, nil
}

// UpdateEncodedField overwrites a single sub-record column in one statement.
func (r *repoPG) UpdateEncodedField(ctx context.Context, id int64, kind subrecord.Kind, value *string) error {
	if !kind.Valid() {
		return fmt.Errorf("update encoded field: invalid kind %d", int(kind))
	}
	var v interface{}
	if value != nil {
		v = *value
	}
	query, args, err := r.dialect.Update(r.tableExpr()).Prepared(true).
		Set(goqu.Record{kind.Column(): v, "updated_at": goqu.L("NOW()")}).
		Where(goqu.C("id").Eq(id)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build encoded field update: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s of patient %d: %w", kind.Column(), id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p   Patient
		sex string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.GuardianName, &p.Address, &p.Age, &sex, &p.Occupation,
		&p.MobileNumber, &p.ChiefComplaints, &p.BranchID, &p.CreatedBy,
		&p.MedicalHistory, &p.PhysicalGenerals, &p.MenstrualHistory, &p.FoodAndHabit,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Sex = subrecord.Sex(sex)
	return &p, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
