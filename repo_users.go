package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

const pgUniqueViolation = "23505"

// Users is the user record store
type Users interface {
	repository.Repository[*User]

	FindByID(ctx context.Context, id string) (*User, error)
	FindByIDTx(ctx context.Context, tx bun.IDB, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	FindByVerificationToken(ctx context.Context, token string) (*User, error)
	FindByVerificationTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error)

	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)
	UpdateColumns(ctx context.Context, record *User, columns []string, criteria ...repository.UpdateCriteria) (*User, error)
	UpdateColumnsTx(ctx context.Context, tx bun.IDB, record *User, columns []string, criteria ...repository.UpdateCriteria) (*User, error)

	SessionToken(ctx context.Context, userID string) (string, error)
}

type users struct {
	repository.Repository[*User]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

// UsersOption configures the users repository
type UsersOption func(*users)

// WithUsersClock overrides the clock used for updated_at
func WithUsersClock(now func() time.Time) UsersOption {
	return func(u *users) {
		if now != nil {
			u.now = now
		}
	}
}

// NewUsersRepository returns a bun backed Users store
func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := &users{
		Repository: repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
			NewRecord: func() *User { return &User{} },
			GetID: func(u *User) uuid.UUID {
				if u == nil {
					return uuid.Nil
				}
				return u.ID
			},
			SetID: func(u *User, id uuid.UUID) {
				if u != nil {
					u.ID = id
				}
			},
		}),
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

func (a *users) FindByID(ctx context.Context, id string) (*User, error) {
	return a.FindByIDTx(ctx, a.db, id)
}

func (a *users) FindByIDTx(ctx context.Context, tx bun.IDB, id string) (*User, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, annotate(ErrUserNotFound, map[string]any{"id": id})
	}
	return a.findOne(ctx, tx, "id", uid, map[string]any{"id": id})
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, annotate(ErrUserNotFound, nil)
	}
	return a.findOne(ctx, tx, "email", email, map[string]any{"email": email})
}

func (a *users) FindByVerificationToken(ctx context.Context, token string) (*User, error) {
	return a.FindByVerificationTokenTx(ctx, a.db, token)
}

func (a *users) FindByVerificationTokenTx(ctx context.Context, tx bun.IDB, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, annotate(ErrUserNotFound, nil)
	}
	return a.findOne(ctx, tx, "verification_token", token, nil)
}

func (a *users) findOne(ctx context.Context, tx bun.IDB, column string, value any, meta map[string]any) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, annotate(ErrUserNotFound, meta)
		}
		return nil, internalError(err, "failed to load user")
	}

	return record, nil
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

// CreateTx inserts a new user. Emails are unique case-insensitively, a
// duplicate yields ErrEmailInUse whether caught by the pre-check or by the
// unique constraint.
func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	if record == nil {
		return nil, ErrUnableToParseData
	}

	record.Email = NormalizeEmail(record.Email)
	prepareUserDefaults(record)

	exists, err := tx.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.email = ?", record.Email).
		Exists(ctx)
	if err != nil {
		return nil, internalError(err, "failed to check email")
	}
	if exists {
		return nil, annotate(ErrEmailInUse, map[string]any{"email": record.Email})
	}

	now := a.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	created, err := a.Repository.CreateTx(ctx, tx, record, criteria...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, annotate(ErrEmailInUse, map[string]any{"email": record.Email})
		}
		return nil, internalError(err, "failed to create user")
	}

	return created, nil
}

func (a *users) UpdateColumns(ctx context.Context, record *User, columns []string, criteria ...repository.UpdateCriteria) (*User, error) {
	return a.UpdateColumnsTx(ctx, a.db, record, columns, criteria...)
}

// UpdateColumnsTx writes the given columns of record and returns the stored
// row. updated_at is always refreshed. Criteria act as guards: no matching
// row yields ErrUserNotFound.
func (a *users) UpdateColumnsTx(ctx context.Context, tx bun.IDB, record *User, columns []string, criteria ...repository.UpdateCriteria) (*User, error) {
	if record == nil || record.ID == uuid.Nil {
		return nil, annotate(ErrUserNotFound, nil)
	}

	record.UpdatedAt = a.now()
	cols := append(append([]string{}, columns...), "updated_at")

	q := tx.NewUpdate().
		Model(record).
		Column(cols...).
		Where("?TableAlias.id = ?", record.ID)

	for _, c := range criteria {
		if c != nil {
			q = c(q)
		}
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, internalError(err, "failed to update user")
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, annotate(ErrUserNotFound, map[string]any{"id": record.ID.String()})
	}

	return a.findOne(ctx, tx, "id", record.ID, map[string]any{"id": record.ID.String()})
}

// WhereUnverified guards an update to users that have not verified yet
func WhereUnverified() repository.UpdateCriteria {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("?TableAlias.is_verified = ?", false)
	}
}

// WhereVerificationToken guards an update to the user still holding token
func WhereVerificationToken(token string) repository.UpdateCriteria {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("?TableAlias.verification_token = ?", token)
	}
}

// WhereSessionToken guards an update to the user still holding token
func WhereSessionToken(token string) repository.UpdateCriteria {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("?TableAlias.session_token = ?", token)
	}
}

// SessionToken returns the live session token of a user, empty when logged out
func (a *users) SessionToken(ctx context.Context, userID string) (string, error) {
	user, err := a.FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.SessionToken, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
