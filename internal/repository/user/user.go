package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

var ErrEmptyRoster = errors.New("roster is empty")

const schema = `CREATE TABLE IF NOT EXISTS users (
	id            SERIAL PRIMARY KEY,
	login         VARCHAR(64) NOT NULL UNIQUE,
	password_hash VARCHAR(255) NOT NULL DEFAULT ''
)`

// User is one roster entry. Password is stored for completeness only; the
// exchange accepts any credentials.
type User struct {
	Id       int    `json:"id"`
	Login    string `json:"login"`
	Password string `json:"-"`
}

type UserRepo struct {
	Db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{
		Db: db,
	}
}

// StaticRoster builds a roster from a list of logins sharing one password.
// Blank and duplicate logins are skipped.
func StaticRoster(logins []string, password string) []User {
	users := make([]User, 0, len(logins))
	seen := make(map[string]bool, len(logins))
	for _, login := range logins {
		login = strings.TrimSpace(login)
		if login == "" || seen[login] {
			continue
		}
		seen[login] = true
		users = append(users, User{Id: len(users) + 1, Login: login, Password: password})
	}
	return users
}

func (u *UserRepo) List(ctx context.Context) ([]User, error) {
	rows, err := u.Db.QueryContext(ctx, "SELECT id, login, password_hash FROM users ORDER BY login")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var usr User
		if err := rows.Scan(&usr.Id, &usr.Login, &usr.Password); err != nil {
			return nil, err
		}
		users = append(users, usr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrEmptyRoster
	}
	return users, nil
}

func (u *UserRepo) EnsureSchema(ctx context.Context) error {
	_, err := u.Db.ExecContext(ctx, schema)
	return err
}

// Seed inserts users that are not present yet.
func (u *UserRepo) Seed(ctx context.Context, users []User) error {
	tx, err := u.Db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, usr := range users {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users(login, password_hash) VALUES($1, $2) ON CONFLICT (login) DO NOTHING`,
			usr.Login, usr.Password,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
