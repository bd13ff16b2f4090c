package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"changewatch/internal/subscription"
)

const userCols = `id, email, name, telegram_chat_id, telegram_username, telegram_verified,
	link_token, link_token_expires, active, created_at`

func scanUser(r rowScanner) (*subscription.User, error) {
	var (
		u       subscription.User
		token   sql.NullString
		expires sql.NullString
		created string
	)
	if err := r.Scan(&u.ID, &u.Email, &u.Name, &u.TelegramChatID, &u.TelegramUsername, &u.TelegramVerified,
		&token, &expires, &u.Active, &created); err != nil {
		return nil, err
	}
	u.LinkToken = token.String
	var err error
	if u.LinkTokenExpires, err = parseTimePtr(expires); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *sqlStore) CreateUser(ctx context.Context, u *subscription.User) error {
	u.Email = strings.TrimSpace(u.Email)
	if u.Email == "" {
		return errors.New("email is required")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = ?`, u.Email).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%s: %w", u.Email, ErrDuplicateEmail)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = s.now().UTC()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users(email, name, telegram_chat_id, telegram_username, telegram_verified,
				link_token, link_token_expires, active, created_at)
			 VALUES(?,?,?,?,?,?,?,?,?)`,
			u.Email, u.Name, u.TelegramChatID, u.TelegramUsername, boolInt(u.TelegramVerified),
			nullStr(u.LinkToken), fmtTimePtr(u.LinkTokenExpires), boolInt(u.Active), fmtTime(u.CreatedAt),
		)
		if err != nil {
			return err
		}
		u.ID, err = res.LastInsertId()
		return err
	})
}

func (s *sqlStore) GetUser(ctx context.Context, id int64) (*subscription.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return u, nil
}

func (s *sqlStore) ListUsers(ctx context.Context) ([]subscription.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userCols+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []subscription.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *sqlStore) SetLinkToken(ctx context.Context, userID int64, token string, expires time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET link_token = ?, link_token_expires = ? WHERE id = ?`,
		token, fmtTime(expires), userID,
	)
	if err != nil {
		return err
	}
	return ensureAffected(ctx, s.db, res, "users", userID)
}

func (s *sqlStore) ConsumeLinkToken(ctx context.Context, token string, chatID int64, username string, now time.Time) (*subscription.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("link token: %w", ErrNotFound)
	}
	var linked *subscription.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE link_token = ?`, token))
		if err != nil {
			return notFound(err, "link token", "")
		}
		if u.LinkTokenExpires != nil && now.After(*u.LinkTokenExpires) {
			return ErrTokenExpired
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET telegram_chat_id = ?, telegram_username = ?, telegram_verified = 1,
				link_token = NULL, link_token_expires = NULL WHERE id = ?`,
			chatID, username, u.ID,
		); err != nil {
			return err
		}
		u.TelegramChatID = chatID
		u.TelegramUsername = username
		u.TelegramVerified = true
		u.LinkToken = ""
		u.LinkTokenExpires = nil
		linked = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return linked, nil
}

func (s *sqlStore) UserByChatID(ctx context.Context, chatID int64) (*subscription.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE telegram_chat_id = ? AND telegram_verified = 1 ORDER BY id LIMIT 1`, chatID))
	if err != nil {
		return nil, notFound(err, "user for chat", chatID)
	}
	return u, nil
}
