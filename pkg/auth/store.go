package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/48ix/stats/pkg/statserr"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// User is an API user and the routes it may call.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Routes    []string  `json:"routes"`
	CreatedAt time.Time `json:"created_at"`
}

type StoreConfig struct {
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	HashParams HashParams
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.HashParams == (HashParams{}) {
		cfg.HashParams = DefaultHashParams
	}
	return nil
}

// Store manages API users, routes and their associations in PostgreSQL.
type Store struct {
	log    *slog.Logger
	pool   *pgxpool.Pool
	params HashParams
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, pool: cfg.Pool, params: cfg.HashParams}, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func (s *Store) CreateUser(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return statserr.InvalidInput("username and password are required")
	}
	hashed, err := HashPassword(password, s.params)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO api_users (username, password) VALUES ($1, $2)`,
		username, hashed,
	)
	if isPgError(err, pgUniqueViolation) {
		return statserr.Conflict("user '%s' already exists", username)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	s.log.Info("auth: added user", "username", username)
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	cmdTag, err := s.pool.Exec(ctx, `DELETE FROM api_users WHERE username = $1`, username)
	if isPgError(err, pgForeignKeyViolation) {
		return statserr.Conflict("user '%s' has job history and cannot be deleted", username)
	}
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return statserr.NotFound("user '%s' does not exist", username)
	}
	s.log.Info("auth: deleted user", "username", username)
	return nil
}

// SetPassword replaces a user's password.
func (s *Store) SetPassword(ctx context.Context, username, password string) error {
	if password == "" {
		return statserr.InvalidInput("password is required")
	}
	hashed, err := HashPassword(password, s.params)
	if err != nil {
		return err
	}
	cmdTag, err := s.pool.Exec(ctx, `UPDATE api_users SET password = $2 WHERE username = $1`, username, hashed)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return statserr.NotFound("user '%s' does not exist", username)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.username, u.created_at,
		        COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.name IS NOT NULL), '{}')
		 FROM api_users u
		 LEFT JOIN api_user_routes ur ON ur.user_id = u.id
		 LEFT JOIN api_routes r ON r.id = ur.route_id
		 WHERE u.username = $1
		 GROUP BY u.id`,
		username,
	).Scan(&u.ID, &u.Username, &u.CreatedAt, &u.Routes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, statserr.NotFound("user '%s' does not exist", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.username, u.created_at,
		        COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.name IS NOT NULL), '{}')
		 FROM api_users u
		 LEFT JOIN api_user_routes ur ON ur.user_id = u.id
		 LEFT JOIN api_routes r ON r.id = ur.route_id
		 GROUP BY u.id
		 ORDER BY u.username`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt, &u.Routes); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) CreateRoute(ctx context.Context, name string) error {
	if name == "" {
		return statserr.InvalidInput("route name is required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO api_routes (name) VALUES ($1)`, name)
	if isPgError(err, pgUniqueViolation) {
		return statserr.Conflict("route '%s' already exists", name)
	}
	if err != nil {
		return fmt.Errorf("failed to create route: %w", err)
	}
	s.log.Info("auth: added route", "route", name)
	return nil
}

func (s *Store) DeleteRoute(ctx context.Context, name string) error {
	cmdTag, err := s.pool.Exec(ctx, `DELETE FROM api_routes WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete route: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return statserr.NotFound("route '%s' does not exist", name)
	}
	s.log.Info("auth: deleted route", "route", name)
	return nil
}

func (s *Store) ListRoutes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM api_routes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}
	routes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan routes: %w", err)
	}
	return routes, nil
}

// AssociateRoute grants username access to each route. Existing grants are kept.
func (s *Store) AssociateRoute(ctx context.Context, username string, routes ...string) error {
	return s.changeRoutes(ctx, username, routes,
		`INSERT INTO api_user_routes (user_id, route_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		"auth: added route to user")
}

// DisassociateRoute revokes username's access to each route.
func (s *Store) DisassociateRoute(ctx context.Context, username string, routes ...string) error {
	return s.changeRoutes(ctx, username, routes,
		`DELETE FROM api_user_routes WHERE user_id = $1 AND route_id = $2`,
		"auth: removed route from user")
}

func (s *Store) changeRoutes(ctx context.Context, username string, routes []string, stmt, msg string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID int64
	err = tx.QueryRow(ctx, `SELECT id FROM api_users WHERE username = $1`, username).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return statserr.NotFound("user '%s' does not exist", username)
	}
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	for _, route := range routes {
		var routeID int64
		err := tx.QueryRow(ctx, `SELECT id FROM api_routes WHERE name = $1`, route).Scan(&routeID)
		if errors.Is(err, pgx.ErrNoRows) {
			return statserr.NotFound("route '%s' does not exist", route)
		}
		if err != nil {
			return fmt.Errorf("failed to get route: %w", err)
		}
		if _, err := tx.Exec(ctx, stmt, userID, routeID); err != nil {
			return fmt.Errorf("failed to update route %s: %w", route, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, route := range routes {
		s.log.Info(msg, "route", route, "username", username)
	}
	return nil
}

// Authenticate reports whether password matches username's stored hash.
// An unknown user is not an error.
func (s *Store) Authenticate(ctx context.Context, username, password string) (bool, error) {
	var hashed string
	err := s.pool.QueryRow(ctx, `SELECT password FROM api_users WHERE username = $1`, username).Scan(&hashed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get user: %w", err)
	}
	ok, err := VerifyPassword(password, hashed)
	if err != nil {
		return false, fmt.Errorf("failed to verify password for %s: %w", username, err)
	}
	return ok, nil
}

// Authorize reports whether username has been granted route.
func (s *Store) Authorize(ctx context.Context, username, route string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM api_user_routes ur
			JOIN api_users u ON u.id = ur.user_id
			JOIN api_routes r ON r.id = ur.route_id
			WHERE u.username = $1 AND r.name = $2
		)`,
		username, route,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to authorize route: %w", err)
	}
	return ok, nil
}

// Verify requires both credentials, a matching password and a grant for route.
// Every failure is reported the same way so callers cannot probe for usernames.
func (s *Store) Verify(ctx context.Context, username, password, route string) error {
	fail := statserr.AuthFailure("Authentication or authorization failed for user '%s'", username)
	if username == "" || password == "" {
		return fail
	}
	authenticated, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return err
	}
	if !authenticated {
		return fail
	}
	authorized, err := s.Authorize(ctx, username, route)
	if err != nil {
		return err
	}
	if !authorized {
		return fail
	}
	return nil
}
