package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codebuckets/acmemanager/internal/model"
)

var logger *zap.Logger

// init initializes the package logger.
func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "storage"))
}

// --- Interfaces ---

// Querier defines common methods implemented by *sql.DB and *sql.Tx.
// This allows storage methods to work with either a pool or a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Storage defines the interface for persisting manager data. Lookups return
// nil with a nil error when the row does not exist.
type Storage interface {
	// Account Methods
	SaveAccount(ctx context.Context, acc *model.Account) error
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByAccountID(ctx context.Context, accountID string) (*model.Account, error)

	// Certificate Methods
	SaveCertificate(ctx context.Context, cert *model.Certificate) error
	GetCertificate(ctx context.Context, id int64) (*model.Certificate, error)
	GetCertificateByOrderID(ctx context.Context, orderID string) (*model.Certificate, error)
	ListCertificates(ctx context.Context, f Filter) ([]*model.Certificate, int64, error)

	// Validation Request Methods
	SaveValidationRequest(ctx context.Context, vr *model.ValidationRequest) error
	GetValidationRequestsByOrderID(ctx context.Context, orderID string) ([]*model.ValidationRequest, error)

	// Agent Methods
	AddAgent(ctx context.Context, agent *model.Agent) error // INSERT only
	SaveAgent(ctx context.Context, agent *model.Agent) error
	GetAgent(ctx context.Context, id int64) (*model.Agent, error)
	GetAgentByToken(ctx context.Context, token string) (*model.Agent, error)
	ListAgents(ctx context.Context, f Filter) ([]*model.Agent, int64, error)
	DeleteAgent(ctx context.Context, id int64) error
	UpdateAgentConnectivity(ctx context.Context, id int64, connected bool) error
	AgentForDomain(ctx context.Context, domain string) (*model.Agent, error)

	// Transaction Helper (only implemented on PostgreSQLStorage)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error

	Close() error // Close the underlying connection pool
}

// --- PostgreSQL Implementation ---

// PostgreSQLStorage holds the connection pool.
type PostgreSQLStorage struct {
	db *sql.DB
}

// postgresTxStore holds a transaction and implements the Storage interface.
type postgresTxStore struct {
	tx *sql.Tx
}

var _ Storage = (*PostgreSQLStorage)(nil)
var _ Storage = (*postgresTxStore)(nil)

// NewPostgreSQLStorage creates a new PostgreSQLStorage instance and ensures
// the schema exists.
func NewPostgreSQLStorage(dbHost string, dbUser string, dbPassword string, dbName string, dbPort int, dbSSLMode string) (*PostgreSQLStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		dbHost, dbUser, dbPassword, dbName, dbPort, dbSSLMode,
	)
	return OpenPostgreSQL(connStr)
}

// OpenPostgreSQL opens a pool from a connection string and ensures the
// schema exists. Tests running against containers use this directly.
func OpenPostgreSQL(connStr string) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		logger.Error("Failed to open PostgreSQL connection", zap.Error(err))
		return nil, fmt.Errorf("storage: failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		logger.Error("Failed to ping PostgreSQL database", zap.Error(err))
		return nil, fmt.Errorf("storage: failed to connect to PostgreSQL database: %w", err)
	}
	logger.Info("Successfully connected to PostgreSQL database")

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer schemaCancel()
	if err := ensureSchema(schemaCtx, db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("PostgreSQLStorage initialized")
	return &PostgreSQLStorage{db: db}, nil
}

// ensureSchema creates tables and indexes if they don't exist.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	tableAndIndexStmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts ( id BIGSERIAL PRIMARY KEY, server_uri TEXT NOT NULL, account_id TEXT NOT NULL UNIQUE, account_location TEXT NOT NULL, email TEXT NOT NULL UNIQUE, private_key_pem TEXT NOT NULL, created_at TIMESTAMP WITH TIME ZONE NOT NULL, updated_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE TABLE IF NOT EXISTS certificates ( id BIGSERIAL PRIMARY KEY, order_id TEXT NOT NULL UNIQUE, order_url TEXT NOT NULL, domains TEXT[] NOT NULL, save_key_pair BOOLEAN NOT NULL DEFAULT false, acme_provider TEXT NOT NULL, status TEXT NOT NULL, certificate_pem TEXT, account_id BIGINT NOT NULL, created_at TIMESTAMP WITH TIME ZONE NOT NULL, updated_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_certificates_account_id ON certificates (account_id);`,
		`CREATE INDEX IF NOT EXISTS idx_certificates_status ON certificates (status);`,
		`CREATE TABLE IF NOT EXISTS validation_requests ( id BIGSERIAL PRIMARY KEY, domain TEXT NOT NULL, status TEXT NOT NULL, expires_at TIMESTAMP WITH TIME ZONE, order_url TEXT NOT NULL, order_id TEXT NOT NULL, challenge_type TEXT NOT NULL, challenge_token TEXT NOT NULL, challenge_authorization TEXT NOT NULL, certificate_id BIGINT NOT NULL, created_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_validation_requests_order_id ON validation_requests (order_id);`,
		`CREATE INDEX IF NOT EXISTS idx_validation_requests_certificate_id ON validation_requests (certificate_id);`,
		`CREATE TABLE IF NOT EXISTS agents ( id BIGSERIAL PRIMARY KEY, name TEXT NOT NULL UNIQUE, token TEXT NOT NULL UNIQUE, url TEXT NOT NULL DEFAULT '', domains TEXT[] NOT NULL DEFAULT '{}', is_connected BOOLEAN NOT NULL DEFAULT false, created_at TIMESTAMP WITH TIME ZONE NOT NULL, updated_at TIMESTAMP WITH TIME ZONE NOT NULL );`,
		`CREATE INDEX IF NOT EXISTS idx_agents_domains ON agents USING GIN (domains);`,
	}

	logger.Info("Executing CREATE TABLE IF NOT EXISTS and CREATE INDEX IF NOT EXISTS statements...")
	for i, stmt := range tableAndIndexStmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Error("Failed to execute schema statement (Table/Index Phase)", zap.Error(err), zap.Int("statement_index", i), zap.String("statement", stmt))
			return fmt.Errorf("storage: failed to initialize database schema (Table/Index Phase): %w", err)
		}
	}

	fkStmt := `DO $$ BEGIN
            IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'fk_certificates_account_id') THEN
                ALTER TABLE certificates ADD CONSTRAINT fk_certificates_account_id FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE RESTRICT;
            END IF;
            IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'fk_validation_requests_certificate_id') THEN
                ALTER TABLE validation_requests ADD CONSTRAINT fk_validation_requests_certificate_id FOREIGN KEY (certificate_id) REFERENCES certificates(id) ON DELETE CASCADE;
            END IF;
        END $$;`

	logger.Info("Executing ALTER TABLE ADD CONSTRAINT statements...")
	if _, err := db.ExecContext(ctx, fkStmt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			logger.Error("Failed to add foreign key constraints", zap.Error(err),
				zap.String("code", string(pqErr.Code)),
				zap.String("message", pqErr.Message),
				zap.String("constraint", pqErr.Constraint),
			)
		} else {
			logger.Error("Failed to execute schema statement (Foreign Key Phase)", zap.Error(err))
		}
		return fmt.Errorf("storage: failed to initialize database schema (Foreign Key Phase): %w", err)
	}

	logger.Info("Database schema initialization check complete.")
	return nil
}

// Close shuts down the database connection pool.
func (s *PostgreSQLStorage) Close() error {
	logger.Info("Closing database connection pool")
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// WithinTransaction executes the given function within a database transaction.
func (s *PostgreSQLStorage) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: failed to begin transaction: %w", err)
	}
	txStore := &postgresTxStore{tx: tx}
	err = fn(ctx, txStore)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Transaction function failed and rollback failed", zap.Error(err), zap.NamedError("rollback_error", rbErr))
			return fmt.Errorf("storage: transaction function failed (%w) and rollback failed (%v)", err, rbErr)
		}
		logger.Warn("Transaction rolled back due to error", zap.Error(err))
		return err
	}
	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("storage: failed to commit transaction: %w", err)
	}
	return nil
}

// --- Account ---
func (s *PostgreSQLStorage) SaveAccount(ctx context.Context, acc *model.Account) error {
	return saveAccount(ctx, s.db, acc)
}
func (s *PostgreSQLStorage) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return getAccount(ctx, s.db, id)
}
func (s *PostgreSQLStorage) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return getAccountByEmail(ctx, s.db, email)
}
func (s *PostgreSQLStorage) GetAccountByAccountID(ctx context.Context, accountID string) (*model.Account, error) {
	return getAccountByAccountID(ctx, s.db, accountID)
}

// --- Certificate ---
func (s *PostgreSQLStorage) SaveCertificate(ctx context.Context, cert *model.Certificate) error {
	return saveCertificate(ctx, s.db, cert)
}
func (s *PostgreSQLStorage) GetCertificate(ctx context.Context, id int64) (*model.Certificate, error) {
	return getCertificate(ctx, s.db, id)
}
func (s *PostgreSQLStorage) GetCertificateByOrderID(ctx context.Context, orderID string) (*model.Certificate, error) {
	return getCertificateByOrderID(ctx, s.db, orderID)
}
func (s *PostgreSQLStorage) ListCertificates(ctx context.Context, f Filter) ([]*model.Certificate, int64, error) {
	return listCertificates(ctx, s.db, f)
}

// --- Validation Request ---
func (s *PostgreSQLStorage) SaveValidationRequest(ctx context.Context, vr *model.ValidationRequest) error {
	return saveValidationRequest(ctx, s.db, vr)
}
func (s *PostgreSQLStorage) GetValidationRequestsByOrderID(ctx context.Context, orderID string) ([]*model.ValidationRequest, error) {
	return getValidationRequestsByOrderID(ctx, s.db, orderID)
}

// --- Agent ---
func (s *PostgreSQLStorage) AddAgent(ctx context.Context, agent *model.Agent) error {
	return addAgent(ctx, s.db, agent)
}
func (s *PostgreSQLStorage) SaveAgent(ctx context.Context, agent *model.Agent) error {
	return saveAgent(ctx, s.db, agent)
}
func (s *PostgreSQLStorage) GetAgent(ctx context.Context, id int64) (*model.Agent, error) {
	return getAgent(ctx, s.db, id)
}
func (s *PostgreSQLStorage) GetAgentByToken(ctx context.Context, token string) (*model.Agent, error) {
	return getAgentByToken(ctx, s.db, token)
}
func (s *PostgreSQLStorage) ListAgents(ctx context.Context, f Filter) ([]*model.Agent, int64, error) {
	return listAgents(ctx, s.db, f)
}
func (s *PostgreSQLStorage) DeleteAgent(ctx context.Context, id int64) error {
	return deleteAgent(ctx, s.db, id)
}
func (s *PostgreSQLStorage) UpdateAgentConnectivity(ctx context.Context, id int64, connected bool) error {
	return updateAgentConnectivity(ctx, s.db, id, connected)
}
func (s *PostgreSQLStorage) AgentForDomain(ctx context.Context, domain string) (*model.Agent, error) {
	return agentForDomain(ctx, s.db, domain)
}

// =============================================
// postgresTxStore Method Implementations
// =============================================

// Close is a no-op for a transaction store.
func (s *postgresTxStore) Close() error { return nil }

// WithinTransaction cannot be called on an already active transaction store.
func (s *postgresTxStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, txStorage Storage) error) error {
	return errors.New("storage: cannot start a transaction within an existing transaction")
}

func (s *postgresTxStore) SaveAccount(ctx context.Context, acc *model.Account) error {
	return saveAccount(ctx, s.tx, acc)
}
func (s *postgresTxStore) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return getAccount(ctx, s.tx, id)
}
func (s *postgresTxStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return getAccountByEmail(ctx, s.tx, email)
}
func (s *postgresTxStore) GetAccountByAccountID(ctx context.Context, accountID string) (*model.Account, error) {
	return getAccountByAccountID(ctx, s.tx, accountID)
}
func (s *postgresTxStore) SaveCertificate(ctx context.Context, cert *model.Certificate) error {
	return saveCertificate(ctx, s.tx, cert)
}
func (s *postgresTxStore) GetCertificate(ctx context.Context, id int64) (*model.Certificate, error) {
	return getCertificate(ctx, s.tx, id)
}
func (s *postgresTxStore) GetCertificateByOrderID(ctx context.Context, orderID string) (*model.Certificate, error) {
	return getCertificateByOrderID(ctx, s.tx, orderID)
}
func (s *postgresTxStore) ListCertificates(ctx context.Context, f Filter) ([]*model.Certificate, int64, error) {
	return listCertificates(ctx, s.tx, f)
}
func (s *postgresTxStore) SaveValidationRequest(ctx context.Context, vr *model.ValidationRequest) error {
	return saveValidationRequest(ctx, s.tx, vr)
}
func (s *postgresTxStore) GetValidationRequestsByOrderID(ctx context.Context, orderID string) ([]*model.ValidationRequest, error) {
	return getValidationRequestsByOrderID(ctx, s.tx, orderID)
}
func (s *postgresTxStore) AddAgent(ctx context.Context, agent *model.Agent) error {
	return addAgent(ctx, s.tx, agent)
}
func (s *postgresTxStore) SaveAgent(ctx context.Context, agent *model.Agent) error {
	return saveAgent(ctx, s.tx, agent)
}
func (s *postgresTxStore) GetAgent(ctx context.Context, id int64) (*model.Agent, error) {
	return getAgent(ctx, s.tx, id)
}
func (s *postgresTxStore) GetAgentByToken(ctx context.Context, token string) (*model.Agent, error) {
	return getAgentByToken(ctx, s.tx, token)
}
func (s *postgresTxStore) ListAgents(ctx context.Context, f Filter) ([]*model.Agent, int64, error) {
	return listAgents(ctx, s.tx, f)
}
func (s *postgresTxStore) DeleteAgent(ctx context.Context, id int64) error {
	return deleteAgent(ctx, s.tx, id)
}
func (s *postgresTxStore) UpdateAgentConnectivity(ctx context.Context, id int64, connected bool) error {
	return updateAgentConnectivity(ctx, s.tx, id, connected)
}
func (s *postgresTxStore) AgentForDomain(ctx context.Context, domain string) (*model.Agent, error) {
	return agentForDomain(ctx, s.tx, domain)
}

// =============================================
// Unexported Helper Implementations
// =============================================

// --- Account Helpers ---

const accountColumns = `id, server_uri, account_id, account_location, email, private_key_pem, created_at, updated_at`

func saveAccount(ctx context.Context, q Querier, acc *model.Account) error {
	now := time.Now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now
	query := `
        INSERT INTO accounts (server_uri, account_id, account_location, email, private_key_pem, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (account_id) DO UPDATE SET
            server_uri = EXCLUDED.server_uri, account_location = EXCLUDED.account_location,
            email = EXCLUDED.email, private_key_pem = EXCLUDED.private_key_pem, updated_at = EXCLUDED.updated_at
        RETURNING id`
	err := q.QueryRowContext(ctx, query,
		acc.ServerURI, acc.AccountID, acc.AccountLocation, acc.Email, acc.PrivateKeyPEM, acc.CreatedAt, acc.UpdatedAt,
	).Scan(&acc.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("storage: account with email '%s' already exists", acc.Email)
		}
		return fmt.Errorf("storage: failed to save account '%s': %w", acc.AccountID, err)
	}
	logger.Debug("Account saved", zap.String("accountID", acc.AccountID))
	return nil
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	var acc model.Account
	err := row.Scan(&acc.ID, &acc.ServerURI, &acc.AccountID, &acc.AccountLocation, &acc.Email, &acc.PrivateKeyPEM, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to scan account row: %w", err)
	}
	return &acc, nil
}

func getAccount(ctx context.Context, q Querier, id int64) (*model.Account, error) {
	return scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}
func getAccountByEmail(ctx context.Context, q Querier, email string) (*model.Account, error) {
	return scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}
func getAccountByAccountID(ctx context.Context, q Querier, accountID string) (*model.Account, error) {
	return scanAccount(q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id = $1`, accountID))
}

// --- Certificate Helpers ---

const certificateColumns = `id, order_id, order_url, domains, save_key_pair, acme_provider, status, certificate_pem, account_id, created_at, updated_at`

func saveCertificate(ctx context.Context, q Querier, cert *model.Certificate) error {
	now := time.Now()
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = now
	}
	cert.UpdatedAt = now
	query := `
        INSERT INTO certificates (order_id, order_url, domains, save_key_pair, acme_provider, status, certificate_pem, account_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (order_id) DO UPDATE SET
            domains = EXCLUDED.domains, save_key_pair = EXCLUDED.save_key_pair, status = EXCLUDED.status,
            certificate_pem = EXCLUDED.certificate_pem, updated_at = EXCLUDED.updated_at
        RETURNING id`
	var sqlCertPEM sql.NullString
	if cert.CertificatePEM != "" {
		sqlCertPEM = sql.NullString{String: cert.CertificatePEM, Valid: true}
	}
	err := q.QueryRowContext(ctx, query,
		cert.OrderID, cert.OrderURL, pq.Array(cert.Domains), cert.SaveKeyPair, string(cert.Provider),
		string(cert.Status), sqlCertPEM, cert.AccountID, cert.CreatedAt, cert.UpdatedAt,
	).Scan(&cert.ID)
	if err != nil {
		return fmt.Errorf("storage: failed to save certificate for order '%s': %w", cert.OrderID, err)
	}
	logger.Debug("Certificate saved", zap.String("orderID", cert.OrderID), zap.String("status", string(cert.Status)))
	return nil
}

func scanCertificate(scan func(dest ...interface{}) error) (*model.Certificate, error) {
	var cert model.Certificate
	var domains pq.StringArray
	var sqlCertPEM sql.NullString
	err := scan(&cert.ID, &cert.OrderID, &cert.OrderURL, &domains, &cert.SaveKeyPair,
		&cert.Provider, &cert.Status, &sqlCertPEM, &cert.AccountID, &cert.CreatedAt, &cert.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cert.Domains = []string(domains)
	if sqlCertPEM.Valid {
		cert.CertificatePEM = sqlCertPEM.String
	}
	return &cert, nil
}

func getCertificate(ctx context.Context, q Querier, id int64) (*model.Certificate, error) {
	row := q.QueryRowContext(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id)
	cert, err := scanCertificate(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to get certificate %d: %w", id, err)
	}
	return loadValidationRequests(ctx, q, cert)
}

func getCertificateByOrderID(ctx context.Context, q Querier, orderID string) (*model.Certificate, error) {
	row := q.QueryRowContext(ctx, `SELECT `+certificateColumns+` FROM certificates WHERE order_id = $1`, orderID)
	cert, err := scanCertificate(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to get certificate for order '%s': %w", orderID, err)
	}
	return loadValidationRequests(ctx, q, cert)
}

func loadValidationRequests(ctx context.Context, q Querier, cert *model.Certificate) (*model.Certificate, error) {
	vrs, err := getValidationRequestsByOrderID(ctx, q, cert.OrderID)
	if err != nil {
		return nil, err
	}
	cert.ValidationRequests = vrs
	return cert, nil
}

var certificateFilterColumns = map[string]string{
	"orderId":      "order_id",
	"status":       "status",
	"acmeProvider": "acme_provider",
	"accountId":    "account_id",
	"domain":       "@domains",
}

func listCertificates(ctx context.Context, q Querier, f Filter) ([]*model.Certificate, int64, error) {
	f = f.normalize()
	where, args, err := f.whereClause(certificateFilterColumns)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM certificates`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: failed to count certificates: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM certificates%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		certificateColumns, where, f.limit(), f.offset())
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: failed to list certificates: %w", err)
	}
	defer rows.Close()

	certs := make([]*model.Certificate, 0)
	for rows.Next() {
		cert, err := scanCertificate(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: failed to scan certificate row: %w", err)
		}
		certs = append(certs, cert)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: error iterating certificate rows: %w", err)
	}

	for _, cert := range certs {
		if _, err := loadValidationRequests(ctx, q, cert); err != nil {
			return nil, 0, err
		}
	}
	return certs, total, nil
}

// --- Validation Request Helpers ---

func saveValidationRequest(ctx context.Context, q Querier, vr *model.ValidationRequest) error {
	if vr.ID == 0 {
		if vr.CreatedAt.IsZero() {
			vr.CreatedAt = time.Now()
		}
		query := `
            INSERT INTO validation_requests (domain, status, expires_at, order_url, order_id, challenge_type, challenge_token, challenge_authorization, certificate_id, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
            RETURNING id`
		var sqlExpires sql.NullTime
		if !vr.ExpiresAt.IsZero() {
			sqlExpires = sql.NullTime{Time: vr.ExpiresAt, Valid: true}
		}
		err := q.QueryRowContext(ctx, query,
			vr.Domain, string(vr.Status), sqlExpires, vr.OrderURL, vr.OrderID,
			string(vr.ChallengeType), vr.ChallengeToken, vr.ChallengeAuthorization, vr.CertificateID, vr.CreatedAt,
		).Scan(&vr.ID)
		if err != nil {
			return fmt.Errorf("storage: failed to save validation request for domain '%s': %w", vr.Domain, err)
		}
		logger.Debug("Validation request saved", zap.String("domain", vr.Domain), zap.String("orderID", vr.OrderID))
		return nil
	}

	// Only status changes after creation; the challenge material is immutable.
	query := `UPDATE validation_requests SET status = $2 WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, vr.ID, string(vr.Status)); err != nil {
		return fmt.Errorf("storage: failed to update validation request %d: %w", vr.ID, err)
	}
	logger.Debug("Validation request status updated", zap.Int64("id", vr.ID), zap.String("status", string(vr.Status)))
	return nil
}

func getValidationRequestsByOrderID(ctx context.Context, q Querier, orderID string) ([]*model.ValidationRequest, error) {
	query := `SELECT id, domain, status, expires_at, order_url, order_id, challenge_type, challenge_token, challenge_authorization, certificate_id, created_at
        FROM validation_requests WHERE order_id = $1 ORDER BY id`
	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to query validation requests for order '%s': %w", orderID, err)
	}
	defer rows.Close()

	vrs := make([]*model.ValidationRequest, 0)
	for rows.Next() {
		var vr model.ValidationRequest
		var sqlExpires sql.NullTime
		err := rows.Scan(&vr.ID, &vr.Domain, &vr.Status, &sqlExpires, &vr.OrderURL, &vr.OrderID,
			&vr.ChallengeType, &vr.ChallengeToken, &vr.ChallengeAuthorization, &vr.CertificateID, &vr.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("storage: failed to scan validation request row: %w", err)
		}
		if sqlExpires.Valid {
			vr.ExpiresAt = sqlExpires.Time
		}
		vrs = append(vrs, &vr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: error iterating validation request rows: %w", err)
	}
	return vrs, nil
}

// --- Agent Helpers ---

const agentColumns = `id, name, token, url, domains, is_connected, created_at, updated_at`

func addAgent(ctx context.Context, q Querier, agent *model.Agent) error {
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	query := `INSERT INTO agents (name, token, url, domains, is_connected, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := q.QueryRowContext(ctx, query,
		agent.Name, agent.Token, agent.URL, pq.Array(agent.Domains), agent.Connected, agent.CreatedAt, agent.UpdatedAt,
	).Scan(&agent.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("storage: agent '%s' already exists", agent.Name)
		}
		return fmt.Errorf("storage: failed to add agent '%s': %w", agent.Name, err)
	}
	logger.Info("Agent added", zap.String("name", agent.Name), zap.Int64("id", agent.ID))
	return nil
}

func saveAgent(ctx context.Context, q Querier, agent *model.Agent) error {
	agent.UpdatedAt = time.Now()
	query := `UPDATE agents SET url = $2, domains = $3, is_connected = $4, updated_at = $5 WHERE id = $1`
	result, err := q.ExecContext(ctx, query, agent.ID, agent.URL, pq.Array(agent.Domains), agent.Connected, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: failed to save agent '%s': %w", agent.Name, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("storage: agent %d not found for update", agent.ID)
	}
	logger.Debug("Agent saved", zap.String("name", agent.Name))
	return nil
}

func scanAgent(row *sql.Row) (*model.Agent, error) {
	var agent model.Agent
	var domains pq.StringArray
	err := row.Scan(&agent.ID, &agent.Name, &agent.Token, &agent.URL, &domains, &agent.Connected, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to scan agent row: %w", err)
	}
	agent.Domains = []string(domains)
	return &agent, nil
}

func getAgent(ctx context.Context, q Querier, id int64) (*model.Agent, error) {
	return scanAgent(q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
}
func getAgentByToken(ctx context.Context, q Querier, token string) (*model.Agent, error) {
	return scanAgent(q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE token = $1`, token))
}
func agentForDomain(ctx context.Context, q Querier, domain string) (*model.Agent, error) {
	return scanAgent(q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE $1 = ANY(domains) ORDER BY id LIMIT 1`, domain))
}

var agentFilterColumns = map[string]string{
	"name":        "name",
	"url":         "url",
	"isConnected": "is_connected",
	"domain":      "@domains",
}

func listAgents(ctx context.Context, q Querier, f Filter) ([]*model.Agent, int64, error) {
	f = f.normalize()
	where, args, err := f.whereClause(agentFilterColumns)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: failed to count agents: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM agents%s ORDER BY name LIMIT %d OFFSET %d`, agentColumns, where, f.limit(), f.offset())
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: failed to list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]*model.Agent, 0)
	for rows.Next() {
		var agent model.Agent
		var domains pq.StringArray
		err := rows.Scan(&agent.ID, &agent.Name, &agent.Token, &agent.URL, &domains, &agent.Connected, &agent.CreatedAt, &agent.UpdatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: failed to scan agent row: %w", err)
		}
		agent.Domains = []string(domains)
		agents = append(agents, &agent)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: error iterating agent rows: %w", err)
	}
	return agents, total, nil
}

func deleteAgent(ctx context.Context, q Querier, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: failed to delete agent %d: %w", id, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		logger.Warn("DeleteAgent affected 0 rows, agent might not have existed", zap.Int64("id", id))
	}
	return nil
}

func updateAgentConnectivity(ctx context.Context, q Querier, id int64, connected bool) error {
	query := `UPDATE agents SET is_connected = $2, updated_at = NOW() WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, id, connected); err != nil {
		return fmt.Errorf("storage: failed to update connectivity for agent %d: %w", id, err)
	}
	logger.Debug("Agent connectivity updated", zap.Int64("id", id), zap.Bool("connected", connected))
	return nil
}
