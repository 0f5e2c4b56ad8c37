package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/uhyunpark/ordergate/pkg/oms"
)

// schema is applied on open; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS gw_orders (
		conn_id            VARCHAR(64)  NOT NULL,
		cl_ord_id          VARCHAR(128) NOT NULL,
		done               BOOLEAN      NOT NULL,
		last_transact_time DATETIME(6)  NOT NULL,
		body               TEXT         NOT NULL,
		PRIMARY KEY (conn_id, cl_ord_id)
	)`,
	`CREATE TABLE IF NOT EXISTS gw_missed_returns (
		id      BIGINT      NOT NULL AUTO_INCREMENT PRIMARY KEY,
		conn_id VARCHAR(64) NOT NULL,
		body    TEXT        NOT NULL,
		INDEX (conn_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS gw_missed_trades (
		id      BIGINT      NOT NULL AUTO_INCREMENT PRIMARY KEY,
		conn_id VARCHAR(64) NOT NULL,
		body    TEXT        NOT NULL,
		INDEX (conn_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS gw_trade_keys (
		conn_id   VARCHAR(64)  NOT NULL,
		trade_key VARCHAR(160) NOT NULL,
		PRIMARY KEY (conn_id, trade_key)
	)`,
}

// SQLStore is a Store on MySQL, for deployments that keep order state in a
// shared database rather than on the gateway host.
type SQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects with a go-sql-driver DSN, e.g.
// "user:pass@tcp(127.0.0.1:3306)/gateway?parseTime=true".
func NewMySQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql unreachable: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) SaveOrder(connID string, ho oms.HistoricalOrder) error {
	body, err := encodeJSON(ho)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO gw_orders (conn_id, cl_ord_id, done, last_transact_time, body)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE done = VALUES(done), last_transact_time = VALUES(last_transact_time), body = VALUES(body)`,
		connID, ho.Order.ClOrdID, ho.Done, ho.LastTransactTime.UTC(), string(body))
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", ho.Order.ClOrdID, err)
	}
	return nil
}

func (s *SQLStore) LoadOrder(connID, clOrdID string) (oms.HistoricalOrder, bool, error) {
	var ho oms.HistoricalOrder
	var body string
	err := s.db.QueryRow(`SELECT body FROM gw_orders WHERE conn_id = ? AND cl_ord_id = ?`, connID, clOrdID).Scan(&body)
	if err == sql.ErrNoRows {
		return ho, false, nil
	}
	if err != nil {
		return ho, false, fmt.Errorf("failed to get order %s: %w", clOrdID, err)
	}
	if err := decodeJSON([]byte(body), &ho); err != nil {
		return ho, false, err
	}
	return ho, true, nil
}

func (s *SQLStore) DeleteOrder(connID, clOrdID string) error {
	if _, err := s.db.Exec(`DELETE FROM gw_orders WHERE conn_id = ? AND cl_ord_id = ?`, connID, clOrdID); err != nil {
		return fmt.Errorf("failed to delete order %s: %w", clOrdID, err)
	}
	return nil
}

func (s *SQLStore) Orders(connID string) ([]oms.HistoricalOrder, error) {
	var out []oms.HistoricalOrder
	err := s.query(`SELECT body FROM gw_orders WHERE conn_id = ? ORDER BY cl_ord_id`, connID, func(body []byte) error {
		var ho oms.HistoricalOrder
		if err := decodeJSON(body, &ho); err != nil {
			return err
		}
		out = append(out, ho)
		return nil
	})
	return out, err
}

func (s *SQLStore) BufferReturn(connID string, f oms.ReturnField) error {
	return s.insertBody(`INSERT INTO gw_missed_returns (conn_id, body) VALUES (?, ?)`, connID, f)
}

func (s *SQLStore) BufferTrade(connID string, f oms.TradeField) error {
	return s.insertBody(`INSERT INTO gw_missed_trades (conn_id, body) VALUES (?, ?)`, connID, f)
}

func (s *SQLStore) Returns(connID string) ([]oms.ReturnField, error) {
	var out []oms.ReturnField
	err := s.query(`SELECT body FROM gw_missed_returns WHERE conn_id = ? ORDER BY id`, connID, func(body []byte) error {
		var f oms.ReturnField
		if err := decodeJSON(body, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

func (s *SQLStore) Trades(connID string) ([]oms.TradeField, error) {
	var out []oms.TradeField
	err := s.query(`SELECT body FROM gw_missed_trades WHERE conn_id = ? ORDER BY id`, connID, func(body []byte) error {
		var f oms.TradeField
		if err := decodeJSON(body, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

func (s *SQLStore) ClearReturns(connID string) error {
	_, err := s.db.Exec(`DELETE FROM gw_missed_returns WHERE conn_id = ?`, connID)
	return err
}

func (s *SQLStore) ClearTrades(connID string) error {
	_, err := s.db.Exec(`DELETE FROM gw_missed_trades WHERE conn_id = ?`, connID)
	return err
}

func (s *SQLStore) MarkTradeProcessed(connID, tradeKey string) error {
	_, err := s.db.Exec(`INSERT IGNORE INTO gw_trade_keys (conn_id, trade_key) VALUES (?, ?)`, connID, tradeKey)
	return err
}

func (s *SQLStore) ProcessedTrades(connID string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	err := s.query(`SELECT trade_key FROM gw_trade_keys WHERE conn_id = ?`, connID, func(key []byte) error {
		out[string(key)] = struct{}{}
		return nil
	})
	return out, err
}

func (s *SQLStore) insertBody(stmt, connID string, v any) error {
	body, err := encodeJSON(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(stmt, connID, string(body))
	return err
}

func (s *SQLStore) query(q, connID string, fn func([]byte) error) error {
	rows, err := s.db.Query(q, connID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return rows.Err()
}

var _ Store = (*SQLStore)(nil)
