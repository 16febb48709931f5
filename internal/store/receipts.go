package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"workmem/internal/model"
)

// SaveReceipt persists a minted receipt. Receipts are immutable once written.
func (s *SQLiteStore) SaveReceipt(ctx context.Context, r *model.Receipt) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("encode receipt payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO receipts (id, session_id, receipt_type, payload, payload_hash, signature, public_meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.ReceiptType, string(payload), r.PayloadHash, r.Signature,
		nullable(r.PublicMeta), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// GetReceipt retrieves a receipt by id.
func (s *SQLiteStore) GetReceipt(ctx context.Context, id string) (*model.Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, receipt_type, payload, payload_hash, signature, public_meta, created_at
		 FROM receipts WHERE id = ?`, id)

	var r model.Receipt
	var payload string
	var meta sql.NullString
	var createdAt string
	err := row.Scan(&r.ID, &r.SessionID, &r.ReceiptType, &payload, &r.PayloadHash, &r.Signature, &meta, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
		return nil, fmt.Errorf("decode receipt payload: %w", err)
	}
	if meta.Valid {
		r.PublicMeta = meta.String
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// SaveToken persists a minted token. Tokens are immutable; expiry makes them
// logically invalid without deletion.
func (s *SQLiteStore) SaveToken(ctx context.Context, t *model.Token) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("encode token payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, session_id, token_type, payload, payload_hash, signature, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.TokenType, string(payload), t.PayloadHash, t.Signature, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetToken retrieves a token by id.
func (s *SQLiteStore) GetToken(ctx context.Context, id string) (*model.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, token_type, payload, payload_hash, signature, created_at
		 FROM tokens WHERE id = ?`, id)

	var t model.Token
	var payload, createdAt string
	err := row.Scan(&t.ID, &t.SessionID, &t.TokenType, &payload, &t.PayloadHash, &t.Signature, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
		return nil, fmt.Errorf("decode token payload: %w", err)
	}
	t.CreatedAt = parseTime(createdAt)
	return &t, nil
}
