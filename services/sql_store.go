package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"social-inbox/models"
)

// sqlDialect captures the few places where SQLite and PostgreSQL differ
type sqlDialect struct {
	driver       string
	autoID       string
	columnsQuery string
	numbered     bool // $1, $2 placeholders instead of ?
}

var (
	sqliteDialect = sqlDialect{
		driver:       "sqlite",
		autoID:       "INTEGER PRIMARY KEY AUTOINCREMENT",
		columnsQuery: "SELECT name FROM pragma_table_info('conversations')",
	}
	postgresDialect = sqlDialect{
		driver:       "postgres",
		autoID:       "BIGSERIAL PRIMARY KEY",
		columnsQuery: "SELECT column_name FROM information_schema.columns WHERE table_name = 'conversations' AND table_schema = current_schema()",
		numbered:     true,
	}
)

const messageColumns = "id, conversation_id, page_id, customer_id, platform, sender_type, sender_role, sender_id, sender_name, customer_name, customer_pic, type, body, reply_to_id, platform_message_id, created_at"

const conversationColumns = "id, page_id, customer_id, platform, owner_id, locked_at, status, admin_last_read_at, seller_last_read_at, created_at, updated_at"

const receiptColumns = "customer_delivered_at, customer_read_at"

// SQLStore implements Store on database/sql. Timestamps are stored as unix
// milliseconds so that comparisons behave the same on both dialects.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
	logger  *slog.Logger

	// receipts is true when the conversations table carries the receipt columns
	receipts bool
}

// NewSQLiteStore opens (and creates if needed) a SQLite database at path
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open(sqliteDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single writer connection keeps SQLite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, sqliteDialect)
}

// NewPostgresStore connects to PostgreSQL using a lib/pq DSN
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect sqlDialect) (*SQLStore, error) {
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "store", "driver", dialect.driver),
	}

	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	has, err := s.HasReceiptColumns(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("inspecting schema: %w", err)
	}
	s.receipts = has
	if !has {
		s.logger.Warn("Conversations table has no receipt columns, receipts disabled")
	}

	s.logger.Info("SQL store initialized")
	return s, nil
}

// createSchema creates the tables if they don't exist. An existing
// conversations table from an older deployment is left untouched.
func (s *SQLStore) createSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS conversations (
			id                    TEXT PRIMARY KEY,
			page_id               TEXT NOT NULL,
			customer_id           TEXT NOT NULL,
			platform              TEXT NOT NULL DEFAULT 'facebook',
			owner_id              TEXT,
			locked_at             BIGINT,
			status                TEXT NOT NULL DEFAULT '',
			admin_last_read_at    BIGINT,
			seller_last_read_at   BIGINT,
			customer_delivered_at BIGINT,
			customer_read_at      BIGINT,
			created_at            BIGINT NOT NULL,
			updated_at            BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id);

		CREATE TABLE IF NOT EXISTS messages (
			id                  %s,
			conversation_id     TEXT NOT NULL,
			page_id             TEXT NOT NULL,
			customer_id         TEXT NOT NULL,
			platform            TEXT NOT NULL,
			sender_type         TEXT NOT NULL,
			sender_role         TEXT NOT NULL,
			sender_id           TEXT,
			sender_name         TEXT NOT NULL DEFAULT '',
			customer_name       TEXT,
			customer_pic        TEXT,
			type                TEXT NOT NULL DEFAULT 'text',
			body                TEXT NOT NULL,
			reply_to_id         BIGINT,
			platform_message_id TEXT,
			created_at          BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
		CREATE INDEX IF NOT EXISTS idx_messages_platform_id ON messages(platform_message_id);

		CREATE TABLE IF NOT EXISTS customer_profiles (
			page_id     TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			name        TEXT NOT NULL,
			pic         TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL,
			updated_at  BIGINT NOT NULL,
			PRIMARY KEY (page_id, customer_id)
		);

		CREATE TABLE IF NOT EXISTS pages (
			page_id      TEXT PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			platform     TEXT NOT NULL DEFAULT 'facebook',
			access_token TEXT NOT NULL,
			updated_at   BIGINT NOT NULL
		);
	`, s.dialect.autoID)

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection
func (s *SQLStore) Close(ctx context.Context) error {
	return s.db.Close()
}

// q rewrites ? placeholders for dialects that number them
func (s *SQLStore) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HasReceiptColumns inspects the live conversations table
func (s *SQLStore) HasReceiptColumns(ctx context.Context) (bool, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.columnsQuery)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	found := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == "customer_delivered_at" || name == "customer_read_at" {
			found++
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found == 2, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// readColumn maps an agent role to its watermark column
func readColumn(role models.AgentRole) string {
	if role == models.RoleAdmin {
		return "admin_last_read_at"
	}
	return "seller_last_read_at"
}

// receiptColumn maps a receipt kind to its watermark column
func receiptColumn(kind models.ReceiptKind) (string, error) {
	switch kind {
	case models.ReceiptDelivered:
		return "customer_delivered_at", nil
	case models.ReceiptRead:
		return "customer_read_at", nil
	}
	return "", NewValidationError("kind", "unknown receipt kind")
}

func (s *SQLStore) conversationSelect() string {
	if s.receipts {
		return conversationColumns + ", " + receiptColumns
	}
	return conversationColumns
}

func (s *SQLStore) scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c                                                   models.Conversation
		platform, status                                    string
		owner                                               sql.NullString
		lockedAt, adminRead, sellerRead, delivered, readAt sql.NullInt64
		created, updated                                    int64
	)
	dest := []any{&c.ID, &c.PageID, &c.CustomerID, &platform, &owner, &lockedAt, &status, &adminRead, &sellerRead, &created, &updated}
	if s.receipts {
		dest = append(dest, &delivered, &readAt)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	c.Platform = models.Platform(platform)
	c.Status = models.DeliveryStatus(status)
	if owner.Valid {
		c.OwnerID = &owner.String
	}
	c.LockedAt = nullTime(lockedAt)
	c.AdminLastReadAt = nullTime(adminRead)
	c.SellerLastReadAt = nullTime(sellerRead)
	c.CustomerDeliveredAt = nullTime(delivered)
	c.CustomerReadAt = nullTime(readAt)
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

// CreateConversationIfAbsent inserts the row unless the id already exists
func (s *SQLStore) CreateConversationIfAbsent(ctx context.Context, conv *models.Conversation) (bool, error) {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	if conv.Platform == "" {
		conv.Platform = models.PlatformFacebook
	}

	var owner any
	if conv.OwnerID != nil {
		owner = *conv.OwnerID
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO conversations (id, page_id, customer_id, platform, owner_id, locked_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		conv.ID, conv.PageID, conv.CustomerID, string(conv.Platform), owner, nullMillis(conv.LockedAt),
		string(conv.Status), millis(conv.CreatedAt), millis(conv.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("inserting conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetConversation returns ErrNotFound when no row exists
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+s.conversationSelect()+" FROM conversations WHERE id = ?"), id)
	conv, err := s.scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ClaimIfUnowned sets the owner only while owner_id IS NULL
func (s *SQLStore) ClaimIfUnowned(ctx context.Context, id, agentID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE conversations SET owner_id = ?, locked_at = ?, updated_at = ?
		WHERE id = ? AND owner_id IS NULL`),
		agentID, millis(at), millis(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("claiming conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetOwner sets or clears the owner regardless of the current value
func (s *SQLStore) SetOwner(ctx context.Context, id string, agentID *string, at time.Time) error {
	var owner, lockedAt any
	if agentID != nil {
		owner = *agentID
		lockedAt = millis(at)
	}
	return s.execOne(ctx, `UPDATE conversations SET owner_id = ?, locked_at = ?, updated_at = ? WHERE id = ?`,
		owner, lockedAt, millis(at), id)
}

// SetStatus records the delivery status
func (s *SQLStore) SetStatus(ctx context.Context, id string, status models.DeliveryStatus, at time.Time) error {
	return s.execOne(ctx, `UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), millis(at), id)
}

// SetLastRead moves (or clears) the read watermark of a role
func (s *SQLStore) SetLastRead(ctx context.Context, id string, role models.AgentRole, at *time.Time) error {
	query := fmt.Sprintf(`UPDATE conversations SET %s = ? WHERE id = ?`, readColumn(role))
	return s.execOne(ctx, query, nullMillis(at), id)
}

// AdvanceReceipt only writes when the new timestamp is strictly newer
func (s *SQLStore) AdvanceReceipt(ctx context.Context, id string, kind models.ReceiptKind, at time.Time) error {
	if !s.receipts {
		return nil
	}
	col, err := receiptColumn(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE conversations SET %[1]s = ?, updated_at = ? WHERE id = ? AND (%[1]s IS NULL OR %[1]s < ?)`, col)
	_, err = s.db.ExecContext(ctx, s.q(query), millis(at), millis(time.Now()), id, millis(at))
	if err != nil {
		return fmt.Errorf("advancing %s receipt: %w", kind, err)
	}
	return nil
}

// execOne runs an update that must touch exactly one conversation
func (s *SQLStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts msg and stores the generated id back into it
func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Type == "" {
		msg.Type = models.MessageText
	}

	var replyTo any
	if msg.ReplyToID != nil {
		replyTo = *msg.ReplyToID
	}

	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO messages (conversation_id, page_id, customer_id, platform, sender_type, sender_role,
			sender_id, sender_name, customer_name, customer_pic, type, body, reply_to_id, platform_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		msg.ConversationID, msg.PageID, msg.CustomerID, string(msg.Platform), string(msg.SenderType), string(msg.SenderRole),
		nullString(msg.SenderID), msg.SenderName, nullString(msg.CustomerName), nullString(msg.CustomerPic),
		string(msg.Type), msg.Body, replyTo, nullString(msg.PlatformMessageID), millis(msg.CreatedAt),
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m                                                   models.Message
		platform, senderType, senderRole, msgType           string
		senderID, customerName, customerPic, platformMsgID sql.NullString
		replyTo                                             sql.NullInt64
		created                                             int64
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.PageID, &m.CustomerID, &platform, &senderType, &senderRole,
		&senderID, &m.SenderName, &customerName, &customerPic, &msgType, &m.Body, &replyTo, &platformMsgID, &created)
	if err != nil {
		return nil, err
	}
	m.Platform = models.Platform(platform)
	m.SenderType = models.SenderType(senderType)
	m.SenderRole = models.SenderRole(senderRole)
	m.Type = models.MessageType(msgType)
	m.SenderID = senderID.String
	m.CustomerName = customerName.String
	m.CustomerPic = customerPic.String
	m.PlatformMessageID = platformMsgID.String
	if replyTo.Valid {
		id := replyTo.Int64
		m.ReplyToID = &id
	}
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

// GetMessage returns a single ledger entry
func (s *SQLStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+messageColumns+" FROM messages WHERE id = ?"), id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

// FindMessageByPlatformID looks a message up by the platform's mid
func (s *SQLStore) FindMessageByPlatformID(ctx context.Context, platformMessageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, s.q("SELECT "+messageColumns+" FROM messages WHERE platform_message_id = ? ORDER BY id LIMIT 1"), platformMessageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

// ListMessages returns the newest limit messages, oldest first
func (s *SQLStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

// ConversationSummaries returns the latest message of each conversation with
// the unread count for the caller role. Conversations without a row in the
// conversations table count every customer message as unread.
func (s *SQLStore) ConversationSummaries(ctx context.Context, filter SummaryFilter) ([]models.ConversationSummary, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `
		SELECT %s, c.owner_id, c.status,
			(SELECT COUNT(*) FROM messages u
				WHERE u.conversation_id = m.conversation_id
				AND u.sender_type = 'customer'
				AND u.created_at > COALESCE(c.%s, 0)) AS unread
		FROM messages m
		LEFT JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id = (
			SELECT m2.id FROM messages m2
			WHERE m2.conversation_id = m.conversation_id
			ORDER BY m2.created_at DESC, m2.id DESC
			LIMIT 1)`, prefixed("m", messageColumns), readColumn(filter.Role))

	args := []any{}
	if filter.PageID != "" {
		b.WriteString(" AND m.page_id = ?")
		args = append(args, filter.PageID)
	}
	if filter.Role != models.RoleAdmin {
		b.WriteString(" AND (c.owner_id = ? OR c.owner_id IS NULL)")
		args = append(args, filter.AgentID)
	}
	b.WriteString(" ORDER BY m.created_at DESC, m.id DESC LIMIT ?")
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, s.q(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	summaries := []models.ConversationSummary{}
	for rows.Next() {
		var (
			owner, status sql.NullString
			unread        int
		)
		msg, err := scanMessage(scanFunc(func(dest ...any) error {
			return rows.Scan(append(dest, &owner, &status, &unread)...)
		}))
		if err != nil {
			return nil, err
		}

		summary := models.ConversationSummary{
			ConversationID: msg.ConversationID,
			PageID:         msg.PageID,
			CustomerID:     msg.CustomerID,
			Platform:       msg.Platform,
			Status:         models.DeliveryStatus(status.String),
			LastMessage:    *msg,
			Unread:         unread,
		}
		if owner.Valid {
			summary.OwnerID = &owner.String
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// scanFunc adapts a closure to rowScanner
type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

// CountCustomerMessagesAfter counts customer messages strictly newer than after
func (s *SQLStore) CountCustomerMessagesAfter(ctx context.Context, conversationID string, after time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_type = 'customer' AND created_at > ?`),
		conversationID, millis(after)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// LatestCustomerMessageAt returns nil when the customer never wrote
func (s *SQLStore) LatestCustomerMessageAt(ctx context.Context, conversationID string) (*time.Time, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT MAX(created_at) FROM messages
		WHERE conversation_id = ? AND sender_type = 'customer'`), conversationID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("querying latest message: %w", err)
	}
	return nullTime(latest), nil
}

// BackfillCustomerIdentity repairs the customer identity on existing rows
func (s *SQLStore) BackfillCustomerIdentity(ctx context.Context, conversationID, name, pic string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if pic == "" {
		res, err = s.db.ExecContext(ctx, s.q(`UPDATE messages SET customer_name = ? WHERE conversation_id = ?`), name, conversationID)
	} else {
		res, err = s.db.ExecContext(ctx, s.q(`UPDATE messages SET customer_name = ?, customer_pic = ? WHERE conversation_id = ?`), name, pic, conversationID)
	}
	if err != nil {
		return 0, fmt.Errorf("backfilling identity: %w", err)
	}
	return res.RowsAffected()
}

// GetProfile returns ErrNotFound for unknown customers
func (s *SQLStore) GetProfile(ctx context.Context, pageID, customerID string) (*models.CustomerProfile, error) {
	var (
		p       models.CustomerProfile
		source  string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT page_id, customer_id, name, pic, source, updated_at FROM customer_profiles
		WHERE page_id = ? AND customer_id = ?`), pageID, customerID).
		Scan(&p.PageID, &p.CustomerID, &p.Name, &p.Pic, &source, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	p.Source = models.ProfileSource(source)
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

// SaveProfile upserts a customer profile
func (s *SQLStore) SaveProfile(ctx context.Context, p *models.CustomerProfile) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO customer_profiles (page_id, customer_id, name, pic, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (page_id, customer_id) DO UPDATE SET
			name = excluded.name, pic = excluded.pic, source = excluded.source, updated_at = excluded.updated_at`),
		p.PageID, p.CustomerID, p.Name, p.Pic, string(p.Source), millis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

// ListPages returns every known page credential
func (s *SQLStore) ListPages(ctx context.Context) ([]models.Page, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT page_id, name, platform, access_token, updated_at FROM pages ORDER BY page_id`)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer rows.Close()

	pages := []models.Page{}
	for rows.Next() {
		var (
			p        models.Page
			platform string
			updated  int64
		)
		if err := rows.Scan(&p.PageID, &p.Name, &platform, &p.AccessToken, &updated); err != nil {
			return nil, err
		}
		p.Platform = models.Platform(platform)
		p.UpdatedAt = fromMillis(updated)
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpsertPage inserts or replaces a page credential
func (s *SQLStore) UpsertPage(ctx context.Context, p *models.Page) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	if p.Platform == "" {
		p.Platform = models.PlatformFacebook
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO pages (page_id, name, platform, access_token, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (page_id) DO UPDATE SET
			name = excluded.name, platform = excluded.platform,
			access_token = excluded.access_token, updated_at = excluded.updated_at`),
		p.PageID, p.Name, string(p.Platform), p.AccessToken, millis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving page: %w", err)
	}
	return nil
}
