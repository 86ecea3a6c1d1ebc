package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promoterhub/promoterhub/internal/platform/database"
)

const eventColumns = "id, tenant_id, actor_id, target_id, action, change, source, created_at"

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// Insert writes a single event.
func (s *Store) Insert(ctx context.Context, db database.Querier, event Event) error {
	return s.InsertBatch(ctx, db, []Event{event})
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

// buildBatchInsert constructs a multi-row INSERT statement. Events without
// an id or timestamp get one here.
func buildBatchInsert(events []Event) (string, []any, error) {
	const width = 8
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*width)

	for i, e := range events {
		base := i * width
		ph := make([]string, width)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")

		var changeJSON []byte
		if e.Change != nil {
			var err error
			changeJSON, err = json.Marshal(e.Change)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling change: %w", err)
			}
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		if e.Source == "" {
			e.Source = "api"
		}

		args = append(args, e.ID, e.TenantID, e.ActorID, e.TargetID, e.Action, changeJSON, e.Source, e.CreatedAt)
	}

	sql := fmt.Sprintf("INSERT INTO audit_events (%s) VALUES %s", eventColumns, strings.Join(placeholders, ", "))
	return sql, args, nil
}

// ListEventsParams defines filters for querying audit events. An empty
// TenantID lists every tenant.
type ListEventsParams struct {
	TenantID string
	Action   *string
	ActorID  *string
	TargetID *string
	Source   *string
	After    *time.Time
	Before   *time.Time
	Limit    int
}

// List returns events matching p, newest first.
func (s *Store) List(ctx context.Context, db database.Querier, p ListEventsParams) ([]Event, error) {
	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e      Event
			change []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ActorID, &e.TargetID, &e.Action, &change, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		if len(change) > 0 {
			if err := json.Unmarshal(change, &e.Change); err != nil {
				return nil, fmt.Errorf("decoding change for %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return events, nil
}

// buildListQuery constructs a parameterized SELECT for audit events.
func buildListQuery(p ListEventsParams) (string, []any) {
	var conditions []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if p.TenantID != "" {
		add("tenant_id = $%d", p.TenantID)
	}
	if p.Action != nil {
		add("action = $%d", *p.Action)
	}
	if p.ActorID != nil {
		add("actor_id = $%d", *p.ActorID)
	}
	if p.TargetID != nil {
		add("target_id = $%d", *p.TargetID)
	}
	if p.Source != nil {
		add("source = $%d", *p.Source)
	}
	if p.After != nil {
		add("created_at > $%d", *p.After)
	}
	if p.Before != nil {
		add("created_at < $%d", *p.Before)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, p.Limit)
	sql := fmt.Sprintf(
		`SELECT %s
		FROM audit_events
		%s
		ORDER BY created_at DESC
		LIMIT $%d`,
		eventColumns, where, len(args),
	)
	return sql, args
}

// PostgresSink records events synchronously. When ctx carries a transaction
// (database.WithTx), the insert joins it, so a failed insert rolls back the
// mutation it describes.
type PostgresSink struct {
	db    database.Querier
	store *Store
}

func NewPostgresSink(db database.Querier) *PostgresSink {
	return &PostgresSink{db: db, store: NewStore()}
}

func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	return s.store.Insert(ctx, database.QuerierFrom(ctx, s.db), event)
}
