package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/t77yq/maintenance-agent/internal/model"
)

const defaultTable = "downtime_detail"

// PostgresSource reads the relational copy of the downtime records. Duration
// columns hold minutes there and are converted back to milliseconds.
type PostgresSource struct {
	logger *zap.Logger
	Pool   *pgxpool.Pool
	table  string
}

// NewPostgresSource connects to dsn and verifies the connection.
func NewPostgresSource(ctx context.Context, logger *zap.Logger, dsn, table string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, model.WrapError(model.KindUpstream, "postgres_source", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, model.WrapError(model.KindUpstream, "postgres_source", fmt.Errorf("failed to ping database: %w", err))
	}
	if table == "" {
		table = defaultTable
	}
	return &PostgresSource{
		logger: logger.Named("postgres_source"),
		Pool:   pool,
		table:  table,
	}, nil
}

func (s *PostgresSource) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *PostgresSource) query() string {
	return `
		SELECT d.id, d.machine_number, d.machine_type, d.machine_make,
			NULLIF(m.purchase_date::text, '')::timestamptz,
			d.mechanic_id, d.mechanic_name, d.reason, d.status, d.production_line_name,
			d.product_category, d.supervisor_name, d.created_at, d.updated_at, d.resolved_at,
			d.total_downtime, d.total_repair_time, d.total_response_time
		FROM ` + s.table + ` d
		LEFT JOIN machines m ON m.machine_number = d.machine_number
		WHERE ($1::timestamptz IS NULL OR d.created_at >= $1)
			AND ($2::timestamptz IS NULL OR d.created_at < $2)
			AND ($3 = '' OR d.status = $3)
			AND ($4 = '' OR d.mechanic_id = $4)
		ORDER BY d.created_at`
}

func (s *PostgresSource) Fetch(ctx context.Context, q Query) ([]model.RawRecord, error) {
	rows, err := s.Pool.Query(ctx, s.query(), optionalTime(q.From), optionalTime(q.To), q.Status, q.MechanicID)
	if err != nil {
		return nil, model.WrapError(model.KindUpstream, "postgres_source", fmt.Errorf("failed to query %s: %w", s.table, err))
	}
	defer rows.Close()

	var records []model.RawRecord
	for rows.Next() {
		var (
			id, machineNumber                                  string
			machineType, machineMake, mechanicID, mechanicName *string
			reason, status, line, category, supervisor         *string
			purchase, createdAt, updatedAt, resolvedAt         *time.Time
			downtime, repair, response                         *float64
		)
		if err := rows.Scan(
			&id, &machineNumber, &machineType, &machineMake, &purchase,
			&mechanicID, &mechanicName, &reason, &status, &line,
			&category, &supervisor, &createdAt, &updatedAt, &resolvedAt,
			&downtime, &repair, &response,
		); err != nil {
			return nil, model.WrapError(model.KindUpstream, "postgres_source", fmt.Errorf("failed to scan row: %w", err))
		}
		records = append(records, model.RawRecord{
			ID:                  id,
			MachineNumber:       machineNumber,
			MachineType:         deref(machineType),
			MachineMake:         deref(machineMake),
			MachinePurchaseDate: timestamp(purchase),
			MechanicID:          deref(mechanicID),
			MechanicName:        deref(mechanicName),
			Reason:              deref(reason),
			Status:              deref(status),
			ProductionLine:      deref(line),
			ProductCategory:     deref(category),
			Supervisor:          deref(supervisor),
			CreatedAt:           timestamp(createdAt),
			UpdatedAt:           timestamp(updatedAt),
			ResolvedAt:          timestamp(resolvedAt),
			TotalDowntime:       minutesToMillis(downtime),
			TotalRepairTime:     minutesToMillis(repair),
			TotalResponseTime:   minutesToMillis(response),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, model.WrapError(model.KindUpstream, "postgres_source", err)
	}

	s.logger.Debug("Fetched records", zap.String("table", s.table), zap.Int("count", len(records)))
	if len(records) == 0 {
		return nil, model.NewError(model.KindNoData, "postgres_source", "no records in %s for the requested window", s.table)
	}
	return records, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timestamp(t *time.Time) model.Timestamp {
	if t == nil {
		return model.Timestamp{}
	}
	return model.Timestamp{Time: t.UTC()}
}

func minutesToMillis(v *float64) model.Number {
	if v == nil {
		return model.Number{}
	}
	return model.NewNumber(*v * 60000)
}
