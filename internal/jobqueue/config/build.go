package config

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/taskforge/internal/jobqueue/events"
	"github.com/yungbote/taskforge/internal/jobqueue/queue"
	"github.com/yungbote/taskforge/internal/jobqueue/ratelimit"
	"github.com/yungbote/taskforge/internal/jobqueue/ratelimit/sqlledger"
	"github.com/yungbote/taskforge/internal/jobqueue/store"
	"github.com/yungbote/taskforge/internal/jobqueue/store/badgerstore"
	"github.com/yungbote/taskforge/internal/jobqueue/store/memory"
	"github.com/yungbote/taskforge/internal/jobqueue/store/sqlstore"
	"github.com/yungbote/taskforge/internal/platform/logger"
)

// BuildRegistry constructs a queue.Registry from a parsed Topology,
// building the backend and limiter named by each QueueSpec. It is the
// single place a configured queues.yaml becomes live objects, mirroring
// the reference stack's app.New wiring a LoadConfig result into concrete
// clients/services.
func BuildRegistry(t *Topology, bus *events.Bus, log *logger.Logger) (*queue.Registry, error) {
	reg := queue.NewRegistry()
	for _, qs := range t.Queues {
		st, err := buildStore(qs.Backend)
		if err != nil {
			return nil, fmt.Errorf("queue %q: %w", qs.Name, err)
		}
		lim, err := buildLimiter(qs.Limiter, qs.Name, qs.Backend)
		if err != nil {
			return nil, fmt.Errorf("queue %q: %w", qs.Name, err)
		}
		q := queue.New(queue.Options{
			Name:         qs.Name,
			Store:        st,
			Limiter:      lim,
			Bus:          bus,
			Log:          log,
			WaitDuration: qs.Wait,
		})
		if err := reg.RegisterQueue(q); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildStore(spec BackendSpec) (store.Store, error) {
	switch spec.Kind {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(sqlstore.ImmediateDSN(spec.DSN)), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlstore.NewSQLite(db)
	case "postgres":
		db, err := gorm.Open(postgres.Open(spec.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return sqlstore.NewPostgres(db)
	case "badger":
		return badgerstore.Open(spec.DSN)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", spec.Kind)
	}
}

func buildLimiter(spec LimiterSpec, queueName string, backend BackendSpec) (ratelimit.Limiter, error) {
	switch spec.Kind {
	case "", "concurrency":
		return ratelimit.NewConcurrencyLimiter(spec.MaxConcurrent, spec.WindowN, spec.WindowPeriod), nil
	case "stored":
		ledger, err := buildLedger(spec.Ledger, queueName, backend)
		if err != nil {
			return nil, err
		}
		return ratelimit.NewStoredRateLimiter(ledger, spec.MaxConcurrent, spec.WindowN, spec.WindowPeriod), nil
	default:
		return nil, fmt.Errorf("unknown limiter kind %q", spec.Kind)
	}
}

// buildLedger opens the SQL ledger against the same driver as the
// owning queue's JobStore backend, so a "sql" ledger always lands in
// the same database the queue itself is using rather than silently
// opening an unrelated SQLite file next to a Postgres-backed queue.
func buildLedger(spec LedgerSpec, queueName string, backend BackendSpec) (ratelimit.Ledger, error) {
	switch spec.Kind {
	case "sql":
		dsn := spec.DSN
		if dsn == "" {
			dsn = backend.DSN
		}
		dialectKind := backend.Kind
		if dialectKind != "postgres" && dialectKind != "sqlite" {
			return nil, fmt.Errorf("ledger kind \"sql\" requires backend.kind postgres or sqlite, got %q", backend.Kind)
		}
		var dialector gorm.Dialector
		if dialectKind == "postgres" {
			dialector = postgres.Open(dsn)
		} else {
			dialector = sqlite.Open(sqlstore.ImmediateDSN(dsn))
		}
		db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
		if err != nil {
			return nil, fmt.Errorf("open ledger %s: %w", dialectKind, err)
		}
		return sqlledger.New(db, queueName)
	default:
		return nil, fmt.Errorf("unknown ledger kind %q (want \"sql\"; redis ledgers are wired directly via redisledger.New)", spec.Kind)
	}
}
