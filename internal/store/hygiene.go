package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// DBFileMode is the permission every sqlite file must carry.
const DBFileMode fs.FileMode = 0o600

// dbFiles lists the sqlite database and its WAL and shared-memory files.
func (s *Store) dbFiles() []string {
	return []string{s.path, s.path + "-wal", s.path + "-shm"}
}

// EnsurePermissions restricts the sqlite files to their owner and returns
// the paths it changed. Missing files are skipped; postgres has nothing to
// check.
func (s *Store) EnsurePermissions(ctx context.Context) ([]string, error) {
	if s.dialect != SQLite {
		return nil, nil
	}
	var fixed []string
	for _, p := range s.dbFiles() {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fixed, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.Mode().Perm() == DBFileMode {
			continue
		}
		if err := os.Chmod(p, DBFileMode); err != nil {
			return fixed, fmt.Errorf("chmod %s: %w", p, err)
		}
		s.logger.Warn("tightened database file permissions",
			zap.String("file", p),
			zap.String("was", info.Mode().Perm().String()))
		fixed = append(fixed, p)
	}
	return fixed, nil
}

// WALSize returns the current write-ahead log size in bytes.
func (s *Store) WALSize(ctx context.Context) (int64, error) {
	if s.dialect == Postgres {
		var size int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(size), 0)::bigint FROM pg_ls_waldir()`).Scan(&size); err != nil {
			return 0, fmt.Errorf("wal size: %w", err)
		}
		return size, nil
	}
	info, err := os.Stat(s.path + "-wal")
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wal size: %w", err)
	}
	return info.Size(), nil
}

// Checkpoint flushes the write-ahead log into the main database.
func (s *Store) Checkpoint(ctx context.Context) error {
	stmt := `PRAGMA wal_checkpoint(TRUNCATE)`
	if s.dialect == Postgres {
		stmt = `CHECKPOINT`
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	s.logger.Info("wal checkpoint complete", zap.String("driver", string(s.dialect)))
	return nil
}
