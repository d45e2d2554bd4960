package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/carloslauriano/glomail/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		path := filepath.Join(t.TempDir(), "db", "glomail.db")

		s, err := NewSQLiteStorage(&config.StorageConfig{Path: path})
		require.NoError(t, err)
		require.NoError(t, s.Open())
		t.Cleanup(func() { s.Close() })

		return s
	})
}

func TestSQLiteLostBucketNotListed(t *testing.T) {
	s, err := NewSQLiteStorage(&config.StorageConfig{Path: filepath.Join(t.TempDir(), "glomail.db")})
	require.NoError(t, err)
	require.NoError(t, s.Open())
	defer s.Close()

	require.NoError(t, s.CreateAccount("bob", testPassword))
	require.NoError(t, s.AppendLost("bob", newEmail("bob", 0, "lost")))

	emails, err := s.ListEmails("bob")
	require.NoError(t, err)
	assert.Empty(t, emails)

	var n int
	require.NoError(t, s.(*SQLiteStorage).db.QueryRow("SELECT COUNT(*) FROM emails WHERE owner = ''").Scan(&n))
	assert.Equal(t, 1, n)
}

// Requer GLOMAIL_TEST_POSTGRES_DSN, por exemplo
// "host=localhost user=glomail password=glomail dbname=glomail_test sslmode=disable"
func TestPostgresStorage(t *testing.T) {
	dsn := os.Getenv("GLOMAIL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GLOMAIL_TEST_POSTGRES_DSN não definido")
	}

	runStorageSuite(t, func(t *testing.T) Storage {
		s, err := NewPostgresStorageDSN(dsn)
		require.NoError(t, err)
		require.NoError(t, s.Open())

		// Cada subteste usa nomes de conta próprios
		pg := s.(*PostgresStorage)
		_, err = pg.db.Exec("TRUNCATE accounts, emails")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })

		return s
	})
}

func TestRebind(t *testing.T) {
	s := &sqlStorage{numbered: true}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	s.numbered = false
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}

func TestSQLiteDistinctIDs(t *testing.T) {
	s, err := NewSQLiteStorage(&config.StorageConfig{Path: filepath.Join(t.TempDir(), "glomail.db")})
	require.NoError(t, err)
	require.NoError(t, s.Open())
	defer s.Close()

	require.NoError(t, s.CreateAccount("bob", testPassword))

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		e := newEmail("bob", 0, fmt.Sprintf("n%d", i))
		require.NoError(t, s.AppendEmail("bob", e))
		_, err := uuid.Parse(e.ID[len(e.ID)-36:])
		require.NoError(t, err)
		seen[e.ID] = true
	}
	assert.Len(t, seen, 5)
}
