package db

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/marketplace-settlement/internal/domain/valueobject"
)

func TestPendingFiles_SortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0003_notifications.sql", "0001_vendors.sql", "README.md", "0002_escrow.sql"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0000_dir.sql"), 0o700))

	names, err := pendingFiles(dir)

	require.NoError(t, err)
	assert.Equal(t, []string{"0001_vendors.sql", "0002_escrow.sql", "0003_notifications.sql"}, names)
}

func TestPendingFiles_MissingDir(t *testing.T) {
	_, err := pendingFiles(filepath.Join(t.TempDir(), "absent"))

	assert.Error(t, err)
}

func TestMigrations_MoneyColumnsKeepMinorUnits(t *testing.T) {
	numeric := regexp.MustCompile(`^\s*(\w+)\s+NUMERIC\((\d+),\s*(\d+)\)`)
	dir := filepath.Join("..", "..", "migrations")

	names, err := pendingFiles(dir)
	require.NoError(t, err)
	require.NotEmpty(t, names)

	checked := 0
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)

		for _, line := range strings.Split(string(raw), "\n") {
			m := numeric.FindStringSubmatch(line)
			if m == nil || strings.HasSuffix(m[1], "_rate") {
				continue
			}
			scale, err := strconv.Atoi(m[3])
			require.NoError(t, err)
			assert.GreaterOrEqual(t, int32(scale), valueobject.MaxMinorUnitExponent, "%s: %s", name, m[1])
			checked++
		}
	}
	assert.Greater(t, checked, 0)
}
