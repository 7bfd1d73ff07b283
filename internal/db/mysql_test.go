package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMySQLDSN_ForcesParseTimeAndUTC(t *testing.T) {
	dsn, err := MySQLDSN("recall:secret@tcp(127.0.0.1:3306)/recall")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "multiStatements=true")
	assert.NotContains(t, dsn, "loc=")
}

func TestMySQLDSN_Invalid(t *testing.T) {
	_, err := MySQLDSN("not a dsn")
	assert.Error(t, err)
}
