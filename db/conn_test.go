package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPool_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name       string
		connString string
	}{
		{name: "empty connection string", connString: ""},
		{name: "unparseable connection string", connString: "postgres://%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewPool(context.Background(), tt.connString, PoolOptions{})
			require.Error(t, err)
			require.Nil(t, pool)
		})
	}
}

func TestMigrate_EmptyConnString(t *testing.T) {
	require.Error(t, Migrate(""))
}
