package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/discover-agent/internal/api/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverCursor_RoundTrip(t *testing.T) {
	cursor := &storage.DiscoverCursor{
		CreatedAt: time.Date(2024, 5, 1, 12, 30, 0, 123456000, time.UTC),
		ID:        "3c4d5e6f-7a8b-4c9d-8e0f-1a2b3c4d5e6f",
	}

	decoded, err := DecodeDiscoverCursor(EncodeDiscoverCursor(cursor))
	require.NoError(t, err)
	require.NotNil(t, decoded)

	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, cursor.ID, decoded.ID)
}

func TestDecodeDiscoverCursor(t *testing.T) {
	encode := func(s string) string {
		return base64.URLEncoding.EncodeToString([]byte(s))
	}

	tests := []struct {
		name    string
		cursor  string
		wantNil bool
		wantErr bool
	}{
		{name: "empty cursor", cursor: "", wantNil: true},
		{name: "not base64", cursor: "not-base64!", wantErr: true},
		{name: "missing separator", cursor: encode("12345"), wantErr: true},
		{name: "bad timestamp", cursor: encode("yesterday|3c4d5e6f-7a8b-4c9d-8e0f-1a2b3c4d5e6f"), wantErr: true},
		{name: "bad id", cursor: encode("12345|not-an-id"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDiscoverCursor(tt.cursor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
			}
		})
	}
}
