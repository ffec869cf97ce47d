package redisconn

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCatalog(t *testing.T) {
	tests := []struct {
		catalog string
		def     int
		want    int
		wantErr bool
	}{
		{catalog: "", def: 3, want: 3},
		{catalog: "0", def: 3, want: 0},
		{catalog: "15", want: 15},
		{catalog: "sales", wantErr: true},
		{catalog: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.catalog, func(t *testing.T) {
			got, err := ParseCatalog(tt.catalog, tt.def)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect("http://localhost:6379")
	assert.Error(t, err)
}

func TestProvider_UnreachableServer(t *testing.T) {
	p := NewProvider(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
	defer p.Close()

	_, err := p.Open(context.Background())
	assert.Error(t, err)
}
