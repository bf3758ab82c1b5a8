package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/sqlinline"
)

func TestPrepare(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantMarker string
		wantBody   string
		wantErr    bool
	}{
		{
			name:       "tagged",
			query:      "\n--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7\nselect 1;\n",
			wantMarker: "8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7",
			wantBody:   "select 1;",
		},
		{name: "missing marker", query: "select 1;", wantErr: true},
		{name: "uppercase uuid", query: "--sql 8A8E0D52-7F5D-4F21-8B7D-F7D4B821EED7\nselect 1;", wantErr: true},
		{name: "marker only", query: "--sql 8a8e0d52-7f5d-4f21-8b7d-f7d4b821eed7\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := prepare(tt.query)
			if (err != nil) != tt.wantErr {
				t.Fatalf("prepare err = %v, wantErr %v", err, tt.wantErr)
			}
			if got.marker != tt.wantMarker || got.body != tt.wantBody {
				t.Fatalf("prepare = %+v, want marker %q body %q", got, tt.wantMarker, tt.wantBody)
			}
		})
	}
}

func TestInlineQueriesPrepare(t *testing.T) {
	for _, q := range []string{
		sqlinline.QInsertArtifact,
		sqlinline.QListArtifactsByOwner,
		sqlinline.QSelectIntegrationToken,
		sqlinline.QListIntegrationProviders,
		sqlinline.QUpsertIntegrationToken,
		sqlinline.QDeleteIntegrationToken,
	} {
		if _, err := prepare(q); err != nil {
			t.Fatalf("prepare(%.40q): %v", q, err)
		}
	}
}

func TestSQLRunnerRejectsUntaggedQueries(t *testing.T) {
	r := NewSQLRunner(nil, zerolog.Nop())
	ctx := context.Background()
	if _, err := r.Exec(ctx, "delete from artifacts"); !errors.Is(err, ErrSQLMarker) {
		t.Fatalf("exec err = %v, want ErrSQLMarker", err)
	}
	if _, err := r.Query(ctx, "select 1"); !errors.Is(err, ErrSQLMarker) {
		t.Fatalf("query err = %v, want ErrSQLMarker", err)
	}
	var v int
	if err := r.QueryRow(ctx, "select 1").Scan(&v); !errors.Is(err, ErrSQLMarker) {
		t.Fatalf("query row err = %v, want ErrSQLMarker", err)
	}
}

func TestSQLRunnerTimeout(t *testing.T) {
	r := &SQLRunner{QueryTimeout: 5 * time.Second}
	ctx, cancel := r.withTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok || time.Until(deadline) > 5*time.Second {
		t.Fatalf("deadline = %v, %v; want within 5s", deadline, ok)
	}

	r.QueryTimeout = 0
	ctx, cancel = r.withTimeout(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("zero timeout should not set a deadline")
	}
}
