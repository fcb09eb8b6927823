package devserver

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Coding-Lml/love-space/cmd/identity/ids"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when LOVECHAT_DATABASE_URL is set.

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("LOVECHAT_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: LOVECHAT_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewDBPool(ctx, raw, 4)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func mustNewTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	pool := mustOpenTestPool(t)
	schema := "lovechat_it_" + strings.ToLower(ids.MustULID()[16:])

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})
	return st
}

func TestPostgresStore_AppendHistoryMarkRead(t *testing.T) {
	t.Parallel()

	st := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	appendN(t, st, 3, ann, bo)
	media, err := st.Append(ctx, AppendInput{
		FromUserID: bo, ToUserID: ann, Type: v1.TypeVoice,
		MediaURL: "https://x/v.ogg", Extra: json.RawMessage(`{"duration": 3}`),
	})
	if err != nil {
		t.Fatalf("Append media: %v", err)
	}

	page, err := st.History(ctx, HistoryQuery{UserID: ann, PartnerID: bo, Size: 2})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page) != 2 || page[1].ID != media.ID || page[0].ID >= page[1].ID {
		t.Fatalf("newest page got=%v", msgIDs(page))
	}
	var extra map[string]int
	if err := json.Unmarshal(page[1].Extra, &extra); err != nil || extra["duration"] != 3 {
		t.Fatalf("extra got=%s err=%v", page[1].Extra, err)
	}

	older, err := st.History(ctx, HistoryQuery{UserID: bo, PartnerID: ann, BeforeID: page[0].ID, Size: 10})
	if err != nil || len(older) != 2 {
		t.Fatalf("older page got=%v err=%v", msgIDs(older), err)
	}

	read, err := st.MarkRead(ctx, bo, ann)
	if err != nil || len(read) != 3 {
		t.Fatalf("MarkRead got=%v err=%v", read, err)
	}
	if again, _ := st.MarkRead(ctx, bo, ann); len(again) != 0 {
		t.Fatalf("second MarkRead got=%v", again)
	}
}

func TestWithSchema_RejectsBadIdentifier(t *testing.T) {
	t.Parallel()

	st := &PostgresStore{}
	for _, bad := range []string{"", "  ", "1abc", "a;drop"} {
		if err := WithSchema(bad)(st); err == nil {
			t.Fatalf("WithSchema(%q) accepted", bad)
		}
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("nil pool accepted")
	}
}
