package feed

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PgSource subscribes to a Postgres NOTIFY channel. Each subscription owns a
// dedicated connection, separate from the query pool, because LISTEN is
// bound to the session that issued it.
type PgSource struct {
	connString string
	channel    string
}

func NewPgSource(connString, channel string) *PgSource {
	return &PgSource{connString: connString, channel: channel}
}

func (s *PgSource) Subscribe(ctx context.Context) (Subscription, error) {
	conn, err := pgx.Connect(ctx, s.connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("listening on %s: %w", s.channel, err)
	}

	return &pgSubscription{conn: conn}, nil
}

type pgSubscription struct {
	conn *pgx.Conn
}

func (p *pgSubscription) Next(ctx context.Context) ([]byte, error) {
	n, err := p.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(n.Payload), nil
}

func (p *pgSubscription) Close(ctx context.Context) error {
	return p.conn.Close(ctx)
}
