package session

import (
	"context"

	gocql "github.com/apache/cassandra-gocql-driver/v2"
	"github.com/hatlonely/cqlx/cql/builder"
	"github.com/pkg/errors"
)

var consistencies = map[string]gocql.Consistency{
	"any":         gocql.Any,
	"one":         gocql.One,
	"two":         gocql.Two,
	"three":       gocql.Three,
	"quorum":      gocql.Quorum,
	"all":         gocql.All,
	"localQuorum": gocql.LocalQuorum,
	"eachQuorum":  gocql.EachQuorum,
	"localOne":    gocql.LocalOne,
}

type gocqlDriver struct {
	session *gocql.Session
}

func newGocqlDriver(options *Options) (*gocqlDriver, error) {
	cluster := gocql.NewCluster(options.Hosts...)
	cluster.Port = options.Port
	cluster.Keyspace = options.Keyspace
	cluster.Consistency = consistencies[options.Consistency]
	cluster.Timeout = options.Timeout
	cluster.ConnectTimeout = options.ConnectTimeout
	if options.ProtoVersion != 0 {
		cluster.ProtoVersion = options.ProtoVersion
	}
	if options.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: options.Username,
			Password: options.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, errors.Wrapf(err, "connect %v failed", options.Hosts)
	}
	return &gocqlDriver{session: session}, nil
}

func (d *gocqlDriver) Exec(ctx context.Context, stmt builder.Statement) error {
	return d.session.Query(stmt.CQL, stmt.Values...).ExecContext(ctx)
}

// Query 只读取一页，PageSize 为 0 时读取全部结果
func (d *gocqlDriver) Query(ctx context.Context, stmt builder.Statement) ([]map[string]any, []byte, error) {
	q := d.session.Query(stmt.CQL, stmt.Values...)
	if stmt.PageSize > 0 {
		q = q.PageSize(stmt.PageSize).PageState(stmt.PageState)
	}
	iter := q.IterContext(ctx)

	var rows []map[string]any
	if stmt.PageSize > 0 {
		state := iter.PageState()
		for n := iter.NumRows(); n > 0; n-- {
			row := map[string]any{}
			if !iter.MapScan(row) {
				break
			}
			rows = append(rows, row)
		}
		if err := iter.Close(); err != nil {
			return nil, nil, err
		}
		return rows, state, nil
	}

	for {
		row := map[string]any{}
		if !iter.MapScan(row) {
			break
		}
		rows = append(rows, row)
	}
	if err := iter.Close(); err != nil {
		return nil, nil, err
	}
	return rows, nil, nil
}

func (d *gocqlDriver) Close() {
	d.session.Close()
}
