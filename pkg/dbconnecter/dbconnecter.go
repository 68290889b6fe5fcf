package dbconnecter

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type DbCloser func()

type Params struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

func (p Params) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// DbConnecter opens a postgres pool and pings it, retrying up to retry more
// times with a one second pause. defaultDB connects to the maintenance
// database instead of p.DBName.
func DbConnecter(p Params, defaultDB bool, retry int) (*sql.DB, DbCloser, error) {
	if defaultDB {
		p.DBName = "postgres"
	}

	db, err := sql.Open("postgres", p.ConnString())
	if err != nil {
		return nil, func() {}, err
	}
	closer := func() {
		_ = db.Close()
	}

	for attempt := 0; ; attempt++ {
		err = db.Ping()
		if err == nil {
			return db, closer, nil
		}
		if attempt >= retry {
			closer()
			return nil, func() {}, fmt.Errorf("postgres %s:%s/%s: %w", p.Host, p.Port, p.DBName, err)
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("[DB] ping failed, retrying")
		time.Sleep(time.Second)
	}
}
