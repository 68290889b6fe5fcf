package dbconnecter

import "testing"

func TestConnString(t *testing.T) {
	p := Params{Host: "db", Port: "5432", User: "sip", Password: "p@ss word", DBName: "exchange"}
	want := "postgres://sip:p%40ss%20word@db:5432/exchange?sslmode=disable"
	if got := p.ConnString(); got != want {
		t.Errorf("ConnString() = %q, want %q", got, want)
	}
}
