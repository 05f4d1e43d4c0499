package trace

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

const (
	TblRounds  = "hdmrrounds"
	TblIndices = "hdmrindices"
	TblEvents  = "hdmrevents"
)

// DBSink stores records and events in sqlite tables.  Per-subset values go
// to TblIndices with kind "S" for Sobol indices, "F" for frontier estimates
// and "V" for the total variance.
type DBSink struct {
	Db   *sql.DB
	owns bool
}

// NewDB creates the trace tables in db if they do not exist.
func NewDB(db *sql.DB) (*DBSink, error) {
	d := &DBSink{Db: db}
	if err := d.initdb(); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenDB opens (or creates) the sqlite database at path.
func OpenDB(path string) (*DBSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	d, err := NewDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	d.owns = true
	return d, nil
}

func (d *DBSink) initdb() error {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + TblRounds + " (run TEXT,round INTEGER,state TEXT,active INTEGER,subsets INTEGER,samples INTEGER,max REAL,verdict TEXT);",
		"CREATE TABLE IF NOT EXISTS " + TblIndices + " (run TEXT,round INTEGER,kind TEXT,key TEXT,output INTEGER,value REAL);",
		"CREATE TABLE IF NOT EXISTS " + TblEvents + " (run TEXT,round INTEGER,state TEXT,kind TEXT,subset TEXT,degrees TEXT,detail TEXT);",
	}
	for _, s := range stmts {
		if _, err := d.Db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *DBSink) Round(r Record) error {
	tx, err := d.Db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s1 := "INSERT INTO " + TblRounds + " (run,round,state,active,subsets,samples,max,verdict) VALUES (?,?,?,?,?,?,?,?);"
	if _, err := tx.Exec(s1, r.Run, r.Round, r.State, r.Active, r.Subsets, r.Samples, r.Max, r.Verdict); err != nil {
		return err
	}

	s2 := "INSERT INTO " + TblIndices + " (run,round,kind,key,output,value) VALUES (?,?,?,?,?,?);"
	insert := func(kind string, e Entry) error {
		for o, v := range e.Values {
			if _, err := tx.Exec(s2, r.Run, r.Round, kind, e.Key, o, v); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert("V", Entry{Values: r.Total}); err != nil {
		return err
	}
	for _, e := range r.Indices {
		if err := insert("S", e); err != nil {
			return err
		}
	}
	for _, e := range r.Frontier {
		if err := insert("F", e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *DBSink) Event(e Event) error {
	s := "INSERT INTO " + TblEvents + " (run,round,state,kind,subset,degrees,detail) VALUES (?,?,?,?,?,?,?);"
	_, err := d.Db.Exec(s, e.Run, e.Round, e.State, e.Kind, e.Subset, itoas(e.Degrees), e.Detail)
	return err
}

// Close closes the database if it was opened by OpenDB.
func (d *DBSink) Close() error {
	if !d.owns {
		return nil
	}
	return d.Db.Close()
}
