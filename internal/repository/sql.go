package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/logging"
	"github.com/lvdashuaibi/pollbox/internal/model"
)

const (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.Sentinel("record not found")
	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.Sentinel("record already exists")
)

var logger = logging.For("repository")

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type SQLRepository struct {
	driver   string
	masterDB *sqlx.DB
	slaveDB  *sqlx.DB
}

func NewSQLRepository(cfg config.DatabaseConfig) (*SQLRepository, error) {
	masterDB, err := openDB(cfg, cfg.Master)
	if err != nil {
		return nil, errors.WrapIf(err, "failed to connect to master database")
	}

	slaveDB := masterDB
	if cfg.Slave != "" {
		slaveDB, err = openDB(cfg, cfg.Slave)
		if err != nil {
			logger.WithError(err).Warn("replica database unavailable, reading from master")
			slaveDB = masterDB
		}
	}

	return &SQLRepository{
		driver:   cfg.Driver,
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}, nil
}

func openDB(cfg config.DatabaseConfig, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "sqlite" {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.WrapIf(err, "ping failed")
	}

	return db, nil
}

// Driver reports the configured SQL dialect.
func (r *SQLRepository) Driver() string {
	return r.driver
}

// Migrate creates the schema. Safe to run repeatedly.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	stmts, ok := schemas[r.driver]
	if !ok {
		return errors.Errorf("no schema for driver %q", r.driver)
	}

	for _, stmt := range stmts {
		if _, err := r.masterDB.ExecContext(ctx, stmt); err != nil {
			return errors.WrapIfWithDetails(err, "failed to apply schema", "statement", firstLine(stmt))
		}
	}

	logger.WithField("driver", r.driver).Info("schema is up to date")
	return nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.masterDB.PingContext(ctx)
}

// insert runs an INSERT and returns the generated id.
func (r *SQLRepository) insert(ctx context.Context, ext sqlx.ExtContext, query string, args ...interface{}) (int64, error) {
	if r.driver == "postgres" {
		var id int64
		err := ext.QueryRowxContext(ctx, r.masterDB.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}

	res, err := ext.ExecContext(ctx, r.masterDB.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateQuestion stores q and sets its ID.
func (r *SQLRepository) CreateQuestion(ctx context.Context, q *model.Question) error {
	q.PubDate = dbTime(q.PubDate)
	q.EndDate = dbTimePtr(q.EndDate)

	id, err := r.insert(ctx, r.masterDB,
		"INSERT INTO questions (question_text, pub_date, end_date) VALUES (?, ?, ?)",
		q.QuestionText, q.PubDate, q.EndDate)
	if err != nil {
		return errors.WrapIf(err, "failed to create question")
	}

	q.ID = id
	return nil
}

func (r *SQLRepository) UpdateQuestion(ctx context.Context, q *model.Question) error {
	q.PubDate = dbTime(q.PubDate)
	q.EndDate = dbTimePtr(q.EndDate)

	res, err := r.masterDB.ExecContext(ctx,
		r.masterDB.Rebind("UPDATE questions SET question_text = ?, pub_date = ?, end_date = ? WHERE id = ?"),
		q.QuestionText, q.PubDate, q.EndDate, q.ID)
	if err != nil {
		return errors.WrapIf(err, "failed to update question")
	}

	return mustAffect(res, "question")
}

// DeleteQuestion removes the question with its choices, votes and vote logs.
func (r *SQLRepository) DeleteQuestion(ctx context.Context, id int64) error {
	tx, err := r.masterDB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapIf(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, table := range []string{"vote_logs", "votes", "choices"} {
		if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM "+table+" WHERE question_id = ?"), id); err != nil {
			return errors.WrapIfWithDetails(err, "failed to delete question rows", "table", table)
		}
	}

	res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM questions WHERE id = ?"), id)
	if err != nil {
		return errors.WrapIf(err, "failed to delete question")
	}
	if err := mustAffect(res, "question"); err != nil {
		return err
	}

	return errors.WrapIf(tx.Commit(), "failed to commit transaction")
}

func (r *SQLRepository) GetQuestion(ctx context.Context, id int64) (*model.Question, error) {
	var q model.Question
	err := r.slaveDB.GetContext(ctx, &q,
		r.slaveDB.Rebind("SELECT id, question_text, pub_date, end_date FROM questions WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithDetails(ErrNotFound, "question", id)
		}
		return nil, errors.WrapIf(err, "failed to get question")
	}

	return &q, nil
}

// ListQuestions returns every question, newest first.
func (r *SQLRepository) ListQuestions(ctx context.Context) ([]*model.Question, error) {
	var questions []*model.Question
	err := r.slaveDB.SelectContext(ctx, &questions,
		"SELECT id, question_text, pub_date, end_date FROM questions ORDER BY pub_date DESC, id DESC")
	if err != nil {
		return nil, errors.WrapIf(err, "failed to list questions")
	}

	return questions, nil
}

// ListPublishedQuestions returns at most limit questions published at or before now, newest first.
func (r *SQLRepository) ListPublishedQuestions(ctx context.Context, now time.Time, limit int) ([]*model.Question, error) {
	var questions []*model.Question
	err := r.slaveDB.SelectContext(ctx, &questions,
		r.slaveDB.Rebind(`SELECT id, question_text, pub_date, end_date FROM questions
			WHERE pub_date <= ? ORDER BY pub_date DESC, id DESC LIMIT ?`),
		dbTime(now), limit)
	if err != nil {
		return nil, errors.WrapIf(err, "failed to list published questions")
	}

	return questions, nil
}

// CreateChoice stores c and sets its ID.
func (r *SQLRepository) CreateChoice(ctx context.Context, c *model.Choice) error {
	id, err := r.insert(ctx, r.masterDB,
		"INSERT INTO choices (question_id, choice_text) VALUES (?, ?)",
		c.QuestionID, c.ChoiceText)
	if err != nil {
		return errors.WrapIf(err, "failed to create choice")
	}

	c.ID = id
	return nil
}

func (r *SQLRepository) UpdateChoiceText(ctx context.Context, id int64, text string) error {
	res, err := r.masterDB.ExecContext(ctx,
		r.masterDB.Rebind("UPDATE choices SET choice_text = ? WHERE id = ?"), text, id)
	if err != nil {
		return errors.WrapIf(err, "failed to update choice")
	}

	return mustAffect(res, "choice")
}

// DeleteChoice removes the choice and the votes cast for it.
func (r *SQLRepository) DeleteChoice(ctx context.Context, id int64) error {
	tx, err := r.masterDB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapIf(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM votes WHERE choice_id = ?"), id); err != nil {
		return errors.WrapIf(err, "failed to delete votes of choice")
	}

	res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM choices WHERE id = ?"), id)
	if err != nil {
		return errors.WrapIf(err, "failed to delete choice")
	}
	if err := mustAffect(res, "choice"); err != nil {
		return err
	}

	return errors.WrapIf(tx.Commit(), "failed to commit transaction")
}

// GetChoice returns the choice only when it belongs to questionID.
func (r *SQLRepository) GetChoice(ctx context.Context, questionID, choiceID int64) (*model.Choice, error) {
	var c model.Choice
	err := r.slaveDB.GetContext(ctx, &c,
		r.slaveDB.Rebind(`SELECT c.id, c.question_id, c.choice_text,
			(SELECT COUNT(*) FROM votes v WHERE v.choice_id = c.id) AS votes
			FROM choices c WHERE c.id = ? AND c.question_id = ?`),
		choiceID, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithDetails(ErrNotFound, "question", questionID, "choice", choiceID)
		}
		return nil, errors.WrapIf(err, "failed to get choice")
	}

	return &c, nil
}

// ListChoices returns the choices of a question in creation order with their vote counts.
func (r *SQLRepository) ListChoices(ctx context.Context, questionID int64) ([]*model.Choice, error) {
	var choices []*model.Choice
	err := r.slaveDB.SelectContext(ctx, &choices,
		r.slaveDB.Rebind(`SELECT c.id, c.question_id, c.choice_text, COUNT(v.id) AS votes
			FROM choices c LEFT JOIN votes v ON v.choice_id = c.id
			WHERE c.question_id = ?
			GROUP BY c.id, c.question_id, c.choice_text
			ORDER BY c.id`),
		questionID)
	if err != nil {
		return nil, errors.WrapIf(err, "failed to list choices")
	}

	return choices, nil
}

// GetUserVote returns ErrNotFound when the user has not voted on the question.
func (r *SQLRepository) GetUserVote(ctx context.Context, userID, questionID int64) (*model.Vote, error) {
	var v model.Vote
	err := r.masterDB.GetContext(ctx, &v,
		r.masterDB.Rebind(`SELECT id, user_id, question_id, choice_id, created_at, updated_at
			FROM votes WHERE user_id = ? AND question_id = ?`),
		userID, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithDetails(ErrNotFound, "user", userID, "question", questionID)
		}
		return nil, errors.WrapIf(err, "failed to get vote")
	}

	return &v, nil
}

// SaveVote records the user's choice for a question, replacing an earlier one.
// It returns the replaced choice id, or 0 for a first vote.
func (r *SQLRepository) SaveVote(ctx context.Context, userID, questionID, choiceID int64, at time.Time) (int64, error) {
	at = dbTime(at)

	tx, err := r.masterDB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.WrapIf(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := "SELECT id, choice_id FROM votes WHERE user_id = ? AND question_id = ?"
	if r.driver != "sqlite" {
		query += " FOR UPDATE"
	}

	var existing struct {
		ID       int64 `db:"id"`
		ChoiceID int64 `db:"choice_id"`
	}
	var previous int64

	err = tx.GetContext(ctx, &existing, tx.Rebind(query), userID, questionID)
	switch {
	case err == nil:
		previous = existing.ChoiceID
		_, err = tx.ExecContext(ctx,
			tx.Rebind("UPDATE votes SET choice_id = ?, updated_at = ? WHERE id = ?"),
			choiceID, at, existing.ID)
		if err != nil {
			return 0, errors.WrapIf(err, "failed to update vote")
		}
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.insert(ctx, tx,
			"INSERT INTO votes (user_id, question_id, choice_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			userID, questionID, choiceID, at, at)
		if err != nil {
			if isUniqueViolation(err) {
				return 0, errors.WithDetails(ErrDuplicate, "user", userID, "question", questionID)
			}
			return 0, errors.WrapIf(err, "failed to insert vote")
		}
	default:
		return 0, errors.WrapIf(err, "failed to look up vote")
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.WrapIf(err, "failed to commit transaction")
	}

	return previous, nil
}

// CountVotes returns the number of users who voted on the question.
func (r *SQLRepository) CountVotes(ctx context.Context, questionID int64) (int, error) {
	var n int
	err := r.slaveDB.GetContext(ctx, &n,
		r.slaveDB.Rebind("SELECT COUNT(*) FROM votes WHERE question_id = ?"), questionID)
	if err != nil {
		return 0, errors.WrapIf(err, "failed to count votes")
	}

	return n, nil
}

func (r *SQLRepository) InsertVoteLog(ctx context.Context, l *model.VoteLog) error {
	l.VotedAt = dbTime(l.VotedAt)

	id, err := r.insert(ctx, r.masterDB,
		`INSERT INTO vote_logs (user_id, question_id, choice_id, previous_choice_id, voted_at)
			VALUES (?, ?, ?, ?, ?)`,
		l.UserID, l.QuestionID, l.ChoiceID, l.PreviousChoiceID, l.VotedAt)
	if err != nil {
		return errors.WrapIf(err, "failed to insert vote log")
	}

	l.ID = id
	return nil
}

func (r *SQLRepository) ListVoteLogs(ctx context.Context, questionID int64) ([]*model.VoteLog, error) {
	var logs []*model.VoteLog
	err := r.slaveDB.SelectContext(ctx, &logs,
		r.slaveDB.Rebind(`SELECT id, user_id, question_id, choice_id, previous_choice_id, voted_at
			FROM vote_logs WHERE question_id = ? ORDER BY id`),
		questionID)
	if err != nil {
		return nil, errors.WrapIf(err, "failed to list vote logs")
	}

	return logs, nil
}

// CreateUser stores u and sets its ID. A taken username yields ErrDuplicate.
func (r *SQLRepository) CreateUser(ctx context.Context, u *model.User) error {
	u.DateJoined = dbTime(u.DateJoined)

	id, err := r.insert(ctx, r.masterDB,
		"INSERT INTO users (username, password_hash, is_staff, date_joined) VALUES (?, ?, ?, ?)",
		u.Username, u.PasswordHash, u.IsStaff, u.DateJoined)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.WithDetails(ErrDuplicate, "username", u.Username)
		}
		return errors.WrapIf(err, "failed to create user")
	}

	u.ID = id
	return nil
}

func (r *SQLRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getUser(ctx, "id", id)
}

func (r *SQLRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getUser(ctx, "username", username)
}

func (r *SQLRepository) getUser(ctx context.Context, column string, value interface{}) (*model.User, error) {
	var u model.User
	err := r.masterDB.GetContext(ctx, &u,
		r.masterDB.Rebind(`SELECT id, username, password_hash, is_staff, date_joined, last_login
			FROM users WHERE `+column+` = ?`),
		value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.WithDetails(ErrNotFound, column, value)
		}
		return nil, errors.WrapIf(err, "failed to get user")
	}

	return &u, nil
}

func (r *SQLRepository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := r.masterDB.ExecContext(ctx,
		r.masterDB.Rebind("UPDATE users SET last_login = ? WHERE id = ?"), dbTime(at), id)
	return errors.WrapIf(err, "failed to update last login")
}

// Close releases both pools.
func (r *SQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}

func mustAffect(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapIf(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.WithDetails(ErrNotFound, "entity", what)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// dbTime stores every timestamp in UTC at microsecond precision, the finest all drivers keep.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func dbTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := dbTime(*t)
	return &v
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
