package repository

// Schemas per driver. Every statement is idempotent so Migrate can run on each start.
var schemas = map[string][]string{
	"sqlite": {`
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username VARCHAR(150) NOT NULL UNIQUE,
	password_hash VARCHAR(255) NOT NULL,
	is_staff BOOLEAN NOT NULL DEFAULT 0,
	date_joined DATETIME NOT NULL,
	last_login DATETIME
)`, `
CREATE TABLE IF NOT EXISTS questions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question_text VARCHAR(200) NOT NULL,
	pub_date DATETIME NOT NULL,
	end_date DATETIME
)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_pub_date ON questions(pub_date)`, `
CREATE TABLE IF NOT EXISTS choices (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	choice_text VARCHAR(200) NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_choices_question_id ON choices(question_id)`, `
CREATE TABLE IF NOT EXISTS votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	choice_id INTEGER NOT NULL REFERENCES choices(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (user_id, question_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_choice_id ON votes(choice_id)`, `
CREATE TABLE IF NOT EXISTS vote_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	question_id INTEGER NOT NULL,
	choice_id INTEGER NOT NULL,
	previous_choice_id INTEGER,
	voted_at DATETIME NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_vote_logs_question_id ON vote_logs(question_id)`,
	},

	"mysql": {`
CREATE TABLE IF NOT EXISTS users (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	username VARCHAR(150) NOT NULL UNIQUE,
	password_hash VARCHAR(255) NOT NULL,
	is_staff BOOLEAN NOT NULL DEFAULT FALSE,
	date_joined DATETIME(6) NOT NULL,
	last_login DATETIME(6) NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS questions (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	question_text VARCHAR(200) NOT NULL,
	pub_date DATETIME(6) NOT NULL,
	end_date DATETIME(6) NULL,
	INDEX idx_questions_pub_date (pub_date)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS choices (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	question_id BIGINT NOT NULL,
	choice_text VARCHAR(200) NOT NULL,
	INDEX idx_choices_question_id (question_id),
	FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS votes (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	question_id BIGINT NOT NULL,
	choice_id BIGINT NOT NULL,
	created_at DATETIME(6) NOT NULL,
	updated_at DATETIME(6) NOT NULL,
	UNIQUE KEY uniq_votes_user_question (user_id, question_id),
	INDEX idx_votes_choice_id (choice_id),
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
	FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
	FOREIGN KEY (choice_id) REFERENCES choices(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS vote_logs (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	question_id BIGINT NOT NULL,
	choice_id BIGINT NOT NULL,
	previous_choice_id BIGINT NULL,
	voted_at DATETIME(6) NOT NULL,
	INDEX idx_vote_logs_question_id (question_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},

	"postgres": {`
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username VARCHAR(150) NOT NULL UNIQUE,
	password_hash VARCHAR(255) NOT NULL,
	is_staff BOOLEAN NOT NULL DEFAULT FALSE,
	date_joined TIMESTAMPTZ NOT NULL,
	last_login TIMESTAMPTZ
)`, `
CREATE TABLE IF NOT EXISTS questions (
	id BIGSERIAL PRIMARY KEY,
	question_text VARCHAR(200) NOT NULL,
	pub_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ
)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_pub_date ON questions(pub_date)`, `
CREATE TABLE IF NOT EXISTS choices (
	id BIGSERIAL PRIMARY KEY,
	question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	choice_text VARCHAR(200) NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_choices_question_id ON choices(question_id)`, `
CREATE TABLE IF NOT EXISTS votes (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	choice_id BIGINT NOT NULL REFERENCES choices(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, question_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_choice_id ON votes(choice_id)`, `
CREATE TABLE IF NOT EXISTS vote_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	question_id BIGINT NOT NULL,
	choice_id BIGINT NOT NULL,
	previous_choice_id BIGINT,
	voted_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_vote_logs_question_id ON vote_logs(question_id)`,
	},
}
