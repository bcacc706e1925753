package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/class"
	"github.com/trezcool/classboard/core/developer"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
	"github.com/trezcool/classboard/storage/database"
	"github.com/trezcool/classboard/storage/database/inmem"
)

// PrepareDB opens the Postgres database at TEST_DATABASE_URL, migrates it and empties every table.
// The test is skipped when the variable is not set.
func PrepareDB(t *testing.T) *sqlx.DB {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.OpenURL(dbURL)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err = database.Migrate(ctx, db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if _, err = db.ExecContext(ctx, `TRUNCATE "user", class, whiteboard, whiteboard_status_history, developer_app CASCADE`); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// NewValidator returns a validator with every custom validation registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return validate, translator
}

// Repos bundles in-memory repositories sharing one DB.
type Repos struct {
	DB          *inmemdb.DB
	Users       user.Repository
	Classes     class.Repository
	Whiteboards whiteboard.Repository
	Apps        developer.Repository
}

func NewRepos() Repos {
	db := inmemdb.Open()
	return Repos{
		DB:          db,
		Users:       inmemdb.NewUserRepository(db),
		Classes:     inmemdb.NewClassRepository(db),
		Whiteboards: inmemdb.NewWhiteboardRepository(db),
		Apps:        inmemdb.NewAppRepository(db),
	}
}

func CreateUser(t *testing.T, repo user.Repository, username string, roles []string, isActive bool) user.User {
	usr, err := repo.CreateUser(context.Background(), user.User{
		ID:        uuid.New().String(),
		Name:      username,
		Username:  username,
		Email:     username + "@classboard.test",
		IsActive:  isActive,
		Roles:     roles,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateTeacher(t *testing.T, repo user.Repository, username string) user.User {
	return CreateUser(t, repo, username, []string{user.RoleTeacher}, true)
}

func CreateClass(t *testing.T, svc *class.Service, teacherID, name string) class.Class {
	cls, err := svc.Create(context.Background(), teacherID, class.NewClass{Name: name})
	if err != nil {
		t.Fatalf("CreateClass() failed: %v", err)
	}
	return cls
}

func CreateWhiteboard(t *testing.T, svc *whiteboard.Service, classID, name string) whiteboard.Whiteboard {
	wb, err := svc.Create(context.Background(), classID, whiteboard.NewWhiteboard{Name: name})
	if err != nil {
		t.Fatalf("CreateWhiteboard() failed: %v", err)
	}
	return wb
}

// Logger discards everything. It counts errors so tests can assert on them.
type Logger struct {
	mu     sync.Mutex
	errors []string
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) Debug(string, ...interface{}) {}
func (l *Logger) Info(string, ...interface{})  {}
func (l *Logger) Warn(string, ...interface{})  {}
func (l *Logger) Fatal(string, ...interface{}) {}

func (l *Logger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *Logger) Errors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

// Emitted is an event recorded by Emitter.
type Emitted struct {
	Event   string
	Payload interface{}
	Room    string
}

// Emitter records every emitted event.
type Emitter struct {
	mu     sync.Mutex
	events []Emitted
}

func (e *Emitter) Emit(event string, payload interface{}, room string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, Emitted{Event: event, Payload: payload, Room: room})
}

func (e *Emitter) Events() []Emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Emitted(nil), e.events...)
}

func (e *Emitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = nil
}
