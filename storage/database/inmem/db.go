// Package inmemdb keeps every table in memory behind a single lock.
// It backs the `memory` database engine and the unit tests.
package inmemdb

import (
	"sync"

	"github.com/trezcool/classboard/core/class"
	"github.com/trezcool/classboard/core/developer"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
)

type DB struct {
	mutex sync.RWMutex

	users       map[string]*user.User
	classes     map[string]*class.Class
	whiteboards map[string]*whiteboard.Whiteboard
	history     []whiteboard.StatusHistory
	historySeq  int64
	apps        map[string]*developer.App // by app_id
}

func Open() *DB {
	return &DB{
		users:       make(map[string]*user.User),
		classes:     make(map[string]*class.Class),
		whiteboards: make(map[string]*whiteboard.Whiteboard),
		apps:        make(map[string]*developer.App),
	}
}
