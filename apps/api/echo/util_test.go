package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/classboard/apps/api/echo"
	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/auth"
	"github.com/trezcool/classboard/core/class"
	"github.com/trezcool/classboard/core/developer"
	"github.com/trezcool/classboard/core/presence"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
	"github.com/trezcool/classboard/services/notify"
	testutil "github.com/trezcool/classboard/tests"
)

var errAuthFailed = httpErr{Error: "authentication failed"}

type fixture struct {
	srv         *echoapi.Server
	conf        *core.Config
	repos       testutil.Repos
	sessions    *auth.Sessions
	emitter     *testutil.Emitter
	hub         *notify.Hub
	users       *user.Service
	classes     *class.Service
	whiteboards *whiteboard.Service
	apps        *developer.Service
}

// setup builds a server on in-memory repositories. Presence events go to the hub when
// useHub is set, and to a recording emitter otherwise.
func setup(t *testing.T, useHub ...bool) *fixture {
	conf := core.NewTestConfig()
	logger := new(testutil.Logger)
	validate, translator := testutil.NewValidator()

	f := &fixture{
		conf:     conf,
		repos:    testutil.NewRepos(),
		sessions: auth.NewSessions(conf),
		emitter:  new(testutil.Emitter),
		hub:      notify.NewHub(logger),
	}
	f.users = user.NewService(f.repos.Users)
	f.classes = class.NewService(f.repos.Classes, conf)
	f.whiteboards = whiteboard.NewService(f.repos.Whiteboards, conf)
	f.apps = developer.NewService(f.repos.Apps, conf)

	var emitter presence.Emitter = f.emitter
	if len(useHub) > 0 && useHub[0] {
		emitter = f.hub
	}
	tracker := presence.NewTracker(f.repos.Whiteboards, emitter, logger, conf)

	f.srv = echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		Gate:          auth.NewGate(f.users, f.whiteboards, f.apps),
		Sessions:      f.sessions,
		Tracker:       tracker,
		Hub:           f.hub,
		UserSvc:       f.users,
		ClassSvc:      f.classes,
		WhiteboardSvc: f.whiteboards,
		DeveloperSvc:  f.apps,
	})
	return f
}

// board creates a teacher owning one class with one whiteboard.
func (f *fixture) board(t *testing.T, teacherName string) (user.User, whiteboard.Whiteboard) {
	teacher := testutil.CreateTeacher(t, f.repos.Users, teacherName)
	cls := testutil.CreateClass(t, f.classes, teacher.ID, "Class of "+teacherName)
	wb := testutil.CreateWhiteboard(t, f.whiteboards, cls.ID, "Board of "+teacherName)
	return teacher, wb
}

func (f *fixture) userToken(t *testing.T, usr user.User) string {
	issued, err := f.users.GenerateToken(context.Background(), usr)
	require.NoError(t, err)
	return issued.Token
}

func (f *fixture) session(t *testing.T, usr user.User) string {
	token, err := f.sessions.Issue(usr)
	require.NoError(t, err)
	return token
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	headers  map[string]string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newRequest(method, path string, data ...[]byte) *http.Request {
	return newAuthRequest(method, path, "", data...)
}

func boardRequest(method, path string, wb whiteboard.Whiteboard) *http.Request {
	req := newRequest(method, path)
	req.Header.Set(echoapi.HeaderBoardID, wb.BoardID)
	req.Header.Set(echoapi.HeaderSecretKey, wb.SecretKey)
	return req
}

func (tt httpTest) request() *http.Request {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req := newAuthRequest(method, tt.path, tt.token, tt.body)
	for k, v := range tt.headers {
		req.Header.Set(k, v)
	}
	return req
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, f *fixture, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, f.serve(tt.request()))
		})
	}
}
