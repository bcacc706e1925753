package echoapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/classboard/apps/api/echo"
	"github.com/trezcool/classboard/core/class"
	"github.com/trezcool/classboard/core/credential"
	"github.com/trezcool/classboard/core/user"
	"github.com/trezcool/classboard/core/whiteboard"
	testutil "github.com/trezcool/classboard/tests"
)

func TestDashboardAPI_access(t *testing.T) {
	f := setup(t)
	teacher, wb := f.board(t, "teacher")
	_, other := f.board(t, "other")
	student := testutil.CreateUser(t, f.repos.Users, "student", []string{user.RoleStudent}, true)
	inactive := testutil.CreateUser(t, f.repos.Users, "inactive", []string{user.RoleTeacher}, false)

	session := f.session(t, teacher)
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	tests := []httpTest{
		{name: "no session", path: "/api/v1/whiteboards", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errAuthFailed)},
		{name: "garbage session", path: "/api/v1/whiteboards", token: "garbage", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errAuthFailed)},
		{name: "inactive teacher", path: "/api/v1/whiteboards", token: f.session(t, inactive), wantCode: http.StatusUnauthorized},
		{name: "student", path: "/api/v1/whiteboards", token: f.session(t, student), wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "board of another teacher", path: "/api/v1/whiteboards/" + other.ID + "/status", token: session, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "unknown board", path: "/api/v1/whiteboards/unknown/status", token: session, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "whiteboard not found"})},
		{name: "own board", path: "/api/v1/whiteboards/" + wb.ID + "/status", token: session, wantCode: http.StatusOK},
	}
	runHTTPTests(t, f, tests)
}

func TestDashboardAPI_classesAndWhiteboards(t *testing.T) {
	f := setup(t)
	teacher := testutil.CreateTeacher(t, f.repos.Users, "teacher")
	_, other := f.board(t, "other")
	session := f.session(t, teacher)

	rec := f.serve(newAuthRequest(http.MethodPost, "/api/v1/classes", session, []byte(`{"name":""}`)))
	checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: []byte(`{"name":"this field is required"}`)}, rec)

	rec = f.serve(newAuthRequest(http.MethodPost, "/api/v1/classes", session, []byte(`{"name":" Grade 5 ","description":"math"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cls class.Class
	decode(t, rec, &cls)
	assert.Equal(t, "Grade 5", cls.Name)
	assert.Equal(t, teacher.ID, cls.TeacherID)
	assert.Len(t, cls.Code, credential.ClassCodeLength)

	rec = f.serve(newAuthRequest(http.MethodPost, "/api/v1/classes/"+other.ClassID+"/whiteboards", session, []byte(`{"name":"Intruder"}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.serve(newAuthRequest(http.MethodPost, "/api/v1/classes/"+cls.ID+"/whiteboards", session, []byte(`{"name":"Front"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created echoapi.BoardCredentials
	decode(t, rec, &created)
	assert.Equal(t, "Front", created.Name)
	assert.Regexp(t, `^[A-Z0-9]{8}$`, created.BoardID)
	assert.Len(t, created.SecretKey, credential.SecretKeyLength)
	assert.Equal(t, "Grade 5", created.ClassName)
	assert.False(t, created.IsOnline)

	rec = f.serve(newAuthRequest(http.MethodGet, "/api/v1/whiteboards", session))
	require.Equal(t, http.StatusOK, rec.Code)
	var boards []echoapi.BoardCredentials
	decode(t, rec, &boards)
	require.Len(t, boards, 1)
	assert.Equal(t, created.ID, boards[0].ID)

	rec = f.serve(newAuthRequest(http.MethodGet, "/api/v1/classes", session))
	require.Equal(t, http.StatusOK, rec.Code)
	var classes []class.Class
	decode(t, rec, &classes)
	require.Len(t, classes, 1)

	// deleting the class removes its boards
	rec = f.serve(newAuthRequest(http.MethodDelete, "/api/v1/classes/"+cls.ID, session))
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err := f.whiteboards.GetByID(context.Background(), created.ID)
	assert.Equal(t, whiteboard.ErrNotFound, err)
}

func TestDashboardAPI_statusHistory(t *testing.T) {
	f := setup(t)
	teacher, wb := f.board(t, "teacher")
	session := f.session(t, teacher)
	path := "/api/v1/whiteboards/" + wb.ID + "/status-history"

	f.serve(boardRequest(http.MethodPost, "/api/whiteboard/heartbeat", wb))
	f.serve(boardRequest(http.MethodPost, "/api/whiteboard/heartbeat", wb))

	today := time.Now().In(f.conf.Presence.Location()).Format("2006-01-02")
	yesterday := time.Now().In(f.conf.Presence.Location()).AddDate(0, 0, -1).Format("2006-01-02")

	tests := []httpTest{
		{name: "missing date", path: path, token: session, wantCode: http.StatusBadRequest, wantData: []byte(`{"date":"this field is required"}`)},
		{name: "bad date", path: path + "?date=01/03/2024", token: session, wantCode: http.StatusBadRequest, wantData: []byte(`{"date":"date must use the YYYY-MM-DD format"}`)},
		{
			name: "no rows", path: path + "?date=" + yesterday, token: session, wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.HistoryResponse{Success: true, Date: yesterday, Data: []whiteboard.StatusHistory{}}),
		},
	}
	runHTTPTests(t, f, tests)

	rec := f.serve(newAuthRequest(http.MethodGet, path+"?date="+today, session))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp echoapi.HistoryResponse
	decode(t, rec, &resp)
	require.Len(t, resp.Data, 2)
	for _, h := range resp.Data {
		assert.Equal(t, wb.ID, h.WhiteboardID)
		assert.True(t, h.IsOnline)
	}
}

func TestDashboardAPI_tokens(t *testing.T) {
	f := setup(t)
	teacher, wb := f.board(t, "teacher")
	session := f.session(t, teacher)
	base := "/api/v1/whiteboards/" + wb.ID

	tokenOf := func(path string) string {
		rec := f.serve(newAuthRequest(http.MethodPost, base+path, session))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp echoapi.BoardTokenResponse
		decode(t, rec, &resp)
		assert.Equal(t, wb.ID, resp.WhiteboardID)
		require.NotEmpty(t, resp.Token)
		return resp.Token
	}

	first := tokenOf("/token")
	assert.Equal(t, first, tokenOf("/token"), "an existing token is returned as is")
	reset := tokenOf("/reset-token")
	assert.NotEqual(t, first, reset)
	assert.Equal(t, reset, tokenOf("/token"))

	rec := f.serve(newAuthRequest(http.MethodPost, base+"/reset-secret", session))
	require.Equal(t, http.StatusOK, rec.Code)
	var creds echoapi.BoardCredentials
	decode(t, rec, &creds)
	assert.NotEqual(t, wb.SecretKey, creds.SecretKey)
	assert.Equal(t, wb.BoardID, creds.BoardID)

	rec = f.serve(boardRequest(http.MethodPost, "/api/whiteboard/heartbeat", wb))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "old secret_key")

	rec = f.serve(newAuthRequest(http.MethodDelete, base, session))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.serve(newAuthRequest(http.MethodGet, base, session))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardAPI_malformedIDs(t *testing.T) {
	f := setup(t)
	teacher, _ := f.board(t, "teacher")
	session := f.session(t, teacher)
	wbNotFound := marchallObj(t, httpErr{Error: "whiteboard not found"})
	clsNotFound := marchallObj(t, httpErr{Error: "class not found"})

	tests := []httpTest{
		{name: "get whiteboard", path: "/api/v1/whiteboards/1", token: session, wantCode: http.StatusNotFound, wantData: wbNotFound},
		{name: "delete whiteboard", method: http.MethodDelete, path: "/api/v1/whiteboards/1", token: session, wantCode: http.StatusNotFound, wantData: wbNotFound},
		{name: "whiteboard history", path: "/api/v1/whiteboards/not-a-uuid/status-history", token: session, wantCode: http.StatusNotFound, wantData: wbNotFound},
		{name: "deactivate whiteboard", method: http.MethodPost, path: "/api/v1/whiteboards/1/deactivate", token: session, wantCode: http.StatusNotFound, wantData: wbNotFound},
		{name: "delete class", method: http.MethodDelete, path: "/api/v1/classes/1", token: session, wantCode: http.StatusNotFound, wantData: clsNotFound},
	}
	runHTTPTests(t, f, tests)
}

func TestDashboardAPI_activation(t *testing.T) {
	f := setup(t)
	teacher, wb := f.board(t, "teacher")
	_, other := f.board(t, "other")
	session := f.session(t, teacher)
	base := "/api/v1/whiteboards/" + wb.ID

	setActive := func(path string, want bool) {
		rec := f.serve(newAuthRequest(http.MethodPost, base+path, session))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var creds echoapi.BoardCredentials
		decode(t, rec, &creds)
		assert.Equal(t, want, creds.IsActive)
		assert.Equal(t, wb.SecretKey, creds.SecretKey)
	}

	rec := f.serve(newAuthRequest(http.MethodPost, "/api/v1/whiteboards/"+other.ID+"/deactivate", session))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = f.serve(newRequest(http.MethodPost, base+"/deactivate"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	setActive("/deactivate", false)
	rec = f.serve(boardRequest(http.MethodPost, "/api/whiteboard/heartbeat", wb))
	checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errAuthFailed)}, rec)

	// the owner keeps managing a deactivated board
	rec = f.serve(newAuthRequest(http.MethodGet, base, session))
	require.Equal(t, http.StatusOK, rec.Code)
	var creds echoapi.BoardCredentials
	decode(t, rec, &creds)
	assert.False(t, creds.IsActive)

	setActive("/activate", true)
	rec = f.serve(boardRequest(http.MethodPost, "/api/whiteboard/heartbeat", wb))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDashboardAPI_userToken(t *testing.T) {
	f := setup(t)
	teacher, _ := f.board(t, "teacher")
	session := f.session(t, teacher)

	status := func() echoapi.UserTokenStatus {
		rec := f.serve(newAuthRequest(http.MethodGet, "/api/v1/user-token", session))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp echoapi.UserTokenStatus
		decode(t, rec, &resp)
		return resp
	}
	issue := func() user.IssuedToken {
		rec := f.serve(newAuthRequest(http.MethodPost, "/api/v1/user-token", session))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp user.IssuedToken
		decode(t, rec, &resp)
		require.NotEmpty(t, resp.Token)
		return resp
	}
	boards := func(token string) int {
		req := newRequest(http.MethodGet, "/api/whiteboard/user/whiteboards")
		req.Header.Set(echoapi.HeaderUserToken, token)
		return f.serve(req).Code
	}

	assert.False(t, status().HasToken)

	first := issue()
	st := status()
	assert.True(t, st.HasToken)
	assert.NotNil(t, st.TokenCreatedAt)
	assert.NotContains(t, string(marchallObj(t, st)), first.Token)
	assert.Equal(t, http.StatusOK, boards(first.Token))

	second := issue()
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, http.StatusUnauthorized, boards(first.Token))
	assert.Equal(t, http.StatusOK, boards(second.Token))

	rec := f.serve(newAuthRequest(http.MethodDelete, "/api/v1/user-token", session))
	require.Equal(t, http.StatusNoContent, rec.Code)
	st = status()
	assert.False(t, st.HasToken)
	assert.Nil(t, st.TokenCreatedAt)
	assert.Equal(t, http.StatusUnauthorized, boards(second.Token))
}
